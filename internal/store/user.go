package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"docuchat.app/engine/core/db"
	"docuchat.app/engine/internal/model"
)

type UserStore struct {
	db *db.DB
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT id, name, email, avatar_url, workos_id, created_at, updated_at
		FROM users
		WHERE id = $1`, id)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting user by id: %w", err)
	}

	return user, nil
}

func (s *UserStore) GetByWorkOSID(ctx context.Context, workosID string) (*model.User, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT id, name, email, avatar_url, workos_id, created_at, updated_at
		FROM users
		WHERE workos_id = $1`, workosID)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting user by workos id: %w", err)
	}

	return user, nil
}

// Upsert creates a user keyed by WorkOS ID, or refreshes name/email/avatar on
// subsequent logins.
func (s *UserStore) Upsert(ctx context.Context, user *model.User) (*model.User, error) {
	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO users (id, name, email, avatar_url, workos_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (workos_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			avatar_url = EXCLUDED.avatar_url,
			updated_at = now()
		RETURNING id, name, email, avatar_url, workos_id, created_at, updated_at`,
		user.ID, user.Name, user.Email, user.AvatarURL, user.WorkOSID)

	saved, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	return saved, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.AvatarURL, &u.WorkOSID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
