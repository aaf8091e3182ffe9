package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"docuchat.app/engine/core/db"
	"docuchat.app/engine/internal/model"
)

type DocumentStore struct {
	db *db.DB
}

func (s *DocumentStore) Create(ctx context.Context, doc *model.Document) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO documents (id, owner_user_id, filename, content_type, text, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())`,
		doc.ID, doc.OwnerUserID, doc.Filename, doc.ContentType, doc.Text, doc.Status)
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}
	return nil
}

func (s *DocumentStore) GetByID(ctx context.Context, id string) (*model.Document, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT id, owner_user_id, filename, content_type, text, status, created_at, updated_at
		FROM documents
		WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting document: %w", err)
	}

	return doc, nil
}

// GetOwned fetches a document only if it belongs to the given user.
// A document owned by someone else is indistinguishable from a missing one.
func (s *DocumentStore) GetOwned(ctx context.Context, id, ownerUserID string) (*model.Document, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT id, owner_user_id, filename, content_type, text, status, created_at, updated_at
		FROM documents
		WHERE id = $1 AND owner_user_id = $2`, id, ownerUserID)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting owned document: %w", err)
	}

	return doc, nil
}

func (s *DocumentStore) ListByOwner(ctx context.Context, ownerUserID string) ([]*model.Document, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, owner_user_id, filename, content_type, text, status, created_at, updated_at
		FROM documents
		WHERE owner_user_id = $1
		ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// FilenamesByIDs returns a docId -> filename map for the given documents.
// Unknown IDs are simply absent from the result.
func (s *DocumentStore) FilenamesByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}

	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, filename FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching filenames: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string, len(ids))
	for rows.Next() {
		var id, filename string
		if err := rows.Scan(&id, &filename); err != nil {
			return nil, fmt.Errorf("scanning filename: %w", err)
		}
		names[id] = filename
	}

	return names, rows.Err()
}

func (s *DocumentStore) UpdateStatus(ctx context.Context, id, status string) error {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.OwnerUserID, &d.Filename, &d.ContentType, &d.Text, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
