package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/workos/workos-go/v6/pkg/usermanagement"

	"docuchat.app/engine/common/id"
	"docuchat.app/engine/core/config"
	"docuchat.app/engine/internal/model"
	"docuchat.app/engine/internal/store"
)

var (
	ErrInvalidCode    = errors.New("invalid authorization code")
	ErrUserNotFound   = errors.New("user not found")
	ErrSessionExpired = errors.New("session expired")
)

const sessionDuration = 7 * 24 * time.Hour

// AuthService handles login via WorkOS AuthKit and server-side sessions.
type AuthService struct {
	cfg      config.WorkOSConfig
	users    *store.UserStore
	sessions *store.SessionStore
}

func NewAuthService(cfg config.WorkOSConfig, users *store.UserStore, sessions *store.SessionStore) *AuthService {
	usermanagement.SetAPIKey(cfg.APIKey)
	return &AuthService{cfg: cfg, users: users, sessions: sessions}
}

// LoginURL builds the AuthKit authorization URL for the given CSRF state.
func (s *AuthService) LoginURL(state string) (string, error) {
	url, err := usermanagement.GetAuthorizationURL(usermanagement.GetAuthorizationURLOpts{
		ClientID:    s.cfg.ClientID,
		RedirectURI: s.cfg.RedirectURI,
		State:       state,
		Provider:    "authkit",
	})
	if err != nil {
		return "", fmt.Errorf("building authorization url: %w", err)
	}
	return url.String(), nil
}

// HandleCallback exchanges the authorization code, upserts the local user,
// and opens a new session.
func (s *AuthService) HandleCallback(ctx context.Context, code string) (*model.User, *model.Session, error) {
	resp, err := usermanagement.AuthenticateWithCode(ctx, usermanagement.AuthenticateWithCodeOpts{
		ClientID: s.cfg.ClientID,
		Code:     code,
	})
	if err != nil {
		slog.WarnContext(ctx, "code exchange failed", "error", err)
		return nil, nil, ErrInvalidCode
	}

	workosID := resp.User.ID
	var avatarURL *string
	if resp.User.ProfilePictureURL != "" {
		avatarURL = &resp.User.ProfilePictureURL
	}

	user, err := s.users.Upsert(ctx, &model.User{
		ID:        id.New(),
		Name:      buildUserName(resp.User.FirstName, resp.User.LastName, resp.User.Email),
		Email:     resp.User.Email,
		AvatarURL: avatarURL,
		WorkOSID:  &workosID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("upserting user: %w", err)
	}

	session := &model.Session{
		ID:        id.New(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(sessionDuration),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("creating session: %w", err)
	}

	slog.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return user, session, nil
}

// ValidateSession resolves a session cookie to its user, rejecting expired
// sessions.
func (s *AuthService) ValidateSession(ctx context.Context, sessionID int64) (*model.User, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	if time.Now().After(session.ExpiresAt) {
		_ = s.sessions.Delete(ctx, session.ID)
		return nil, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}

	return user, nil
}

func (s *AuthService) Logout(ctx context.Context, sessionID int64) error {
	return s.sessions.Delete(ctx, sessionID)
}

func buildUserName(firstName, lastName, email string) string {
	name := strings.TrimSpace(firstName + " " + lastName)
	if name == "" {
		return email
	}
	return name
}
