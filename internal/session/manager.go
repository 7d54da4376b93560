// Package session keeps browser logins as opaque cookie tokens backed by the
// sessions table.
package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/secret"
)

// CookieName is the browser cookie carrying the raw session token.
const CookieName = "fls_session"

const tokenBytes = 32

// Manager creates and resolves sessions.
type Manager struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewManager creates a Manager. A nil now uses time.Now.
func NewManager(repo Repository, ttl time.Duration, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{repo: repo, ttl: ttl, now: now}
}

// TTL returns the lifetime of new sessions.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create starts a session for userID and returns the raw token for the cookie.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID) (string, time.Time, error) {
	raw, err := secret.RandomURLSafe(tokenBytes)
	if err != nil {
		return "", time.Time{}, err
	}

	s := &Session{
		UserID:    userID,
		TokenHash: secret.Digest(raw),
		ExpiresAt: m.now().Add(m.ttl),
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return "", time.Time{}, fmt.Errorf("creating session: %w", err)
	}
	return raw, s.ExpiresAt, nil
}

// Resolve returns the user behind a raw token, or ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, ErrNotFound
	}
	s, err := m.repo.GetLive(ctx, secret.Digest(raw), m.now())
	if err != nil {
		return uuid.Nil, err
	}
	return s.UserID, nil
}

// Revoke ends the session identified by raw.
func (m *Manager) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return m.repo.DeleteByHash(ctx, secret.Digest(raw))
}

// Purge deletes expired sessions and returns how many were removed.
func (m *Manager) Purge(ctx context.Context) (int64, error) {
	return m.repo.DeleteExpired(ctx, m.now())
}
