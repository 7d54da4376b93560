package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fls-grading/portal/internal/secret"
	"github.com/fls-grading/portal/internal/session"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[string]session.Session
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]session.Session{}} }

func (m *memRepo) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	m.rows[s.TokenHash] = *s
	return nil
}

func (m *memRepo) GetLive(_ context.Context, hash string, now time.Time) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[hash]
	if !ok || !s.ExpiresAt.After(now) {
		return nil, session.ErrNotFound
	}
	return &s, nil
}

func (m *memRepo) DeleteByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, hash)
	return nil
}

func (m *memRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, s := range m.rows {
		if !s.ExpiresAt.After(now) {
			delete(m.rows, h)
			n++
		}
	}
	return n, nil
}

func TestManager_CreateAndResolve(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m := session.NewManager(repo, time.Hour, func() time.Time { return now })
	userID := uuid.New()

	raw, expires, err := m.Create(context.Background(), userID)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, now.Add(time.Hour), expires)
	assert.Equal(t, time.Hour, m.TTL())

	_, stored := repo.rows[raw]
	assert.False(t, stored, "raw token must not be stored")
	_, stored = repo.rows[secret.Digest(raw)]
	assert.True(t, stored)

	got, err := m.Resolve(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestManager_ResolveExpired(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	m := session.NewManager(newMemRepo(), time.Minute, func() time.Time { return *clock })

	raw, _, err := m.Create(context.Background(), uuid.New())
	require.NoError(t, err)

	later := now.Add(time.Minute)
	clock = &later
	_, err = m.Resolve(context.Background(), raw)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestManager_ResolveEmpty(t *testing.T) {
	m := session.NewManager(newMemRepo(), time.Minute, nil)

	_, err := m.Resolve(context.Background(), "  ")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestManager_Revoke(t *testing.T) {
	m := session.NewManager(newMemRepo(), time.Hour, nil)
	raw, _, err := m.Create(context.Background(), uuid.New())
	require.NoError(t, err)

	require.NoError(t, m.Revoke(context.Background(), raw))
	_, err = m.Resolve(context.Background(), raw)
	assert.ErrorIs(t, err, session.ErrNotFound)

	assert.NoError(t, m.Revoke(context.Background(), ""))
}

func TestManager_Purge(t *testing.T) {
	repo := newMemRepo()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	m := session.NewManager(repo, time.Hour, func() time.Time { return clock })

	_, _, err := m.Create(context.Background(), uuid.New())
	require.NoError(t, err)
	clock = now.Add(30 * time.Minute)
	_, _, err = m.Create(context.Background(), uuid.New())
	require.NoError(t, err)

	clock = now.Add(time.Hour)
	n, err := m.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, repo.rows, 1)
}
