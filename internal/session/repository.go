package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no live session matches a token.
var ErrNotFound = errors.New("session not found or expired")

// Repository provides operations on the sessions table.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	// GetLive returns the session for tokenHash if it has not expired at now.
	GetLive(ctx context.Context, tokenHash string, now time.Time) (*Session, error)
	DeleteByHash(ctx context.Context, tokenHash string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
