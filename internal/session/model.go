package session

import (
	"time"

	"github.com/google/uuid"
)

// Session represents a row in the sessions table. The raw token is never stored.
type Session struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}
