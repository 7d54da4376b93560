package credential

import (
	"time"

	"github.com/google/uuid"
)

// APIKey represents a row in the api_keys table.
type APIKey struct {
	ID         string // public identifier, embedded in the raw credential
	UserID     uuid.UUID
	SecretHash string
	Name       *string
	RevokedAt  *time.Time
	LastPingAt *time.Time
	IsGrading  bool
	CreatedAt  time.Time

	// Joined from users, not stored in api_keys.
	OwnerEmail   string
	OwnerIsAdmin bool
}

// MagicLinkToken represents a row in the magic_link_tokens table.
type MagicLinkToken struct {
	TokenHash string
	Email     string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// WorkerIdentity is the result of a successful API key verification.
type WorkerIdentity struct {
	KeyID   string
	UserID  uuid.UUID
	IsAdmin bool
}

// Requester identifies who is asking the credential store to act.
type Requester struct {
	UserID  uuid.UUID
	IsAdmin bool
}
