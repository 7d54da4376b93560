package credential

import (
	"context"
	"errors"
	"time"

	"github.com/fls-grading/portal/internal/user"
)

// ErrNotFound is returned when an API key does not exist.
var ErrNotFound = errors.New("api key not found")

// ErrDuplicateKeyID is returned when a freshly generated key id collides.
var ErrDuplicateKeyID = errors.New("api key id already exists")

// ErrInvalidOrExpired is returned when a login token is unknown, already used,
// or past its expiry.
var ErrInvalidOrExpired = errors.New("invalid or expired login link")

// APIKeyRepository provides operations on the api_keys table.
type APIKeyRepository interface {
	Create(ctx context.Context, k *APIKey) error
	GetByID(ctx context.Context, id string) (*APIKey, error)
	List(ctx context.Context) ([]APIKey, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	Ping(ctx context.Context, id string, at time.Time, grading bool) error
	ListAvailable(ctx context.Context, since time.Time) ([]APIKey, error)
}

// MagicLinkRepository provides operations on the magic_link_tokens table.
type MagicLinkRepository interface {
	Create(ctx context.Context, t *MagicLinkToken) error
	// Consume marks an unused, unexpired token as used and returns its email.
	// It must be a single conditional update so only one caller can win.
	Consume(ctx context.Context, tokenHash string, at time.Time) (string, error)
}

// UserStore is the subset of the user repository the credential store needs.
type UserStore interface {
	Create(ctx context.Context, u *user.User) error
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	TouchMagicLinkRequest(ctx context.Context, email string, at time.Time) error
}

// Mailer delivers a plain-text message to an address.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}
