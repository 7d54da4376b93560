package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/submission"
)

// ErrUserNotFound is returned when a user record is not found.
var ErrUserNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned when a user with the same email already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// Repository provides operations on the users table.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
	SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error
	SetPassed(ctx context.Context, id uuid.UUID, passed bool) error
	MarkPassed(ctx context.Context, id uuid.UUID) error
	SetPreferredArch(ctx context.Context, id uuid.UUID, arch submission.Arch) error
	TouchMagicLinkRequest(ctx context.Context, email string, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) ([]submission.Artifacts, error)
	AddBatch(ctx context.Context, emails []string) (int, error)
	Roster(ctx context.Context) ([]RosterEntry, error)
}
