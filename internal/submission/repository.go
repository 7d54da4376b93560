package submission

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a submission record is not found.
var ErrNotFound = errors.New("submission not found")

// ErrAlreadyClaimed is returned when a claim finds the submission absent or
// no longer waiting.
var ErrAlreadyClaimed = errors.New("submission already claimed")

// ErrNotGrading is returned when a resolve targets a submission that is not
// currently being graded.
var ErrNotGrading = errors.New("submission is not being graded")

// ErrNothingToCancel is returned when a cancel finds no grading submission.
// Callers treat it as a no-op.
var ErrNothingToCancel = errors.New("nothing in grading status")

// Repository provides access to the submissions table. Every status change is a
// single conditional update keyed on the expected current status.
type Repository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id int64) (*Submission, error)
	ListPending(ctx context.Context, arch Arch, limit int) ([]Submission, error)
	Claim(ctx context.Context, id int64) (*Submission, error)
	CancelClaim(ctx context.Context, id int64) (*Submission, error)
	Complete(ctx context.Context, id int64, verdict Verdict, logName string) (*Submission, error)
	Grade(ctx context.Context, id int64, verdict Verdict) (*Submission, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Submission, error)
	List(ctx context.Context, filter ListFilter) (*ListResult, error)
	CountWaiting(ctx context.Context, userID uuid.UUID, arch Arch) (int, error)
	ListCompleted(ctx context.Context, userID uuid.UUID, arch Arch) ([]Submission, error)
	Delete(ctx context.Context, id int64) (*Artifacts, error)
}
