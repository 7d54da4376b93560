package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/artifact"
	"github.com/fls-grading/portal/internal/secret"
)

// PendingPageSize bounds how many waiting submissions a worker sees per poll.
const PendingPageSize = 10

// Files is the artifact store the service reads and writes.
type Files interface {
	Create(bucket artifact.Bucket, name string, r io.Reader) (int64, error)
	Open(bucket artifact.Bucket, name string) (io.ReadCloser, error)
	Remove(bucket artifact.Bucket, name string) error
	Rename(bucket artifact.Bucket, from, to string) error
}

// PassMarker records that a user passed. It must never record a fail.
type PassMarker interface {
	MarkPassed(ctx context.Context, userID uuid.UUID) error
}

// Liveness records worker key activity.
type Liveness interface {
	Heartbeat(ctx context.Context, keyID string, grading bool) error
}

// Service coordinates the submission lifecycle between workers, students, and admins.
type Service struct {
	repo     Repository
	files    Files
	passes   PassMarker
	liveness Liveness
}

// NewService creates a new submission Service.
func NewService(repo Repository, files Files, passes PassMarker, liveness Liveness) *Service {
	return &Service{
		repo:     repo,
		files:    files,
		passes:   passes,
		liveness: liveness,
	}
}

// Get returns a single submission.
func (s *Service) Get(ctx context.Context, id int64) (*Submission, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByUser returns a user's submissions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Submission, error) {
	return s.repo.ListByUser(ctx, userID)
}

// List returns a filtered, paginated view across all users.
func (s *Service) List(ctx context.Context, filter ListFilter) (*ListResult, error) {
	return s.repo.List(ctx, filter)
}

// ListPending returns the oldest waiting submissions for arch. Polling counts
// as a heartbeat for the calling key.
func (s *Service) ListPending(ctx context.Context, keyID string, arch Arch) ([]Submission, error) {
	s.heartbeat(ctx, keyID, false)
	return s.repo.ListPending(ctx, arch, PendingPageSize)
}

// Claim hands a waiting submission to the calling worker. Exactly one of any
// number of concurrent callers succeeds; the rest get ErrAlreadyClaimed.
func (s *Service) Claim(ctx context.Context, keyID string, id int64) (*Submission, error) {
	sub, err := s.repo.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	s.heartbeat(ctx, keyID, true)
	slog.Info("submission claimed", "submissionId", id, "keyId", keyID)
	return sub, nil
}

// CancelClaim puts a grading submission back in the queue. It reports false
// when there was nothing to cancel.
func (s *Service) CancelClaim(ctx context.Context, id int64) (bool, error) {
	_, err := s.repo.CancelClaim(ctx, id)
	if errors.Is(err, ErrNothingToCancel) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	slog.Info("submission claim cancelled", "submissionId", id)
	return true, nil
}

// Resolve records a worker's verdict and log for a grading submission. It
// fails with ErrNotGrading, leaving no trace, when the submission is not
// currently being graded.
func (s *Service) Resolve(ctx context.Context, keyID string, id int64, verdict Verdict, logs io.Reader) (*Submission, error) {
	if !verdict.Decided() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVerdict, verdict)
	}

	name := artifact.LogName(id)
	staged, err := s.stageLog(name, logs)
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.Complete(ctx, id, verdict, name)
	if err != nil {
		if rmErr := s.files.Remove(artifact.Logs, staged); rmErr != nil {
			slog.Warn("failed to remove staged log", "submissionId", id, "error", rmErr)
		}
		return nil, err
	}

	// Only the caller whose Complete succeeded publishes its log.
	if err := s.files.Rename(artifact.Logs, staged, name); err != nil {
		slog.Error("failed to publish log", "submissionId", id, "error", err)
	}

	if verdict == VerdictPass {
		if err := s.passes.MarkPassed(ctx, sub.UserID); err != nil {
			slog.Error("failed to mark user passed", "submissionId", id, "userId", sub.UserID, "error", err)
		}
	}
	s.heartbeat(ctx, keyID, false)

	slog.Info("submission resolved", "submissionId", id, "verdict", string(verdict), "keyId", keyID)
	return sub, nil
}

// stageLog writes logs under a name private to this call and returns it.
func (s *Service) stageLog(name string, logs io.Reader) (string, error) {
	nonce, err := secret.RandomHex(8)
	if err != nil {
		return "", fmt.Errorf("staging log: %w", err)
	}
	staged := name + "." + nonce + ".part"
	if _, err := s.files.Create(artifact.Logs, staged, logs); err != nil {
		return "", fmt.Errorf("storing log: %w", err)
	}
	return staged, nil
}

// AdminGrade sets a verdict by hand on a grading or completed submission.
// A pass also marks the owner passed; a fail leaves the owner's grade alone.
func (s *Service) AdminGrade(ctx context.Context, id int64, passed bool) (*Submission, error) {
	verdict := VerdictFromPassed(passed)
	sub, err := s.repo.Grade(ctx, id, verdict)
	if err != nil {
		return nil, err
	}
	if verdict == VerdictPass {
		if err := s.passes.MarkPassed(ctx, sub.UserID); err != nil {
			return nil, fmt.Errorf("marking user passed: %w", err)
		}
	}
	slog.Info("submission graded by admin", "submissionId", id, "verdict", string(verdict))
	return sub, nil
}

// OpenTarball streams a submission's uploaded archive. It returns ErrNotFound
// once the archive has been pruned.
func (s *Service) OpenTarball(ctx context.Context, id int64) (io.ReadCloser, *Submission, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sub.Tarball == nil {
		return nil, nil, ErrNotFound
	}
	rc, err := s.open(artifact.Tarballs, *sub.Tarball)
	if err != nil {
		return nil, nil, err
	}
	return rc, sub, nil
}

// OpenLogs streams a graded submission's log.
func (s *Service) OpenLogs(ctx context.Context, id int64) (io.ReadCloser, *Submission, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sub.Logs == nil {
		return nil, nil, ErrNotFound
	}
	rc, err := s.open(artifact.Logs, *sub.Logs)
	if err != nil {
		return nil, nil, err
	}
	return rc, sub, nil
}

func (s *Service) open(bucket artifact.Bucket, name string) (io.ReadCloser, error) {
	rc, err := s.files.Open(bucket, name)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", bucket, err)
	}
	return rc, nil
}

func (s *Service) heartbeat(ctx context.Context, keyID string, grading bool) {
	if keyID == "" || s.liveness == nil {
		return
	}
	if err := s.liveness.Heartbeat(ctx, keyID, grading); err != nil {
		slog.Warn("failed to record worker heartbeat", "keyId", keyID, "error", err)
	}
}
