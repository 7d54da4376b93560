// Package admission decides whether a student's upload becomes a waiting
// submission, and prunes old graded submissions afterwards.
package admission

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/artifact"
	"github.com/fls-grading/portal/internal/submission"
)

const (
	// MaxWaiting is how many waiting submissions a user may have per architecture.
	MaxWaiting = 3
	// MaxPassed is how many passed submissions are retained per user and architecture.
	MaxPassed = 1
	// MaxFailed is how many failed submissions are retained per user and architecture.
	MaxFailed = 3
	// MaxBytes is the largest accepted upload.
	MaxBytes = 5 << 20
	// Suffix is the required upload file name suffix.
	Suffix = ".tar.gz"
)

var (
	ErrTooManyWaiting  = errors.New("too many waiting submissions")
	ErrInvalidArtifact = errors.New("invalid submission artifact")
	ErrInvalidArch     = submission.ErrInvalidArch
	ErrDeadlinePassed  = errors.New("submission deadline has passed")
)

// SubmissionError is a student-facing rejection. Message is safe to show.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string { return e.Message }

func (e *SubmissionError) Unwrap() error { return e.Err }

func reject(err error, format string, args ...any) error {
	return &SubmissionError{Message: fmt.Sprintf(format, args...), Err: err}
}

// PreferenceStore remembers a user's last-used architecture.
type PreferenceStore interface {
	SetPreferredArch(ctx context.Context, userID uuid.UUID, arch submission.Arch) error
}

// Options configures a Controller.
type Options struct {
	Deadline *time.Time // nil means no deadline
	Now      func() time.Time
}

// Controller admits uploads and runs the retention sweep.
type Controller struct {
	repo     submission.Repository
	files    submission.Files
	prefs    PreferenceStore
	deadline *time.Time
	now      func() time.Time
}

// New creates a new admission Controller.
func New(repo submission.Repository, files submission.Files, prefs PreferenceStore, opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		repo:     repo,
		files:    files,
		prefs:    prefs,
		deadline: opts.Deadline,
		now:      opts.Now,
	}
}

// Upload describes an incoming archive.
type Upload struct {
	Arch     string
	Filename string
	Size     int64 // as declared by the transport; -1 if unknown
	Body     io.Reader
}

// Submit validates an upload and records it as a waiting submission owned by
// userID. Every rejection happens before anything is written and is returned
// as a *SubmissionError.
func (c *Controller) Submit(ctx context.Context, userID uuid.UUID, up Upload) (*submission.Submission, error) {
	now := c.now()
	if c.deadline != nil && now.After(*c.deadline) {
		return nil, reject(ErrDeadlinePassed, "The submission deadline has passed.")
	}

	arch, err := submission.ParseArch(up.Arch)
	if err != nil {
		return nil, reject(ErrInvalidArch, "Unsupported architecture %q.", up.Arch)
	}

	waiting, err := c.repo.CountWaiting(ctx, userID, arch)
	if err != nil {
		return nil, fmt.Errorf("counting waiting submissions: %w", err)
	}
	if waiting >= MaxWaiting {
		return nil, reject(ErrTooManyWaiting,
			"You already have %d submissions waiting for %s. Wait for one to be graded before submitting again.",
			waiting, arch)
	}

	data, err := readArchive(up)
	if err != nil {
		return nil, err
	}

	name, err := artifact.TarballName(userID.String(), now, up.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := c.files.Create(artifact.Tarballs, name, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("storing tarball: %w", err)
	}

	if err := c.prefs.SetPreferredArch(ctx, userID, arch); err != nil {
		slog.Warn("failed to remember preferred architecture", "userId", userID, "error", err)
	}

	sub := &submission.Submission{
		UserID:  userID,
		Arch:    arch,
		Tarball: &name,
	}
	if err := c.repo.Create(ctx, sub); err != nil {
		if rmErr := c.files.Remove(artifact.Tarballs, name); rmErr != nil {
			slog.Warn("failed to remove orphaned tarball", "name", name, "error", rmErr)
		}
		return nil, fmt.Errorf("creating submission: %w", err)
	}

	slog.Info("submission created", "submissionId", sub.ID, "userId", userID, "arch", string(arch))

	if _, err := c.Sweep(ctx, userID, arch); err != nil {
		slog.Error("retention sweep failed", "userId", userID, "arch", string(arch), "error", err)
	}

	return sub, nil
}

// Sweep deletes the user's completed submissions for arch beyond the newest
// MaxPassed passes and MaxFailed fails, then removes their files. Row deletion
// is authoritative; file removal errors are only logged.
func (c *Controller) Sweep(ctx context.Context, userID uuid.UUID, arch submission.Arch) (int, error) {
	completed, err := c.repo.ListCompleted(ctx, userID, arch)
	if err != nil {
		return 0, fmt.Errorf("listing completed submissions: %w", err)
	}

	passed, failed := 0, 0
	var evict []int64
	for _, s := range completed {
		switch s.Verdict {
		case submission.VerdictPass:
			passed++
			if passed > MaxPassed {
				evict = append(evict, s.ID)
			}
		case submission.VerdictFail:
			failed++
			if failed > MaxFailed {
				evict = append(evict, s.ID)
			}
		case submission.VerdictUnset:
		}
	}

	deleted := 0
	for _, id := range evict {
		a, err := c.repo.Delete(ctx, id)
		if errors.Is(err, submission.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("deleting submission %d: %w", id, err)
		}
		deleted++
		c.removeArtifacts(a)
	}

	if deleted > 0 {
		slog.Info("retention sweep pruned submissions", "userId", userID, "arch", string(arch), "count", deleted)
	}
	return deleted, nil
}

func (c *Controller) removeArtifacts(a *submission.Artifacts) {
	if a.Tarball != nil {
		if err := c.files.Remove(artifact.Tarballs, *a.Tarball); err != nil {
			slog.Warn("failed to remove tarball", "submissionId", a.ID, "error", err)
		}
	}
	if a.Logs != nil {
		if err := c.files.Remove(artifact.Logs, *a.Logs); err != nil {
			slog.Warn("failed to remove logs", "submissionId", a.ID, "error", err)
		}
	}
}

// RemoveArtifacts deletes the files of already-deleted submission rows.
func (c *Controller) RemoveArtifacts(all []submission.Artifacts) {
	for i := range all {
		c.removeArtifacts(&all[i])
	}
}

// readArchive checks the name, size, and container format of an upload and
// returns its bytes.
func readArchive(up Upload) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(up.Filename), Suffix) {
		return nil, reject(ErrInvalidArtifact, "Submissions must be a %s archive.", Suffix)
	}
	if up.Size > MaxBytes {
		return nil, reject(ErrInvalidArtifact, "Submissions must be at most %d MiB.", MaxBytes>>20)
	}

	data, err := io.ReadAll(io.LimitReader(up.Body, MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if len(data) > MaxBytes {
		return nil, reject(ErrInvalidArtifact, "Submissions must be at most %d MiB.", MaxBytes>>20)
	}
	if len(data) == 0 {
		return nil, reject(ErrInvalidArtifact, "The uploaded file is empty.")
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, reject(ErrInvalidArtifact, "The uploaded file is not gzip-compressed.")
	}
	defer zr.Close()
	if _, err := tar.NewReader(zr).Next(); err != nil {
		return nil, reject(ErrInvalidArtifact, "The uploaded file is not a tar archive.")
	}

	return data, nil
}
