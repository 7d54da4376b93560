// Package grader implements the polling worker that claims submissions for
// one architecture, runs the grading command on them, and reports verdicts.
package grader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/graderclient"
)

// reportTimeout bounds the calls made after grading, which must survive
// shutdown of the polling context.
const reportTimeout = 30 * time.Second

// API is the subset of the portal's grading protocol the worker uses.
type API interface {
	ListSubmissions(ctx context.Context, arch string) ([]graderclient.Submission, error)
	Claim(ctx context.Context, id int64) error
	Cancel(ctx context.Context, id int64) (bool, error)
	DownloadTarball(ctx context.Context, id int64, w io.Writer) (int64, error)
	SubmitResult(ctx context.Context, id int64, passed bool, logs io.Reader) error
	GradingHeartbeat(ctx context.Context) error
}

// InfraError marks a failure of the worker or the portal rather than of the
// submission. Submissions that hit one are handed back to the queue.
type InfraError struct {
	Err error
}

func (e *InfraError) Error() string { return "infrastructure failure: " + e.Err.Error() }

func (e *InfraError) Unwrap() error { return e.Err }

func infra(err error) error {
	return &InfraError{Err: err}
}

// Worker polls for and grades submissions.
type Worker struct {
	api    API
	runner Runner
	cfg    Config
}

// New creates a new Worker.
func New(api API, runner Runner, cfg Config) *Worker {
	return &Worker{api: api, runner: runner, cfg: cfg}
}

// Start polls until ctx is cancelled. After grading a submission it polls
// again straight away; otherwise it waits for the next tick.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("grader started", "arch", w.cfg.Arch, "interval", w.cfg.PollInterval.String())
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if !w.RunOnce(ctx) {
			select {
			case <-ctx.Done():
				slog.Info("grader stopped")
				return
			case <-ticker.C:
			}
			continue
		}
		if ctx.Err() != nil {
			slog.Info("grader stopped")
			return
		}
	}
}

// RunOnce lists pending submissions, claims the oldest, and grades it. It
// reports whether a submission was claimed.
func (w *Worker) RunOnce(ctx context.Context) bool {
	subs, err := w.api.ListSubmissions(ctx, w.cfg.Arch)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("failed to list submissions", "error", err)
		}
		return false
	}
	if len(subs) == 0 {
		slog.Debug("no submissions available")
		return false
	}

	sub := subs[0]
	if err := w.api.Claim(ctx, sub.ID); err != nil {
		if errors.Is(err, graderclient.ErrAlreadyClaimed) {
			slog.Info("submission already claimed", "submission_id", sub.ID)
		} else {
			slog.Error("failed to claim submission", "submission_id", sub.ID, "error", err)
		}
		return false
	}

	slog.Info("claimed submission", "submission_id", sub.ID, "user_id", sub.UserID)
	w.process(ctx, sub)
	return true
}

func (w *Worker) process(ctx context.Context, sub graderclient.Submission) {
	jobDir := filepath.Join(w.cfg.WorkDir, "jobs", uuid.NewString())
	defer func() {
		if err := os.RemoveAll(jobDir); err != nil {
			slog.Warn("failed to clean up job directory", "dir", jobDir, "error", err)
		}
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx)

	// Reporting outlives ctx so a shutdown mid-grade still requeues.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	logFile, passed, err := w.grade(ctx, sub, jobDir)
	if logFile != nil {
		defer logFile.Close()
	}

	var infraErr *InfraError
	switch {
	case errors.As(err, &infraErr):
		slog.Error("infrastructure error, cancelling claim", "submission_id", sub.ID, "error", err)
		w.cancel(reportCtx, sub.ID)
		return
	case err != nil:
		slog.Error("unexpected error during grading", "submission_id", sub.ID, "error", err)
		fmt.Fprintf(logFile, "\n--- grader error ---\n%v\n", err)
		passed = false
	}

	if _, err := logFile.Seek(0, io.SeekStart); err != nil {
		slog.Error("failed to rewind grading log", "submission_id", sub.ID, "error", err)
		w.cancel(reportCtx, sub.ID)
		return
	}

	if err := w.api.SubmitResult(reportCtx, sub.ID, passed, logFile); err != nil {
		slog.Error("failed to submit result, cancelling claim", "submission_id", sub.ID, "error", err)
		w.cancel(reportCtx, sub.ID)
		return
	}

	slog.Info("submitted result", "submission_id", sub.ID, "passed", passed)
}

// grade prepares the job directory, fetches and unpacks the archive, and runs
// the grader. The returned log file is nil only alongside an InfraError.
func (w *Worker) grade(ctx context.Context, sub graderclient.Submission, jobDir string) (*os.File, bool, error) {
	job := Job{
		SubmissionID: sub.ID,
		Arch:         sub.Arch,
		SrcDir:       filepath.Join(jobDir, "src"),
		OutDir:       filepath.Join(jobDir, "out"),
	}
	tarDir := filepath.Join(jobDir, "tarball")

	for _, dir := range []string{tarDir, job.SrcDir, job.OutDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, false, infra(fmt.Errorf("creating job directory: %w", err))
		}
	}

	logFile, err := os.OpenFile(filepath.Join(jobDir, "logs.txt"), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, false, infra(fmt.Errorf("creating log file: %w", err))
	}

	tarPath := filepath.Join(tarDir, "submission.tar.gz")
	if err := w.download(ctx, sub.ID, tarPath); err != nil {
		return logFile, false, infra(err)
	}

	tarball, err := os.Open(tarPath)
	if err != nil {
		return logFile, false, infra(fmt.Errorf("opening tarball: %w", err))
	}
	defer tarball.Close()

	if err := Extract(tarball, job.SrcDir); err != nil {
		return logFile, false, fmt.Errorf("extracting submission: %w", err)
	}

	passed, err := w.runner.Run(ctx, job, logFile)
	if err != nil {
		return logFile, false, infra(err)
	}
	return logFile, passed, nil
}

func (w *Worker) download(ctx context.Context, id int64, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating tarball file: %w", err)
	}
	_, err = w.api.DownloadTarball(ctx, id, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("downloading tarball: %w", err)
	}
	return nil
}

func (w *Worker) cancel(ctx context.Context, id int64) {
	cancelled, err := w.api.Cancel(ctx, id)
	if err != nil {
		slog.Error("failed to cancel submission", "submission_id", id, "error", err)
		return
	}
	slog.Info("cancelled submission", "submission_id", id, "cancelled", cancelled)
}

// heartbeat tells the portal this worker is busy until ctx is cancelled.
func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if err := w.api.GradingHeartbeat(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("grading heartbeat failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
