package grader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// Job describes one claimed submission laid out on disk.
type Job struct {
	SubmissionID int64
	Arch         string
	SrcDir       string
	OutDir       string
}

// Runner grades an extracted submission, writing its output to log. A nil
// error with passed=false is a failing verdict; a non-nil error means the
// grader itself could not do its job.
type Runner interface {
	Run(ctx context.Context, job Job, log io.Writer) (passed bool, err error)
}

// CommandRunner runs an external command in the submission's source tree.
// Exit status 0 passes.
type CommandRunner struct {
	Command []string
	Timeout time.Duration
}

// Run implements Runner.
func (c CommandRunner) Run(ctx context.Context, job Job, log io.Writer) (bool, error) {
	if len(c.Command) == 0 {
		return false, errors.New("no grading command configured")
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Command[0], c.Command[1:]...)
	cmd.Dir = job.SrcDir
	cmd.Stdout = log
	cmd.Stderr = log
	cmd.WaitDelay = 5 * time.Second
	cmd.Env = append(os.Environ(),
		"FLS_SUBMISSION_ID="+strconv.FormatInt(job.SubmissionID, 10),
		"FLS_ARCH="+job.Arch,
		"FLS_OUT_DIR="+job.OutDir,
	)

	err := cmd.Run()
	if err == nil {
		return true, nil
	}

	// Shutdown is not the student's fault.
	if ctx.Err() != nil {
		return false, fmt.Errorf("grading interrupted: %w", ctx.Err())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		fmt.Fprintf(log, "\n--- grading timed out after %s ---\n", c.Timeout)
		return false, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		fmt.Fprintf(log, "\n--- grading command exited with status %d ---\n", exitErr.ExitCode())
		return false, nil
	}

	return false, fmt.Errorf("running grading command: %w", err)
}
