package submission

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusGrading   Status = "grading"
	StatusCompleted Status = "completed"
)

// ErrInvalidStatus is returned when a status value is not one of the known states.
var ErrInvalidStatus = errors.New("invalid submission status")

// ParseStatus converts a raw value into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusWaiting, StatusGrading, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// CanTransition reports whether moving from s to next is a legal edge of the
// lifecycle: waiting->grading, grading->completed, and grading->waiting.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusGrading
	case StatusGrading:
		return next == StatusCompleted || next == StatusWaiting
	case StatusCompleted:
		return false
	}
	return false
}

// Arch is a target architecture a submission is graded on.
type Arch string

const (
	ArchX86_64  Arch = "x86_64"
	ArchAArch64 Arch = "aarch64"
)

// ErrInvalidArch is returned when an architecture value is not supported.
var ErrInvalidArch = errors.New("invalid architecture")

// Arches lists every supported architecture.
func Arches() []Arch {
	return []Arch{ArchX86_64, ArchAArch64}
}

// ParseArch converts a raw value into an Arch.
func ParseArch(s string) (Arch, error) {
	switch Arch(s) {
	case ArchX86_64, ArchAArch64:
		return Arch(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidArch, s)
}

// Verdict is the grading outcome. The zero value means not graded.
type Verdict string

const (
	VerdictUnset Verdict = ""
	VerdictFail  Verdict = "fail"
	VerdictPass  Verdict = "pass"
)

// ErrInvalidVerdict is returned when a verdict value is not recognised.
var ErrInvalidVerdict = errors.New("invalid verdict")

// ParseVerdict converts a raw value into a Verdict. The empty string maps to VerdictUnset.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(s) {
	case VerdictUnset, VerdictFail, VerdictPass:
		return Verdict(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVerdict, s)
}

// VerdictFromPassed maps a pass/fail boolean to a Verdict.
func VerdictFromPassed(passed bool) Verdict {
	if passed {
		return VerdictPass
	}
	return VerdictFail
}

// Decided reports whether v is a final pass or fail outcome.
func (v Verdict) Decided() bool {
	switch v {
	case VerdictPass, VerdictFail:
		return true
	case VerdictUnset:
		return false
	}
	return false
}

// Submission represents a row in the submissions table.
type Submission struct {
	ID        int64
	UserID    uuid.UUID
	Arch      Arch
	Tarball   *string // nil once the artifact has been removed
	Logs      *string // nil until graded
	Verdict   Verdict
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Artifacts names the on-disk files belonging to a deleted submission.
type Artifacts struct {
	ID      int64
	Tarball *string
	Logs    *string
}

// ListFilter holds optional filters and pagination for listing submissions.
type ListFilter struct {
	UserID *uuid.UUID
	Status *Status
	Arch   *Arch
	Page   int // default 1
	Limit  int // default 20
}

// ListResult holds the result of a paginated list query.
type ListResult struct {
	Submissions []Submission
	Total       int
	Page        int
	Limit       int
}
