package submission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fls-grading/portal/internal/submission"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to submission.Status
		want     bool
	}{
		{submission.StatusWaiting, submission.StatusGrading, true},
		{submission.StatusGrading, submission.StatusCompleted, true},
		{submission.StatusGrading, submission.StatusWaiting, true},
		{submission.StatusWaiting, submission.StatusCompleted, false},
		{submission.StatusCompleted, submission.StatusWaiting, false},
		{submission.StatusCompleted, submission.StatusGrading, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParseArch(t *testing.T) {
	arch, err := submission.ParseArch("aarch64")
	assert.NoError(t, err)
	assert.Equal(t, submission.ArchAArch64, arch)

	_, err = submission.ParseArch("riscv64")
	assert.ErrorIs(t, err, submission.ErrInvalidArch)
}

func TestParseVerdict(t *testing.T) {
	v, err := submission.ParseVerdict("")
	assert.NoError(t, err)
	assert.False(t, v.Decided())

	_, err = submission.ParseVerdict("maybe")
	assert.ErrorIs(t, err, submission.ErrInvalidVerdict)

	assert.Equal(t, submission.VerdictPass, submission.VerdictFromPassed(true))
	assert.True(t, submission.VerdictFromPassed(false).Decided())
}
