package grader_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fls-grading/portal/internal/grader"
)

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := grader.LoadConfig("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, grader.HostArch(), cfg.Arch)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 20*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grader.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url = "http://file.example"
key = "ak_file.secret"
arch = "aarch64"
command = ["make", "grade"]
timeout = "90s"
poll_interval = "2s"
`), 0o600))

	cfg, err := grader.LoadConfig(path, env(map[string]string{
		"FLS_GRADING_SECRET": "ak_env.secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://file.example", cfg.BaseURL)
	assert.Equal(t, "ak_env.secret", cfg.Key)
	assert.Equal(t, "aarch64", cfg.Arch)
	assert.Equal(t, []string{"make", "grade"}, cfg.Command)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 20*time.Second, cfg.HeartbeatInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := grader.LoadConfig(filepath.Join(t.TempDir(), "nope.toml"), env(nil))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := grader.DefaultConfig()
	cfg.Arch = "riscv64"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL")
	assert.Contains(t, err.Error(), "API key")
	assert.Contains(t, err.Error(), "arch")
	assert.Contains(t, err.Error(), "grading command")
}
