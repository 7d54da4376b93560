package grader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds worker settings. It is read from a TOML file, then
// overridden by the environment, then by command-line flags.
type Config struct {
	BaseURL           string        `toml:"base_url"`
	Key               string        `toml:"key"`
	Arch              string        `toml:"arch"`
	WorkDir           string        `toml:"work_dir"`
	Command           []string      `toml:"command"`
	Timeout           time.Duration `toml:"timeout"`
	PollInterval      time.Duration `toml:"poll_interval"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval"`
	LogLevel          string        `toml:"log_level"`
	LogFormat         string        `toml:"log_format"`
}

// DefaultConfig returns the settings used when nothing overrides them.
func DefaultConfig() Config {
	return Config{
		Arch:              HostArch(),
		WorkDir:           filepath.Join(os.TempDir(), "fls-grader"),
		Timeout:           10 * time.Minute,
		PollInterval:      5 * time.Second,
		HeartbeatInterval: 20 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadConfig reads path on top of the defaults. An empty path skips the
// file. FLS_GRADING_BASEURL and FLS_GRADING_SECRET override the file.
func LoadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if v := getenv("FLS_GRADING_BASEURL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv("FLS_GRADING_SECRET"); v != "" {
		cfg.Key = v
	}

	return cfg, nil
}

// Validate checks that the worker can run with cfg.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required"))
	}
	if c.Key == "" {
		errs = append(errs, errors.New("API key is required"))
	}
	if c.Arch != "x86_64" && c.Arch != "aarch64" {
		errs = append(errs, fmt.Errorf("arch must be x86_64 or aarch64, got %q", c.Arch))
	}
	if len(c.Command) == 0 {
		errs = append(errs, errors.New("grading command is required"))
	}
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work directory is required"))
	}
	if c.PollInterval <= 0 || c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("poll and heartbeat intervals must be positive"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// HostArch maps GOARCH to the architecture names submissions use.
func HostArch() string {
	switch runtime.GOARCH {
	case "arm64":
		return "aarch64"
	default:
		return "x86_64"
	}
}
