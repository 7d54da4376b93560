package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port                 int           `envconfig:"PORT" default:"8080"`
	LogLevel             string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat            string        `envconfig:"LOG_FORMAT" default:"json"`
	DatabaseURL          string        `envconfig:"DATABASE_URL" required:"true"`
	FilesDir             string        `envconfig:"FILES_DIR" required:"true"`
	BootstrapAdminEmail  string        `envconfig:"BOOTSTRAP_ADMIN_EMAIL" required:"true"`
	BaseURL              string        `envconfig:"BASE_URL" required:"true"`
	Version              string        `envconfig:"VERSION" default:"dev"`
	BcryptCost           int           `envconfig:"BCRYPT_COST" default:"12"`
	SMTPHost             string        `envconfig:"SMTP_HOST" default:""`
	SMTPPort             int           `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername         string        `envconfig:"SMTP_USERNAME" default:""`
	SMTPPassword         string        `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom             string        `envconfig:"SMTP_FROM" default:""`
	SubmissionDeadline   string        `envconfig:"SUBMISSION_DEADLINE" default:""`
	SessionTTL           time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionPurgeInterval time.Duration `envconfig:"SESSION_PURGE_INTERVAL" default:"1h"`
	WorkerLivenessWindow time.Duration `envconfig:"WORKER_LIVENESS_WINDOW" default:"60s"`
}

// Load reads configuration from environment variables into a Config struct
// and checks the values envconfig cannot.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BASE_URL must start with http:// or https://, got %q", c.BaseURL)
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	if _, err := c.Deadline(); err != nil {
		return err
	}
	return nil
}

// Deadline parses SUBMISSION_DEADLINE. It returns nil when no deadline is set.
func (c *Config) Deadline() (*time.Time, error) {
	if c.SubmissionDeadline == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, c.SubmissionDeadline)
	if err != nil {
		return nil, fmt.Errorf("SUBMISSION_DEADLINE must be RFC3339: %w", err)
	}
	return &t, nil
}

// SecureCookies reports whether session cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}
