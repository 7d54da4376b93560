package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/fls-grading/portal/internal/grader"
	"github.com/fls-grading/portal/internal/graderclient"
	"github.com/fls-grading/portal/internal/logging"
)

func main() {
	configPath := pflag.StringP("config", "c", os.Getenv("FLS_GRADING_CONFIG"), "path to the worker TOML config")
	baseURL := pflag.String("base-url", "", "portal base URL")
	arch := pflag.String("arch", "", "architecture to grade (x86_64 or aarch64)")
	workDir := pflag.String("work-dir", "", "directory for job scratch space")
	command := pflag.StringSlice("command", nil, "grading command and arguments, comma separated")
	timeout := pflag.Duration("timeout", 0, "grading command timeout")
	pollInterval := pflag.Duration("poll-interval", 0, "delay between polls when idle")
	logLevel := pflag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := pflag.String("log-format", "", "log format (json or text)")
	pflag.Parse()

	cfg, err := grader.LoadConfig(*configPath, os.Getenv)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	overrides := map[*string]*string{
		baseURL:   &cfg.BaseURL,
		arch:      &cfg.Arch,
		workDir:   &cfg.WorkDir,
		logLevel:  &cfg.LogLevel,
		logFormat: &cfg.LogFormat,
	}
	for flag, field := range overrides {
		if *flag != "" {
			*field = *flag
		}
	}
	if len(*command) > 0 {
		cfg.Command = *command
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *pollInterval > 0 {
		cfg.PollInterval = *pollInterval
	}

	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := graderclient.New(cfg.BaseURL, cfg.Key, nil)
	runner := grader.CommandRunner{Command: cfg.Command, Timeout: cfg.Timeout}

	grader.New(client, runner, cfg).Start(ctx)
}
