package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	specpkg "github.com/fls-grading/portal/api"
	"github.com/fls-grading/portal/internal/access"
	"github.com/fls-grading/portal/internal/admission"
	"github.com/fls-grading/portal/internal/api"
	"github.com/fls-grading/portal/internal/api/handler"
	"github.com/fls-grading/portal/internal/artifact"
	"github.com/fls-grading/portal/internal/config"
	"github.com/fls-grading/portal/internal/credential"
	"github.com/fls-grading/portal/internal/database"
	"github.com/fls-grading/portal/internal/janitor"
	"github.com/fls-grading/portal/internal/logging"
	"github.com/fls-grading/portal/internal/mailer"
	"github.com/fls-grading/portal/internal/session"
	"github.com/fls-grading/portal/internal/submission"
	"github.com/fls-grading/portal/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat))

	deadline, _ := cfg.Deadline() // validated by Load

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db.Pool()); err != nil {
		slog.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	files, err := artifact.New(cfg.FilesDir)
	if err != nil {
		slog.Error("failed to open artifact store", "dir", cfg.FilesDir, "error", err)
		os.Exit(1)
	}

	userRepo := user.NewRepository(db.Pool())
	subRepo := submission.NewRepository(db.Pool())
	sessions := session.NewManager(session.NewRepository(db.Pool()), cfg.SessionTTL, nil)

	creds := credential.NewService(
		credential.NewKeyRepository(db.Pool()),
		credential.NewMagicLinkRepository(db.Pool()),
		userRepo,
		newMailer(cfg),
		credential.Options{
			BootstrapEmail: cfg.BootstrapAdminEmail,
			BaseURL:        cfg.BaseURL,
			BcryptCost:     cfg.BcryptCost,
			LivenessWindow: cfg.WorkerLivenessWindow,
		},
	)

	subs := submission.NewService(subRepo, files, userRepo, creds)
	admit := admission.New(subRepo, files, userRepo, admission.Options{Deadline: deadline})
	guard := access.NewGuard(creds, sessions, userRepo, creds.IsBootstrapAdmin)

	router := api.NewRouter(api.RouterDeps{
		Guard:       guard,
		DBPinger:    db,
		Version:     cfg.Version,
		OpenAPISpec: specpkg.OpenAPISpec,
		Grader:      handler.NewGraderHandler(subs, creds),
		Auth:        handler.NewAuthHandler(creds, sessions, userRepo, cfg.SecureCookies()),
		Submissions: handler.NewSubmissionHandler(admit, subs),
		Admin:       handler.NewAdminHandler(userRepo, subs, creds, admit),
	})

	go janitor.New(sessions, cfg.SessionPurgeInterval).Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting portal server", "port", cfg.Port, "version", cfg.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-serverErr:
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped gracefully")
}

func newMailer(cfg *config.Config) credential.Mailer {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST not set; login links will be written to the log")
		return mailer.NewLog(slog.Default())
	}
	return mailer.NewSMTP(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
}
