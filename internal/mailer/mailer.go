// Package mailer delivers plain-text messages, either over SMTP or to the log
// when no SMTP relay is configured.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/wneessen/go-mail"
)

var tokenParam = regexp.MustCompile(`token=[^&\s]+`)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP sends mail through an authenticated relay using STARTTLS.
type SMTP struct {
	cfg  SMTPConfig
	opts []mail.Option
}

// NewSMTP creates an SMTP mailer. Credentials are optional; without them the
// relay is used unauthenticated.
func NewSMTP(cfg SMTPConfig) *SMTP {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &SMTP{cfg: cfg, opts: opts}
}

// Send delivers one message. A new connection is dialed per message.
func (s *SMTP) Send(ctx context.Context, to, subject, body string) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("setting sender: %w", err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("setting recipient: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	c, err := mail.NewClient(s.cfg.Host, s.opts...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("sending mail: %w", err)
	}

	slog.Debug("mail sent", "to", to, "subject", subject)
	return nil
}

// Log writes messages to the structured log instead of sending them.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a mailer that logs each message at info level with token
// query values redacted. The unredacted body is logged at debug level.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Send logs the message and always succeeds.
func (l *Log) Send(ctx context.Context, to, subject, body string) error {
	l.logger.InfoContext(ctx, "mail not sent, no SMTP relay configured",
		"to", to, "subject", subject, "body", tokenParam.ReplaceAllString(body, "token=REDACTED"))
	l.logger.DebugContext(ctx, "unsent mail body", "to", to, "body", body)
	return nil
}
