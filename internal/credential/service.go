package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fls-grading/portal/internal/secret"
	"github.com/fls-grading/portal/internal/user"
)

const (
	// KeyPrefix starts every raw worker credential.
	KeyPrefix = "ak_"

	// MagicLinkTTL is how long an issued login link stays valid.
	MagicLinkTTL = 15 * time.Minute
	// ResendCooldown is the minimum gap between two login-link requests for one email.
	ResendCooldown = 2 * time.Minute

	keyIDBytes     = 8
	keySecretBytes = 32
	tokenBytes     = 32
	maxIDAttempts  = 5

	magicLinkSubject = "Submission portal sign-in link"
)

var (
	// ErrMalformedCredential is returned when a raw API key lacks the prefix or separator.
	ErrMalformedCredential = errors.New("malformed API key")
	// ErrUnauthorized is returned when an API key is unknown, revoked, or has the wrong secret.
	ErrUnauthorized = errors.New("invalid or revoked API key")
	// ErrForbidden is returned when a non-admin requester tries to issue a key.
	ErrForbidden = errors.New("admin privileges required")
	// ErrNotRegistered is returned when a login link is requested for an unknown email.
	ErrNotRegistered = errors.New("email is not registered")
	// ErrRateLimited is returned when a login link was requested too recently.
	ErrRateLimited = errors.New("login link requested too recently")
	// ErrDeliveryFailed is returned when the login link could not be delivered.
	// The issued token stays valid.
	ErrDeliveryFailed = errors.New("login link delivery failed")
	// ErrUserGone is returned when a confirmed link's user was deleted after issuance.
	ErrUserGone = errors.New("user no longer exists")
)

// Options configures a Service.
type Options struct {
	BootstrapEmail string
	BaseURL        string
	BcryptCost     int
	LivenessWindow time.Duration
	Now            func() time.Time
}

// Service issues and verifies worker API keys and human login links.
type Service struct {
	keys   APIKeyRepository
	links  MagicLinkRepository
	users  UserStore
	mailer Mailer

	bootstrapEmail string
	baseURL        string
	bcryptCost     int
	liveness       time.Duration
	now            func() time.Time
}

// NewService creates a new credential Service.
func NewService(keys APIKeyRepository, links MagicLinkRepository, users UserStore, mailer Mailer, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.LivenessWindow == 0 {
		opts.LivenessWindow = time.Minute
	}
	return &Service{
		keys:           keys,
		links:          links,
		users:          users,
		mailer:         mailer,
		bootstrapEmail: user.NormalizeEmail(opts.BootstrapEmail),
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		bcryptCost:     opts.BcryptCost,
		liveness:       opts.LivenessWindow,
		now:            opts.Now,
	}
}

// IsBootstrapAdmin reports whether email is the configured bootstrap admin address.
func (s *Service) IsBootstrapAdmin(email string) bool {
	return s.bootstrapEmail != "" && user.NormalizeEmail(email) == s.bootstrapEmail
}

// IssueAPIKey creates a worker key owned by the requester. The raw credential
// is returned once and cannot be recovered later.
func (s *Service) IssueAPIKey(ctx context.Context, req Requester, name string) (string, *APIKey, error) {
	if !req.IsAdmin {
		return "", nil, ErrForbidden
	}

	rawSecret, err := secret.RandomURLSafe(keySecretBytes)
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawSecret), s.bcryptCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key secret: %w", err)
	}

	var displayName *string
	if name = strings.TrimSpace(name); name != "" {
		displayName = &name
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := secret.RandomHex(keyIDBytes)
		if err != nil {
			return "", nil, err
		}

		k := &APIKey{
			ID:         id,
			UserID:     req.UserID,
			SecretHash: string(hash),
			Name:       displayName,
		}
		err = s.keys.Create(ctx, k)
		if errors.Is(err, ErrDuplicateKeyID) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("creating api key: %w", err)
		}

		slog.Info("api key issued", "keyId", id, "userId", req.UserID)
		return KeyPrefix + id + "." + rawSecret, k, nil
	}

	return "", nil, fmt.Errorf("creating api key: %w", ErrDuplicateKeyID)
}

// ParseAPIKey splits a raw credential of the form ak_<id>.<secret>.
func ParseAPIKey(raw string) (id, rawSecret string, err error) {
	rest, ok := strings.CutPrefix(raw, KeyPrefix)
	if !ok {
		return "", "", ErrMalformedCredential
	}
	id, rawSecret, ok = strings.Cut(rest, ".")
	if !ok || id == "" || rawSecret == "" {
		return "", "", ErrMalformedCredential
	}
	return id, rawSecret, nil
}

// VerifyAPIKey resolves a raw credential to the worker identity behind it.
func (s *Service) VerifyAPIKey(ctx context.Context, raw string) (*WorkerIdentity, error) {
	id, rawSecret, err := ParseAPIKey(raw)
	if err != nil {
		return nil, err
	}

	k, err := s.keys.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("looking up api key: %w", err)
	}

	if k.RevokedAt != nil {
		return nil, ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(rawSecret)) != nil {
		return nil, ErrUnauthorized
	}

	return &WorkerIdentity{
		KeyID:   k.ID,
		UserID:  k.UserID,
		IsAdmin: k.OwnerIsAdmin || s.IsBootstrapAdmin(k.OwnerEmail),
	}, nil
}

// RevokeAPIKey permanently disables a key. Revoking twice keeps the first timestamp.
func (s *Service) RevokeAPIKey(ctx context.Context, id string) error {
	if err := s.keys.Revoke(ctx, id, s.now()); err != nil {
		return err
	}
	slog.Info("api key revoked", "keyId", id)
	return nil
}

// ListAPIKeys returns every key, including revoked ones.
func (s *Service) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	return s.keys.List(ctx)
}

// Heartbeat refreshes a key's liveness timestamp and records whether its
// holder is currently grading.
func (s *Service) Heartbeat(ctx context.Context, keyID string, grading bool) error {
	return s.keys.Ping(ctx, keyID, s.now(), grading)
}

// AvailableWorkers returns non-revoked keys that pinged within the liveness window.
func (s *Service) AvailableWorkers(ctx context.Context) ([]APIKey, error) {
	return s.keys.ListAvailable(ctx, s.now().Add(-s.liveness))
}

// RequestMagicLink issues a login token for email and hands its URL to the mailer.
// On ErrDeliveryFailed the token has still been stored and remains usable.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	email = user.NormalizeEmail(email)
	if email == "" {
		return ErrNotRegistered
	}

	u, err := s.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		if !s.IsBootstrapAdmin(email) {
			return ErrNotRegistered
		}
		u = nil
	case err != nil:
		return fmt.Errorf("looking up user: %w", err)
	}

	now := s.now()
	if u != nil && u.LastMagicLinkRequestAt != nil && now.Before(u.LastMagicLinkRequestAt.Add(ResendCooldown)) {
		return ErrRateLimited
	}

	rawToken, err := secret.RandomHex(tokenBytes)
	if err != nil {
		return err
	}

	t := &MagicLinkToken{
		TokenHash: secret.Digest(rawToken),
		Email:     email,
		ExpiresAt: now.Add(MagicLinkTTL),
	}
	if err := s.links.Create(ctx, t); err != nil {
		return fmt.Errorf("storing login token: %w", err)
	}
	if err := s.users.TouchMagicLinkRequest(ctx, email, now); err != nil {
		return fmt.Errorf("recording login request: %w", err)
	}

	if err := s.mailer.Send(ctx, email, magicLinkSubject, s.magicLinkBody(rawToken)); err != nil {
		slog.Error("failed to deliver login link", "email", email, "error", err)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return nil
}

// ConfirmMagicLink consumes a raw login token and returns the user it signs in.
// The bootstrap admin is created on first confirmation.
func (s *Service) ConfirmMagicLink(ctx context.Context, rawToken string) (*user.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrInvalidOrExpired
	}

	email, err := s.links.Consume(ctx, secret.Digest(rawToken), s.now())
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrUserNotFound) {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if !s.IsBootstrapAdmin(email) {
		return nil, ErrUserGone
	}

	u = &user.User{Email: email, IsAdmin: true}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return s.users.GetByEmail(ctx, email)
		}
		return nil, fmt.Errorf("provisioning bootstrap admin: %w", err)
	}
	slog.Info("bootstrap admin provisioned", "userId", u.ID, "email", email)
	return u, nil
}

func (s *Service) magicLinkBody(rawToken string) string {
	link := s.baseURL + "/auth/magic/verify?token=" + url.QueryEscape(rawToken)
	return fmt.Sprintf(`Sign in to the submission portal:

%s

This link expires in %d minutes.

If you did not request this email, you can ignore it.
`, link, int(MagicLinkTTL.Minutes()))
}
