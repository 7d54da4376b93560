// Package access resolves who is making a request: a worker holding an API
// key, or a person holding a browser session.
package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/credential"
	"github.com/fls-grading/portal/internal/session"
	"github.com/fls-grading/portal/internal/user"
)

// Kind tells worker principals from human ones.
type Kind string

const (
	KindWorker Kind = "worker"
	KindHuman  Kind = "human"
)

var (
	// ErrNoCredentials is returned when a request carries neither a bearer token nor a session.
	ErrNoCredentials = errors.New("no credentials")
	// ErrUnauthorized is returned when the presented credential does not resolve.
	ErrUnauthorized = errors.New("invalid credentials")
)

// Principal is the authenticated caller. IsAdmin is computed once when the
// principal is built and travels with it for the rest of the request.
type Principal struct {
	Kind    Kind
	UserID  uuid.UUID
	Email   string // empty for workers
	KeyID   string // empty for humans
	IsAdmin bool
}

// CanAccess reports whether the principal may read a resource owned by owner.
func (p *Principal) CanAccess(owner uuid.UUID) bool {
	return p.IsAdmin || p.UserID == owner
}

// KeyVerifier checks raw worker API keys.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, raw string) (*credential.WorkerIdentity, error)
}

// SessionResolver maps a raw session token to a user id.
type SessionResolver interface {
	Resolve(ctx context.Context, raw string) (uuid.UUID, error)
}

// UserLookup loads users by id.
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Guard authenticates requests.
type Guard struct {
	keys        KeyVerifier
	sessions    SessionResolver
	users       UserLookup
	isBootstrap func(email string) bool
}

// NewGuard creates a Guard. isBootstrap may be nil.
func NewGuard(keys KeyVerifier, sessions SessionResolver, users UserLookup, isBootstrap func(string) bool) *Guard {
	if isBootstrap == nil {
		isBootstrap = func(string) bool { return false }
	}
	return &Guard{keys: keys, sessions: sessions, users: users, isBootstrap: isBootstrap}
}

// Authenticate resolves a request using its bearer token if present, and its
// session cookie otherwise.
func (g *Guard) Authenticate(r *http.Request) (*Principal, error) {
	if r.Header.Get("Authorization") != "" {
		return g.AuthenticateWorker(r)
	}
	return g.AuthenticateSession(r)
}

// AuthenticateWorker resolves the Authorization: Bearer ak_... header.
func (g *Guard) AuthenticateWorker(r *http.Request) (*Principal, error) {
	raw, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		if r.Header.Get("Authorization") == "" {
			return nil, ErrNoCredentials
		}
		return nil, ErrUnauthorized
	}

	id, err := g.keys.VerifyAPIKey(r.Context(), raw)
	if err != nil {
		if errors.Is(err, credential.ErrUnauthorized) || errors.Is(err, credential.ErrMalformedCredential) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("verifying api key: %w", err)
	}

	return &Principal{
		Kind:    KindWorker,
		UserID:  id.UserID,
		KeyID:   id.KeyID,
		IsAdmin: id.IsAdmin,
	}, nil
}

// AuthenticateSession resolves the session cookie.
func (g *Guard) AuthenticateSession(r *http.Request) (*Principal, error) {
	c, err := r.Cookie(session.CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoCredentials
	}

	userID, err := g.sessions.Resolve(r.Context(), c.Value)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("resolving session: %w", err)
	}

	u, err := g.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("loading session user: %w", err)
	}

	return &Principal{
		Kind:    KindHuman,
		UserID:  u.ID,
		Email:   u.Email,
		IsAdmin: u.IsAdmin || g.isBootstrap(u.Email),
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
