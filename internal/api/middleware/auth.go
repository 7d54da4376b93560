package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fls-grading/portal/internal/access"
	"github.com/fls-grading/portal/internal/api/response"
)

const principalKey contextKey = "principal"

// Authenticator resolves a request to a principal. Guard.Authenticate,
// Guard.AuthenticateWorker, and Guard.AuthenticateSession all fit.
type Authenticator func(r *http.Request) (*access.Principal, error)

// Auth is middleware that resolves the caller with authn and stores the
// principal in the request context. Missing or invalid credentials return 401.
func Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			p, err := authn(r)
			if err != nil {
				switch {
				case errors.Is(err, access.ErrNoCredentials):
					response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication is required", requestID)
				case errors.Is(err, access.ErrUnauthorized):
					response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid, expired, or revoked credentials", requestID)
				default:
					slog.Error("authentication failed", "error", err, "requestId", requestID)
					response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Authentication failed", requestID)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *access.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the authenticated principal from the request context.
func GetPrincipal(ctx context.Context) *access.Principal {
	if p, ok := ctx.Value(principalKey).(*access.Principal); ok {
		return p
	}
	return nil
}
