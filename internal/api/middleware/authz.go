package middleware

import (
	"net/http"

	"github.com/fls-grading/portal/internal/api/response"
)

// RequireAdmin returns middleware that rejects non-admin principals with 403.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := GetRequestID(r.Context())

			p := GetPrincipal(r.Context())
			if p == nil {
				response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication is required", requestID)
				return
			}

			if !p.IsAdmin {
				response.Err(w, http.StatusForbidden, "FORBIDDEN", "Admin access required", requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
