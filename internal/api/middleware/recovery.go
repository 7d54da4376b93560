package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/fls-grading/portal/internal/api/response"
)

// Recovery is middleware that recovers from panics and returns an opaque 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				requestID := GetRequestID(r.Context())
				slog.Error("panic recovered", "error", err, "requestId", requestID, "stack", string(debug.Stack()))
				response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", response.ContactStaff, requestID)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
