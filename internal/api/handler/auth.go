package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/api/middleware"
	"github.com/fls-grading/portal/internal/api/response"
	"github.com/fls-grading/portal/internal/api/validation"
	"github.com/fls-grading/portal/internal/credential"
	"github.com/fls-grading/portal/internal/session"
	"github.com/fls-grading/portal/internal/user"
)

// MagicLinks issues and confirms login links.
type MagicLinks interface {
	RequestMagicLink(ctx context.Context, email string) error
	ConfirmMagicLink(ctx context.Context, rawToken string) (*user.User, error)
}

// Sessions starts and ends browser sessions.
type Sessions interface {
	Create(ctx context.Context, userID uuid.UUID) (string, time.Time, error)
	Revoke(ctx context.Context, raw string) error
}

// UserReader loads users by id.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// AuthHandler serves magic-link login, logout, and the current user.
type AuthHandler struct {
	links        MagicLinks
	sessions     Sessions
	users        UserReader
	secureCookie bool
}

// NewAuthHandler creates a new AuthHandler. secureCookie marks the session
// cookie Secure, for deployments served over https.
func NewAuthHandler(links MagicLinks, sessions Sessions, users UserReader, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		links:        links,
		sessions:     sessions,
		users:        users,
		secureCookie: secureCookie,
	}
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

type magicLinkSentResponse struct {
	Sent bool `json:"sent"`
}

// RequestLink handles POST /auth/magic.
func (h *AuthHandler) RequestLink(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req magicLinkRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if fieldErrors := validation.ValidateEmail("email", req.Email); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	err := h.links.RequestMagicLink(r.Context(), req.Email)
	switch {
	case err == nil:
		response.Success(w, http.StatusAccepted, magicLinkSentResponse{Sent: true}, requestID)
	case errors.Is(err, credential.ErrNotRegistered):
		response.Err(w, http.StatusForbidden, "FORBIDDEN", "Please ask staff to create an account for you.", requestID)
	case errors.Is(err, credential.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(credential.ResendCooldown.Seconds())))
		response.Err(w, http.StatusTooManyRequests, "RATE_LIMITED", "A link was sent recently. Please try again in a couple of minutes.", requestID)
	case errors.Is(err, credential.ErrDeliveryFailed):
		response.ErrWithDetails(w, http.StatusBadGateway, "DELIVERY_FAILED",
			"We could not send the email. Please try again shortly.",
			map[string]bool{"retryable": true}, requestID)
	default:
		response.Internal(w, "failed to issue login link", err, requestID)
	}
}

type confirmRequest struct {
	Token string `json:"token"`
}

type linkPageResponse struct {
	Token   string `json:"token"`
	Confirm string `json:"confirm"`
}

// LinkPage handles GET /auth/magic/verify, the URL sent by email. It leaves
// the token unused so that mail scanners fetching the link cannot spend it;
// the client signs in by posting the token back.
func (h *AuthHandler) LinkPage(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		response.Err(w, http.StatusBadRequest, "INVALID_INPUT", "The link is missing its token.", requestID)
		return
	}
	response.Success(w, http.StatusOK, linkPageResponse{Token: token, Confirm: "POST /auth/magic/verify"}, requestID)
}

// ConfirmLink handles POST /auth/magic/verify. On success it sets the session
// cookie and returns the signed-in user.
func (h *AuthHandler) ConfirmLink(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req confirmRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}

	u, err := h.links.ConfirmMagicLink(r.Context(), req.Token)
	if err != nil {
		if errors.Is(err, credential.ErrInvalidOrExpired) || errors.Is(err, credential.ErrUserGone) {
			response.Err(w, http.StatusUnauthorized, "UNAUTHORIZED", "This link is invalid or has expired.", requestID)
			return
		}
		response.Internal(w, "failed to confirm login link", err, requestID)
		return
	}

	raw, expires, err := h.sessions.Create(r.Context(), u.ID)
	if err != nil {
		response.Internal(w, "failed to create session", err, requestID)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    raw,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	response.Success(w, http.StatusOK, toUserResponse(u), requestID)
}

// Logout handles POST /auth/logout. It always clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if c, err := r.Cookie(session.CookieName); err == nil {
		if err := h.sessions.Revoke(r.Context(), c.Value); err != nil {
			response.Internal(w, "failed to revoke session", err, requestID)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	response.NoContent(w)
}

type meResponse struct {
	userResponse
	IsAdmin bool `json:"isAdmin"`
}

// Me handles GET /me. IsAdmin reflects the effective privilege, which also
// covers the bootstrap admin address.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	u, err := h.users.GetByID(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "User not found", requestID)
			return
		}
		response.Internal(w, "failed to load current user", err, requestID)
		return
	}

	response.Success(w, http.StatusOK, meResponse{userResponse: toUserResponse(u), IsAdmin: p.IsAdmin}, requestID)
}
