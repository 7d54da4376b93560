package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/api/middleware"
	"github.com/fls-grading/portal/internal/api/response"
	"github.com/fls-grading/portal/internal/api/validation"
	"github.com/fls-grading/portal/internal/credential"
	"github.com/fls-grading/portal/internal/submission"
	"github.com/fls-grading/portal/internal/user"
)

// UserAdmin is the user store surface the admin endpoints use.
type UserAdmin interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	List(ctx context.Context, filter user.ListFilter) (*user.ListResult, error)
	SetAdmin(ctx context.Context, id uuid.UUID, admin bool) error
	SetPassed(ctx context.Context, id uuid.UUID, passed bool) error
	Delete(ctx context.Context, id uuid.UUID) ([]submission.Artifacts, error)
	AddBatch(ctx context.Context, emails []string) (int, error)
	Roster(ctx context.Context) ([]user.RosterEntry, error)
}

// SubmissionAdmin is the submission surface the admin endpoints use.
type SubmissionAdmin interface {
	List(ctx context.Context, filter submission.ListFilter) (*submission.ListResult, error)
	AdminGrade(ctx context.Context, id int64, passed bool) (*submission.Submission, error)
	CancelClaim(ctx context.Context, id int64) (bool, error)
}

// KeyAdmin manages worker API keys.
type KeyAdmin interface {
	IssueAPIKey(ctx context.Context, req credential.Requester, name string) (string, *credential.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]credential.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	AvailableWorkers(ctx context.Context) ([]credential.APIKey, error)
}

// ArtifactCleaner removes the files of deleted submissions.
type ArtifactCleaner interface {
	RemoveArtifacts(all []submission.Artifacts)
}

// AdminHandler serves the /admin endpoints. Every route requires an admin principal.
type AdminHandler struct {
	users   UserAdmin
	subs    SubmissionAdmin
	keys    KeyAdmin
	cleaner ArtifactCleaner
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(users UserAdmin, subs SubmissionAdmin, keys KeyAdmin, cleaner ArtifactCleaner) *AdminHandler {
	return &AdminHandler{users: users, subs: subs, keys: keys, cleaner: cleaner}
}

// ListUsers handles GET /admin/users?search=&page=&limit=.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	q := r.URL.Query()

	page, limit, fieldErrors := validation.Pagination(q.Get("page"), q.Get("limit"))
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	result, err := h.users.List(r.Context(), user.ListFilter{Search: q.Get("search"), Page: page, Limit: limit})
	if err != nil {
		response.Internal(w, "failed to list users", err, requestID)
		return
	}

	data := make([]userResponse, len(result.Users))
	for i := range result.Users {
		data[i] = toUserResponse(&result.Users[i])
	}
	response.SuccessList(w, http.StatusOK, data, result.Total, result.Page, result.Limit, requestID)
}

type addUsersRequest struct {
	Emails []string `json:"emails"`
}

type addUsersResponse struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// AddUsers handles POST /admin/users. Existing emails are skipped.
func (h *AdminHandler) AddUsers(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req addUsersRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if fieldErrors := validation.ValidateEmailBatch(req.Emails); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	created, err := h.users.AddBatch(r.Context(), req.Emails)
	if err != nil {
		response.Internal(w, "failed to add users", err, requestID)
		return
	}

	unique := len(user.NormalizeEmails(req.Emails))
	response.Success(w, http.StatusCreated, addUsersResponse{Created: created, Skipped: unique - created}, requestID)
}

// GetUser handles GET /admin/users/{id}.
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := userID(w, r, requestID)
	if !ok {
		return
	}

	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeUserErr(w, err, "get user", requestID)
		return
	}

	response.Success(w, http.StatusOK, toUserResponse(u), requestID)
}

type updateUserRequest struct {
	IsAdmin *bool `json:"isAdmin"`
	Passed  *bool `json:"passed"`
}

// UpdateUser handles PATCH /admin/users/{id}: promote, demote, or grade.
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := userID(w, r, requestID)
	if !ok {
		return
	}

	var req updateUserRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if fieldErrors := validation.ValidateUserPatch(validation.UserPatch{IsAdmin: req.IsAdmin, Passed: req.Passed}); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	if req.IsAdmin != nil {
		if err := h.users.SetAdmin(r.Context(), id, *req.IsAdmin); err != nil {
			writeUserErr(w, err, "update admin flag", requestID)
			return
		}
	}
	if req.Passed != nil {
		if err := h.users.SetPassed(r.Context(), id, *req.Passed); err != nil {
			writeUserErr(w, err, "update grade", requestID)
			return
		}
	}

	u, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeUserErr(w, err, "get user", requestID)
		return
	}

	response.Success(w, http.StatusOK, toUserResponse(u), requestID)
}

// DeleteUser handles DELETE /admin/users/{id}. The user's submissions, keys,
// and sessions go with it; their files are removed afterwards.
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	id, ok := userID(w, r, requestID)
	if !ok {
		return
	}
	if id == p.UserID {
		response.Err(w, http.StatusConflict, "CONFLICT", "You cannot delete your own account", requestID)
		return
	}

	artifacts, err := h.users.Delete(r.Context(), id)
	if err != nil {
		writeUserErr(w, err, "delete user", requestID)
		return
	}
	h.cleaner.RemoveArtifacts(artifacts)

	response.NoContent(w)
}

// ListSubmissions handles GET /admin/submissions?status=&arch=&page=&limit=.
func (h *AdminHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	q := r.URL.Query()

	page, limit, fieldErrors := validation.Pagination(q.Get("page"), q.Get("limit"))
	status, statusErrors := validation.ValidateStatus("status", q.Get("status"))
	fieldErrors = append(fieldErrors, statusErrors...)

	filter := submission.ListFilter{Status: status, Page: page, Limit: limit}
	if raw := q.Get("arch"); raw != "" {
		arch, archErrors := validation.ValidateArch("arch", raw)
		fieldErrors = append(fieldErrors, archErrors...)
		filter.Arch = &arch
	}
	if raw := q.Get("userId"); raw != "" {
		uid, err := uuid.Parse(raw)
		if err != nil {
			fieldErrors = append(fieldErrors, validation.FieldError{Field: "userId", Message: "userId must be a valid UUID"})
		}
		filter.UserID = &uid
	}
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	result, err := h.subs.List(r.Context(), filter)
	if err != nil {
		response.Internal(w, "failed to list submissions", err, requestID)
		return
	}

	response.SuccessList(w, http.StatusOK, toSubmissionResponses(result.Submissions), result.Total, result.Page, result.Limit, requestID)
}

type gradeRequest struct {
	Passed *bool `json:"passed"`
}

// GradeSubmission handles POST /admin/submissions/{id}/grade.
func (h *AdminHandler) GradeSubmission(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := submissionID(w, r, requestID)
	if !ok {
		return
	}

	var req gradeRequest
	if !decodeJSON(w, r, &req, requestID) {
		return
	}
	if req.Passed == nil {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed",
			[]validation.FieldError{{Field: "passed", Message: "passed is required"}}, requestID)
		return
	}

	sub, err := h.subs.AdminGrade(r.Context(), id, *req.Passed)
	if err != nil {
		if errors.Is(err, submission.ErrNotGrading) {
			response.Err(w, http.StatusConflict, "CONFLICT", "Waiting submissions cannot be graded", requestID)
			return
		}
		writeSubmissionErr(w, err, "grade submission", requestID)
		return
	}

	response.Success(w, http.StatusOK, toSubmissionResponse(sub), requestID)
}

// CancelSubmission handles POST /admin/submissions/{id}/cancel.
func (h *AdminHandler) CancelSubmission(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := submissionID(w, r, requestID)
	if !ok {
		return
	}

	cancelled, err := h.subs.CancelClaim(r.Context(), id)
	if err != nil {
		writeSubmissionErr(w, err, "cancel claim", requestID)
		return
	}

	response.Success(w, http.StatusOK, cancelResponse{Cancelled: cancelled}, requestID)
}

type apiKeyResponse struct {
	ID         string  `json:"id"`
	Name       *string `json:"name"`
	OwnerEmail string  `json:"ownerEmail"`
	Revoked    bool    `json:"revoked"`
	RevokedAt  *string `json:"revokedAt"`
	LastPingAt *string `json:"lastPingAt"`
	IsGrading  bool    `json:"isGrading"`
	CreatedAt  string  `json:"createdAt"`
}

func toAPIKeyResponse(k *credential.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		OwnerEmail: k.OwnerEmail,
		Revoked:    k.RevokedAt != nil,
		RevokedAt:  formatTime(k.RevokedAt),
		LastPingAt: formatTime(k.LastPingAt),
		IsGrading:  k.IsGrading,
		CreatedAt:  k.CreatedAt.UTC().Format(timeFormat),
	}
}

func toAPIKeyResponses(keys []credential.APIKey) []apiKeyResponse {
	out := make([]apiKeyResponse, len(keys))
	for i := range keys {
		out[i] = toAPIKeyResponse(&keys[i])
	}
	return out
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

type createAPIKeyResponse struct {
	apiKeyResponse
	Key string `json:"key"`
}

// CreateAPIKey handles POST /admin/apikeys. The raw key appears only in this response.
func (h *AdminHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	var req createAPIKeyRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req, requestID) {
		return
	}
	if fieldErrors := validation.ValidateAPIKeyName(req.Name); len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	raw, k, err := h.keys.IssueAPIKey(r.Context(), credential.Requester{UserID: p.UserID, IsAdmin: p.IsAdmin}, req.Name)
	if err != nil {
		if errors.Is(err, credential.ErrForbidden) {
			response.Err(w, http.StatusForbidden, "FORBIDDEN", "Admin access required", requestID)
			return
		}
		response.Internal(w, "failed to issue api key", err, requestID)
		return
	}
	k.OwnerEmail = p.Email

	response.Success(w, http.StatusCreated, createAPIKeyResponse{apiKeyResponse: toAPIKeyResponse(k), Key: raw}, requestID)
}

// ListAPIKeys handles GET /admin/apikeys.
func (h *AdminHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	keys, err := h.keys.ListAPIKeys(r.Context())
	if err != nil {
		response.Internal(w, "failed to list api keys", err, requestID)
		return
	}

	response.Success(w, http.StatusOK, toAPIKeyResponses(keys), requestID)
}

// RevokeAPIKey handles DELETE /admin/apikeys/{id}.
func (h *AdminHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := h.keys.RevokeAPIKey(r.Context(), id); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			response.Err(w, http.StatusNotFound, "NOT_FOUND", "API key not found", requestID)
			return
		}
		response.Internal(w, "failed to revoke api key", err, requestID)
		return
	}

	response.NoContent(w)
}

// ListWorkers handles GET /admin/workers: keys seen recently and not revoked.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	keys, err := h.keys.AvailableWorkers(r.Context())
	if err != nil {
		response.Internal(w, "failed to list workers", err, requestID)
		return
	}

	response.Success(w, http.StatusOK, toAPIKeyResponses(keys), requestID)
}

// Roster handles GET /admin/roster: a map of email to "P" or "F".
func (h *AdminHandler) Roster(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	entries, err := h.users.Roster(r.Context())
	if err != nil {
		response.Internal(w, "failed to export roster", err, requestID)
		return
	}

	grades := make(map[string]string, len(entries))
	for _, e := range entries {
		grades[e.Email] = e.Grade()
	}
	response.Success(w, http.StatusOK, grades, requestID)
}

func userID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "User id must be a valid UUID", requestID)
		return uuid.Nil, false
	}
	return id, true
}

func writeUserErr(w http.ResponseWriter, err error, op string, requestID string) {
	if errors.Is(err, user.ErrUserNotFound) {
		response.Err(w, http.StatusNotFound, "NOT_FOUND", "User not found", requestID)
		return
	}
	response.Internal(w, "failed to "+op, err, requestID)
}
