package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/fls-grading/portal/internal/admission"
	"github.com/fls-grading/portal/internal/api/middleware"
	"github.com/fls-grading/portal/internal/api/response"
	"github.com/fls-grading/portal/internal/submission"
)

// maxUploadBytes leaves room for multipart overhead around the archive.
const maxUploadBytes = admission.MaxBytes + 1<<20

// Admitter turns an upload into a waiting submission.
type Admitter interface {
	Submit(ctx context.Context, userID uuid.UUID, up admission.Upload) (*submission.Submission, error)
}

// SubmissionReader reads submissions and their artifacts.
type SubmissionReader interface {
	Get(ctx context.Context, id int64) (*submission.Submission, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]submission.Submission, error)
	OpenTarball(ctx context.Context, id int64) (io.ReadCloser, *submission.Submission, error)
	OpenLogs(ctx context.Context, id int64) (io.ReadCloser, *submission.Submission, error)
}

// SubmissionHandler serves the student-facing submission endpoints.
type SubmissionHandler struct {
	admit Admitter
	subs  SubmissionReader
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(admit Admitter, subs SubmissionReader) *SubmissionHandler {
	return &SubmissionHandler{admit: admit, subs: subs}
}

type submissionErrorDetails struct {
	Retryable bool `json:"retryable"`
}

// Create handles POST /submissions with multipart fields arch and tarball.
func (h *SubmissionHandler) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.ErrWithDetails(w, http.StatusUnprocessableEntity, "SUBMISSION_ERROR",
				"Submissions must be at most 5 MiB.", submissionErrorDetails{Retryable: true}, requestID)
			return
		}
		response.Err(w, http.StatusBadRequest, "INVALID_INPUT", "Request must be multipart form data", requestID)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	f, header, err := r.FormFile("tarball")
	if err != nil {
		response.ErrWithDetails(w, http.StatusUnprocessableEntity, "SUBMISSION_ERROR",
			"Please attach a .tar.gz archive.", submissionErrorDetails{Retryable: true}, requestID)
		return
	}
	defer f.Close()

	sub, err := h.admit.Submit(r.Context(), p.UserID, admission.Upload{
		Arch:     r.FormValue("arch"),
		Filename: header.Filename,
		Size:     header.Size,
		Body:     f,
	})
	if err != nil {
		var subErr *admission.SubmissionError
		if errors.As(err, &subErr) {
			response.ErrWithDetails(w, http.StatusUnprocessableEntity, "SUBMISSION_ERROR",
				subErr.Message, submissionErrorDetails{Retryable: true}, requestID)
			return
		}
		response.Internal(w, "failed to create submission", err, requestID)
		return
	}

	response.Success(w, http.StatusCreated, toSubmissionResponse(sub), requestID)
}

// List handles GET /submissions, returning the caller's own submissions.
func (h *SubmissionHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	subs, err := h.subs.ListByUser(r.Context(), p.UserID)
	if err != nil {
		response.Internal(w, "failed to list submissions", err, requestID)
		return
	}

	response.Success(w, http.StatusOK, toSubmissionResponses(subs), requestID)
}

// GetByID handles GET /submissions/{id}.
func (h *SubmissionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	sub, ok := h.owned(w, r, requestID)
	if !ok {
		return
	}

	response.Success(w, http.StatusOK, toSubmissionResponse(sub), requestID)
}

// Logs handles GET /submissions/{id}/logs.
func (h *SubmissionHandler) Logs(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	sub, ok := h.owned(w, r, requestID)
	if !ok {
		return
	}

	rc, _, err := h.subs.OpenLogs(r.Context(), sub.ID)
	if err != nil {
		writeSubmissionErr(w, err, "open logs", requestID)
		return
	}

	stream(w, rc, "text/plain; charset=utf-8", "")
}

// Tarball handles GET /submissions/{id}/tarball.
func (h *SubmissionHandler) Tarball(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	sub, ok := h.owned(w, r, requestID)
	if !ok {
		return
	}

	rc, opened, err := h.subs.OpenTarball(r.Context(), sub.ID)
	if err != nil {
		writeSubmissionErr(w, err, "open tarball", requestID)
		return
	}

	stream(w, rc, "application/gzip", *opened.Tarball)
}

// owned loads the {id} submission and checks the caller may read it.
func (h *SubmissionHandler) owned(w http.ResponseWriter, r *http.Request, requestID string) (*submission.Submission, bool) {
	p := middleware.GetPrincipal(r.Context())

	id, ok := submissionID(w, r, requestID)
	if !ok {
		return nil, false
	}

	sub, err := h.subs.Get(r.Context(), id)
	if err != nil {
		writeSubmissionErr(w, err, "get submission", requestID)
		return nil, false
	}

	if !p.CanAccess(sub.UserID) {
		response.Err(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this submission", requestID)
		return nil, false
	}

	return sub, true
}
