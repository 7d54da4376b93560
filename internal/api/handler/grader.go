package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/fls-grading/portal/internal/api/middleware"
	"github.com/fls-grading/portal/internal/api/response"
	"github.com/fls-grading/portal/internal/api/validation"
	"github.com/fls-grading/portal/internal/submission"
)

// maxResultBytes bounds a result upload: the log file plus form overhead.
const maxResultBytes = 16 << 20

// GraderService is the lifecycle surface workers drive.
type GraderService interface {
	ListPending(ctx context.Context, keyID string, arch submission.Arch) ([]submission.Submission, error)
	Claim(ctx context.Context, keyID string, id int64) (*submission.Submission, error)
	CancelClaim(ctx context.Context, id int64) (bool, error)
	Resolve(ctx context.Context, keyID string, id int64, verdict submission.Verdict, logs io.Reader) (*submission.Submission, error)
	OpenTarball(ctx context.Context, id int64) (io.ReadCloser, *submission.Submission, error)
}

// WorkerHeartbeat records worker liveness.
type WorkerHeartbeat interface {
	Heartbeat(ctx context.Context, keyID string, grading bool) error
}

// GraderHandler serves the worker coordination endpoints under /api/grader.
type GraderHandler struct {
	svc      GraderService
	liveness WorkerHeartbeat
}

// NewGraderHandler creates a new GraderHandler.
func NewGraderHandler(svc GraderService, liveness WorkerHeartbeat) *GraderHandler {
	return &GraderHandler{svc: svc, liveness: liveness}
}

// List handles GET /api/grader/submissions?arch=.
func (h *GraderHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	arch, fieldErrors := validation.ValidateArch("arch", r.URL.Query().Get("arch"))
	if len(fieldErrors) > 0 {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed", fieldErrors, requestID)
		return
	}

	subs, err := h.svc.ListPending(r.Context(), p.KeyID, arch)
	if err != nil {
		response.Internal(w, "failed to list pending submissions", err, requestID)
		return
	}

	response.Success(w, http.StatusOK, toSubmissionResponses(subs), requestID)
}

// Claim handles POST /api/grader/submissions/{id}/claim.
func (h *GraderHandler) Claim(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	id, ok := submissionID(w, r, requestID)
	if !ok {
		return
	}

	sub, err := h.svc.Claim(r.Context(), p.KeyID, id)
	if err != nil {
		writeSubmissionErr(w, err, "claim submission", requestID)
		return
	}

	response.Success(w, http.StatusOK, toSubmissionResponse(sub), requestID)
}

type cancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// Cancel handles POST /api/grader/submissions/{id}/cancel. Only keys owned by
// an admin may cancel, and they may cancel any grading submission.
func (h *GraderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := submissionID(w, r, requestID)
	if !ok {
		return
	}

	cancelled, err := h.svc.CancelClaim(r.Context(), id)
	if err != nil {
		writeSubmissionErr(w, err, "cancel claim", requestID)
		return
	}

	response.Success(w, http.StatusOK, cancelResponse{Cancelled: cancelled}, requestID)
}

// Result handles POST /api/grader/submissions/{id}/result with multipart
// fields passed=true|false and an optional logs file.
func (h *GraderHandler) Result(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	id, ok := submissionID(w, r, requestID)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxResultBytes)
	if err := r.ParseMultipartForm(maxResultBytes); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_INPUT", "Request must be multipart form data within 16 MiB", requestID)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	passed, err := strconv.ParseBool(strings.TrimSpace(r.FormValue("passed")))
	if err != nil {
		response.ErrWithDetails(w, http.StatusBadRequest, "VALIDATION_ERROR", "Input validation failed",
			[]validation.FieldError{{Field: "passed", Message: "passed must be true or false"}}, requestID)
		return
	}

	var logs io.Reader = strings.NewReader("")
	f, _, err := r.FormFile("logs")
	switch {
	case err == nil:
		defer f.Close()
		logs = f
	case errors.Is(err, http.ErrMissingFile):
	default:
		response.Err(w, http.StatusBadRequest, "INVALID_INPUT", "Could not read logs file", requestID)
		return
	}

	sub, err := h.svc.Resolve(r.Context(), p.KeyID, id, submission.VerdictFromPassed(passed), logs)
	if err != nil {
		writeSubmissionErr(w, err, "resolve submission", requestID)
		return
	}

	response.Success(w, http.StatusOK, toSubmissionResponse(sub), requestID)
}

// Tarball handles GET /api/grader/submissions/{id}/tarball.
func (h *GraderHandler) Tarball(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := submissionID(w, r, requestID)
	if !ok {
		return
	}

	rc, sub, err := h.svc.OpenTarball(r.Context(), id)
	if err != nil {
		writeSubmissionErr(w, err, "open tarball", requestID)
		return
	}

	stream(w, rc, "application/gzip", *sub.Tarball)
}

// Heartbeat handles POST /api/grader/heartbeat.
func (h *GraderHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	h.ping(w, r, false)
}

// Grading handles POST /api/grader/grading, sent while a job is running.
func (h *GraderHandler) Grading(w http.ResponseWriter, r *http.Request) {
	h.ping(w, r, true)
}

func (h *GraderHandler) ping(w http.ResponseWriter, r *http.Request, grading bool) {
	requestID := middleware.GetRequestID(r.Context())
	p := middleware.GetPrincipal(r.Context())

	if err := h.liveness.Heartbeat(r.Context(), p.KeyID, grading); err != nil {
		response.Internal(w, "failed to record heartbeat", err, requestID)
		return
	}

	response.NoContent(w)
}
