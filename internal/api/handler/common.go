package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fls-grading/portal/internal/api/response"
	"github.com/fls-grading/portal/internal/submission"
	"github.com/fls-grading/portal/internal/user"
)

const (
	timeFormat   = time.RFC3339
	maxJSONBytes = 1 << 20
)

type submissionResponse struct {
	ID        int64   `json:"id"`
	UserID    string  `json:"userId"`
	Arch      string  `json:"arch"`
	Status    string  `json:"status"`
	Verdict   *string `json:"verdict"`
	HasLogs   bool    `json:"hasLogs"`
	HasTar    bool    `json:"hasTarball"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
}

func toSubmissionResponse(s *submission.Submission) submissionResponse {
	var verdict *string
	if s.Verdict.Decided() {
		v := string(s.Verdict)
		verdict = &v
	}
	return submissionResponse{
		ID:        s.ID,
		UserID:    s.UserID.String(),
		Arch:      string(s.Arch),
		Status:    string(s.Status),
		Verdict:   verdict,
		HasLogs:   s.Logs != nil,
		HasTar:    s.Tarball != nil,
		CreatedAt: s.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: s.UpdatedAt.UTC().Format(timeFormat),
	}
}

func toSubmissionResponses(subs []submission.Submission) []submissionResponse {
	out := make([]submissionResponse, len(subs))
	for i := range subs {
		out[i] = toSubmissionResponse(&subs[i])
	}
	return out
}

type userResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Name          string  `json:"name"`
	IsAdmin       bool    `json:"isAdmin"`
	Passed        *bool   `json:"passed"`
	PreferredArch *string `json:"preferredArch"`
	CreatedAt     string  `json:"createdAt"`
}

func toUserResponse(u *user.User) userResponse {
	var arch *string
	if u.PreferredArch != nil {
		a := string(*u.PreferredArch)
		arch = &a
	}
	return userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		Name:          u.Name,
		IsAdmin:       u.IsAdmin,
		Passed:        u.Passed,
		PreferredArch: arch,
		CreatedAt:     u.CreatedAt.UTC().Format(timeFormat),
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeFormat)
	return &s
}

// decodeJSON reads a bounded JSON body into dst. It writes the 400 itself and
// reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, requestID string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Err(w, http.StatusBadRequest, "INVALID_JSON", "Request body must be valid JSON", requestID)
		return false
	}
	return true
}

// submissionID parses the {id} URL parameter. It writes the 400 itself and
// reports false on failure.
func submissionID(w http.ResponseWriter, r *http.Request, requestID string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		response.Err(w, http.StatusBadRequest, "INVALID_ID", "Submission id must be a positive integer", requestID)
		return 0, false
	}
	return id, true
}

// writeSubmissionErr maps lifecycle errors onto HTTP statuses.
func writeSubmissionErr(w http.ResponseWriter, err error, op string, requestID string) {
	switch {
	case errors.Is(err, submission.ErrNotFound):
		response.Err(w, http.StatusNotFound, "NOT_FOUND", "Submission not found", requestID)
	case errors.Is(err, submission.ErrAlreadyClaimed):
		response.Err(w, http.StatusConflict, "CONFLICT", "Submission is not waiting to be claimed", requestID)
	case errors.Is(err, submission.ErrNotGrading):
		response.Err(w, http.StatusForbidden, "FORBIDDEN", "Submission is not being graded", requestID)
	case errors.Is(err, submission.ErrInvalidVerdict):
		response.Err(w, http.StatusBadRequest, "INVALID_INPUT", "Verdict must be pass or fail", requestID)
	default:
		response.Internal(w, "failed to "+op, err, requestID)
	}
}

// stream copies an artifact to the client.
func stream(w http.ResponseWriter, rc io.ReadCloser, contentType, filename string) {
	defer rc.Close()
	w.Header().Set("Content-Type", contentType)
	if filename != "" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("failed to stream artifact", "file", filename, "error", err)
	}
}
