package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fls-grading/portal/internal/access"
	"github.com/fls-grading/portal/internal/api/middleware"
	"github.com/fls-grading/portal/internal/submission"
)

func makeChiRequest(method, path string, body []byte, p *access.Principal, params map[string]string) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	ctx := req.Context()
	if p != nil {
		ctx = middleware.WithPrincipal(ctx, p)
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}

	return req.WithContext(ctx), httptest.NewRecorder()
}

// multipartBody builds a form with the given fields and, when fileField is
// set, one file part.
func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "failed to parse response body")
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	errObj, ok := parseEnvelope(t, w)["error"].(map[string]any)
	require.True(t, ok, "expected error envelope, got %s", w.Body.String())
	return errObj["code"].(string)
}

func student() *access.Principal {
	return &access.Principal{Kind: access.KindHuman, UserID: uuid.New(), Email: "student@example.edu"}
}

func admin() *access.Principal {
	return &access.Principal{Kind: access.KindHuman, UserID: uuid.New(), Email: "staff@example.edu", IsAdmin: true}
}

func worker() *access.Principal {
	return &access.Principal{Kind: access.KindWorker, UserID: uuid.New(), KeyID: "k1", IsAdmin: true}
}

func strPtr(s string) *string { return &s }

func sampleSubmission(id int64, owner uuid.UUID, status submission.Status) *submission.Submission {
	now := time.Now().UTC()
	return &submission.Submission{
		ID:        id,
		UserID:    owner,
		Arch:      submission.ArchX86_64,
		Tarball:   strPtr("sub-1.tar.gz"),
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
