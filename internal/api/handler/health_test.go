package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	specpkg "github.com/fls-grading/portal/api"
	"github.com/fls-grading/portal/internal/api/handler"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    string
		connected bool
	}{
		{"healthy", nil, "healthy", true},
		{"degraded", errors.New("connection refused"), "degraded", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.NewHealthHandler(&mockPinger{err: tt.err}, "1.2.3")
			w := httptest.NewRecorder()

			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, http.StatusOK, w.Code)
			data := parseEnvelope(t, w)["data"].(map[string]any)
			assert.Equal(t, tt.status, data["status"])
			assert.Equal(t, "1.2.3", data["version"])
			assert.Equal(t, map[string]any{"connected": tt.connected}, data["database"])
		})
	}
}

func TestOpenAPIHandler_ConvertsEmbeddedDocument(t *testing.T) {
	h := handler.NewOpenAPIHandler(specpkg.OpenAPISpec)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	doc := parseEnvelope(t, w)
	assert.Contains(t, doc, "openapi")
	assert.Contains(t, doc["paths"], "/api/grader/submissions/{id}/claim")
}

func TestOpenAPIHandler_InvalidYAML(t *testing.T) {
	h := handler.NewOpenAPIHandler([]byte("paths: [unclosed"))
	w := httptest.NewRecorder()

	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

