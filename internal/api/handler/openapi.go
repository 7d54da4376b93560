package handler

import (
	"net/http"
	"sync"

	"sigs.k8s.io/yaml"

	"github.com/fls-grading/portal/internal/api/middleware"
	"github.com/fls-grading/portal/internal/api/response"
)

// OpenAPIHandler answers GET /openapi.json from an embedded YAML document.
type OpenAPIHandler struct {
	source []byte
	once   sync.Once
	doc    []byte
	err    error
}

// NewOpenAPIHandler wraps yamlDoc; it is converted to JSON at most once.
func NewOpenAPIHandler(yamlDoc []byte) *OpenAPIHandler {
	return &OpenAPIHandler{source: yamlDoc}
}

// ServeHTTP lets clients cache the document for five minutes.
func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.once.Do(func() {
		h.doc, h.err = yaml.YAMLToJSON(h.source)
	})

	if h.err != nil {
		response.Internal(w, "failed to convert OpenAPI document", h.err, middleware.GetRequestID(r.Context()))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.doc)
}
