package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fls-grading/portal/internal/api/middleware"
	"github.com/fls-grading/portal/internal/api/response"
)

const healthPingTimeout = 2 * time.Second

// DBPinger checks that the database is reachable.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles the GET /health endpoint.
type HealthHandler struct {
	db      DBPinger
	version string
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db DBPinger, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

type databaseStatus struct {
	Connected bool `json:"connected"`
}

type healthData struct {
	Status   string         `json:"status"`
	Version  string         `json:"version"`
	Database databaseStatus `json:"database"`
}

// ServeHTTP reports "healthy" when the database answers a ping and
// "degraded" otherwise. It always responds 200.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status, connected := "healthy", true
	if err := h.db.Ping(ctx); err != nil {
		slog.Warn("health check: database unreachable", "error", err, "requestId", requestID)
		status, connected = "degraded", false
	}

	response.Success(w, http.StatusOK, healthData{
		Status:   status,
		Version:  h.version,
		Database: databaseStatus{Connected: connected},
	}, requestID)
}
