package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger checks one backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	deps   map[string]Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. deps maps dependency names to
// their connectivity checks; nil or empty means liveness only.
func NewHealthHandler(deps map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

// HealthCheck reports liveness plus the state of each backing dependency.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(h.deps))
	for name, p := range h.deps {
		if err := p.Ping(r.Context()); err != nil {
			status = "degraded"
			deps[name] = err.Error()
			continue
		}
		deps[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
