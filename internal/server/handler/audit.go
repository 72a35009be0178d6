package handler

import (
	"log/slog"
	"net/http"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// AuditHandler serves the audit log endpoint.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// List returns audit entries newest first.
// GET /api/audit?limit=50&offset=0
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
