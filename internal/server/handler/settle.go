package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/engine"
)

// SettleService defines the lifecycle methods the settlement handler
// requires.
type SettleService interface {
	ResolveMarket(ctx context.Context, marketID, caller string, winning uint8) (domain.Market, error)
	DisputeMarket(ctx context.Context, marketID, caller string) (domain.Market, error)
	ReinstateMarket(ctx context.Context, marketID, caller string, winning uint8) (domain.Market, error)
	Redeem(ctx context.Context, marketID, participant string) (engine.RedeemResult, error)
}

// ReportLoader fetches archived settlement reports. Optional; when nil the
// settlement endpoint returns 404 for every market.
type ReportLoader interface {
	Load(ctx context.Context, marketID string) (domain.SettlementReport, error)
}

// SettleHandler serves resolution, dispute, and redemption endpoints.
type SettleHandler struct {
	settle  SettleService
	reports ReportLoader
	logger  *slog.Logger
}

// NewSettleHandler creates a SettleHandler.
func NewSettleHandler(settle SettleService, reports ReportLoader, logger *slog.Logger) *SettleHandler {
	return &SettleHandler{
		settle:  settle,
		reports: reports,
		logger:  logger,
	}
}

type resolveRequest struct {
	Caller  string `json:"caller"`
	Outcome string `json:"outcome"`
}

// Resolve finalizes an ended market.
// POST /api/markets/{id}/resolve
func (h *SettleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, ok := parseOutcome(req.Outcome)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid outcome index")
		return
	}

	m, err := h.settle.ResolveMarket(r.Context(), id, req.Caller, outcome)
	if err != nil {
		h.writeSettleError(w, r, "resolve", id, err)
		return
	}
	writeJSON(w, http.StatusOK, marketResponse(m))
}

type disputeRequest struct {
	Caller string `json:"caller"`
}

// Dispute freezes settlement of a market pending review.
// POST /api/markets/{id}/dispute
func (h *SettleHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.settle.DisputeMarket(r.Context(), id, req.Caller)
	if err != nil {
		h.writeSettleError(w, r, "dispute", id, err)
		return
	}
	writeJSON(w, http.StatusOK, marketResponse(m))
}

// Reinstate settles a disputed market on a final outcome.
// POST /api/markets/{id}/reinstate
func (h *SettleHandler) Reinstate(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, ok := parseOutcome(req.Outcome)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid outcome index")
		return
	}

	m, err := h.settle.ReinstateMarket(r.Context(), id, req.Caller, outcome)
	if err != nil {
		h.writeSettleError(w, r, "reinstate", id, err)
		return
	}
	writeJSON(w, http.StatusOK, marketResponse(m))
}

type redeemRequest struct {
	Participant string `json:"participant"`
}

// Redeem pays out a participant's winning balance.
// POST /api/markets/{id}/redeem
func (h *SettleHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req redeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.settle.Redeem(r.Context(), id, req.Participant)
	if err != nil {
		h.writeSettleError(w, r, "redeem", id, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Report returns the archived settlement report for a resolved market.
// GET /api/markets/{id}/settlement
func (h *SettleHandler) Report(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "settlement archive not configured")
		return
	}

	report, err := h.reports.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settlement report not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: load settlement failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to load settlement report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *SettleHandler) writeSettleError(w http.ResponseWriter, r *http.Request, op, marketID string, err error) {
	if status := domainStatus(err); status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, status, "failed to "+op)
		return
	}
	writeDomainError(w, err)
}
