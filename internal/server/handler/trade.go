package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dejavu-markets/dejavu/internal/engine"
)

// TradeService defines the trading methods the handler requires.
type TradeService interface {
	QuoteBuy(ctx context.Context, marketID string, outcome uint8, shares uint64) (uint64, error)
	BuyShares(ctx context.Context, marketID, buyer string, outcome uint8, shares uint64) (engine.TradeResult, error)
}

// TradeHandler serves quote and buy endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logger,
	}
}

// Quote returns the current cost of a prospective purchase without executing
// it.
// GET /api/markets/{id}/quote?outcome=0&shares=10
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	q := r.URL.Query()
	outcome, ok := parseOutcome(q.Get("outcome"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid outcome index")
		return
	}
	shares, err := strconv.ParseUint(q.Get("shares"), 10, 64)
	if err != nil || shares == 0 {
		writeError(w, http.StatusBadRequest, "invalid share count")
		return
	}

	cost, err := h.trades.QuoteBuy(r.Context(), id, outcome, shares)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"outcome":   outcome,
		"shares":    shares,
		"cost":      cost,
	})
}

type buyRequest struct {
	Buyer   string `json:"buyer"`
	Outcome string `json:"outcome"`
	Shares  uint64 `json:"shares"`
}

// Buy executes a share purchase.
// POST /api/markets/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	var req buyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, ok := parseOutcome(req.Outcome)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid outcome index")
		return
	}

	result, err := h.trades.BuyShares(r.Context(), id, req.Buyer, outcome, req.Shares)
	if err != nil {
		if status := domainStatus(err); status == http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "handler: buy failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, status, "failed to execute trade")
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
