package handler

import (
	"log/slog"
	"net/http"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// AccountHandler serves treasury account endpoints.
type AccountHandler struct {
	treasury domain.Treasury
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(treasury domain.Treasury, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		treasury: treasury,
		logger:   logger,
	}
}

// Balance returns an account balance.
// GET /api/accounts/{id}/balance
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	balance, err := h.treasury.Balance(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: balance lookup failed",
			slog.String("account", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account": id,
		"balance": balance,
	})
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

// Deposit credits an account from outside the system.
// POST /api/accounts/{id}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if !domain.ValidAddress(id) {
		writeError(w, http.StatusBadRequest, "invalid account address")
		return
	}

	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	if err := h.treasury.Deposit(r.Context(), id, req.Amount); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: deposit failed",
			slog.String("account", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to deposit")
		return
	}

	balance, err := h.treasury.Balance(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"account": id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": id,
		"balance": balance,
	})
}
