package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// PositionService defines the methods the position handler requires.
type PositionService interface {
	Positions(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error)
	MarketPositions(ctx context.Context, marketID string) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns a participant's positions across markets.
// GET /api/positions?participant=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	participant := r.URL.Query().Get("participant")
	if participant == "" {
		writeError(w, http.StatusBadRequest, "participant query parameter required")
		return
	}
	if !domain.ValidAddress(participant) {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	positions, err := h.positions.Positions(r.Context(), participant, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("participant", participant),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListMarketPositions returns every position held in one market.
// GET /api/markets/{id}/positions
func (h *PositionHandler) ListMarketPositions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	positions, err := h.positions.MarketPositions(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list market positions failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}
