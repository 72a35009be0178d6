package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/engine"
)

// MarketService defines the methods the market handler requires from the
// engine. Declared locally so the handler package depends on behavior, not
// the concrete engine type.
type MarketService interface {
	CreateMarket(ctx context.Context, params engine.CreateMarketParams) (domain.Market, error)
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListMarketsByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	CountMarkets(ctx context.Context) (int64, error)
	MarketPrices(ctx context.Context, marketID string) ([]int64, error)
	MaxLoss(ctx context.Context, marketID string) (uint64, error)
}

// MarketHandler serves market CRUD and pricing endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type createMarketRequest struct {
	Authority   string    `json:"authority"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Outcomes    []string  `json:"outcomes"`
	EndTime     time.Time `json:"end_time"`
	B           uint64    `json:"b"`
}

// CreateMarket creates a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), engine.CreateMarketParams{
		Authority:   req.Authority,
		Title:       req.Title,
		Description: req.Description,
		Outcomes:    req.Outcomes,
		EndTime:     req.EndTime,
		B:           req.B,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfiguration) {
			writeDomainError(w, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, marketResponse(m))
}

// ListMarkets returns markets newest first, optionally filtered by stored
// status.
// GET /api/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var (
		markets []domain.Market
		err     error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := domain.ParseMarketStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown market status "+strconv.Quote(raw))
			return
		}
		markets, err = h.markets.ListMarketsByStatus(r.Context(), status, opts)
	} else {
		markets, err = h.markets.ListMarkets(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total, err := h.markets.CountMarkets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	out := make([]map[string]any, 0, len(markets))
	for _, m := range markets {
		out = append(out, marketResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"markets": out,
		"total":   total,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// GetMarket returns a single market by ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	out := marketResponse(m)
	if loss, err := h.markets.MaxLoss(r.Context(), id); err == nil {
		out["max_loss"] = loss
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPrices returns the current fixed-point price vector for a market.
// GET /api/markets/{id}/prices
func (h *MarketHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	prices, err := h.markets.MarketPrices(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: market prices failed",
			slog.String("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compute prices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"prices":    prices,
		"scale":     1_000_000,
	})
}

// marketResponse shapes a market for the API, keeping resolution fields
// omitted until set.
func marketResponse(m domain.Market) map[string]any {
	out := map[string]any{
		"id":              m.ID,
		"authority":       m.Authority,
		"title":           m.Title,
		"description":     m.Description,
		"outcomes":        m.Outcomes,
		"b":               m.B,
		"q":               m.Q,
		"total_volume":    m.TotalVolume,
		"total_liquidity": m.TotalLiquidity,
		"status":          m.Status,
		"created_at":      m.CreatedAt,
		"end_time":        m.EndTime,
	}
	if m.WinningOutcome != nil {
		out["winning_outcome"] = *m.WinningOutcome
	}
	if m.ResolvedAt != nil {
		out["resolved_at"] = *m.ResolvedAt
		out["payout_per_share"] = m.PayoutPerShare
	}
	return out
}
