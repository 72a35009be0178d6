// Package engine drives the market lifecycle: creation, trading, resolution,
// dispute, and redemption. It owns all mutating access to market state,
// delegating price and cost computation to the amm pool and position
// accounting to the ledger.
//
// Every mutating operation runs under a per-market mutex, so quoting a cost
// and executing the trade happen in one atomic step with no window for
// another trade to move q in between. Operations on different markets never
// contend. When replicas share the stores, a distributed lock manager layers
// the same per-market exclusion across processes.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dejavu-markets/dejavu/internal/amm"
	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/ledger"
	"github.com/dejavu-markets/dejavu/internal/metrics"
)

// Pub/sub channels for market events.
const (
	ChannelMarkets     = "markets"
	ChannelTrades      = "trades"
	ChannelRedemptions = "redemptions"
)

// Config wires the engine's collaborators. Markets, Ledger, and Treasury are
// required; the rest are optional and skipped when nil.
type Config struct {
	Markets  domain.MarketStore
	Ledger   *ledger.Ledger
	Treasury domain.Treasury
	Clock    domain.Clock
	Prices   domain.PriceCache
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Archiver domain.SettlementArchiver
	Locks    domain.LockManager
	Logger   *slog.Logger
}

// Engine is the market lifecycle and settlement component.
type Engine struct {
	markets  domain.MarketStore
	ledger   *ledger.Ledger
	treasury domain.Treasury
	clock    domain.Clock
	prices   domain.PriceCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	archiver domain.SettlementArchiver
	dlm      domain.LockManager
	logger   *slog.Logger

	locks sync.Map // market id -> *sync.Mutex
}

// New creates an Engine from the given configuration.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		markets:  cfg.Markets,
		ledger:   cfg.Ledger,
		treasury: cfg.Treasury,
		clock:    clock,
		prices:   cfg.Prices,
		bus:      cfg.Bus,
		audit:    cfg.Audit,
		archiver: cfg.Archiver,
		dlm:      cfg.Locks,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// CreateMarketParams carries the creation request after the outer API has
// parsed it. The engine re-validates every invariant it depends on.
type CreateMarketParams struct {
	Authority   string
	Title       string
	Description string
	Outcomes    []string
	EndTime     time.Time
	B           uint64
}

// CreateMarket validates the configuration and persists a new Active market
// with a fresh pool.
func (e *Engine) CreateMarket(ctx context.Context, params CreateMarketParams) (domain.Market, error) {
	if err := e.validateCreate(params); err != nil {
		return domain.Market{}, err
	}

	now := e.clock.Now()
	m := domain.Market{
		ID:          uuid.New().String(),
		Authority:   params.Authority,
		Title:       params.Title,
		Description: params.Description,
		Outcomes:    append([]string(nil), params.Outcomes...),
		B:           params.B,
		Q:           make([]uint64, len(params.Outcomes)),
		Status:      domain.MarketStatusActive,
		CreatedAt:   now,
		EndTime:     params.EndTime,
	}

	if err := e.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("engine: create market: %w", err)
	}

	metrics.MarketsCreated.Inc()
	e.auditLog(ctx, "market_created", map[string]any{
		"market_id": m.ID,
		"authority": m.Authority,
		"outcomes":  m.Outcomes,
		"b":         m.B,
		"end_time":  m.EndTime,
	})
	e.publish(ctx, ChannelMarkets, map[string]any{
		"event":     "market_created",
		"market_id": m.ID,
		"title":     m.Title,
		"outcomes":  m.Outcomes,
		"end_time":  m.EndTime,
	})

	e.logger.InfoContext(ctx, "market created",
		slog.String("market_id", m.ID),
		slog.Int("outcomes", m.OutcomeCount()),
		slog.Uint64("b", m.B),
	)
	return m, nil
}

func (e *Engine) validateCreate(params CreateMarketParams) error {
	if !domain.ValidAddress(params.Authority) {
		return fmt.Errorf("%w: invalid authority address %q", domain.ErrInvalidConfiguration, params.Authority)
	}
	n := len(params.Outcomes)
	if n < domain.MinOutcomes || n > domain.MaxOutcomes {
		return fmt.Errorf("%w: need %d-%d outcomes, got %d",
			domain.ErrInvalidConfiguration, domain.MinOutcomes, domain.MaxOutcomes, n)
	}
	for i, label := range params.Outcomes {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("%w: outcome %d label is empty", domain.ErrInvalidConfiguration, i)
		}
		if len(label) > domain.MaxOutcomeLen {
			return fmt.Errorf("%w: outcome %d label exceeds %d chars", domain.ErrInvalidConfiguration, i, domain.MaxOutcomeLen)
		}
	}
	if len(params.Title) > domain.MaxTitleLen {
		return fmt.Errorf("%w: title exceeds %d chars", domain.ErrInvalidConfiguration, domain.MaxTitleLen)
	}
	if len(params.Description) > domain.MaxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d chars", domain.ErrInvalidConfiguration, domain.MaxDescriptionLen)
	}
	if !params.EndTime.After(e.clock.Now()) {
		return fmt.Errorf("%w: end time must be in the future", domain.ErrInvalidConfiguration)
	}
	if params.B == 0 {
		return fmt.Errorf("%w: liquidity parameter must be positive", domain.ErrInvalidConfiguration)
	}
	return nil
}

// GetMarket returns one market.
func (e *Engine) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	m, err := e.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: get market %q: %w", id, err)
	}
	return m, nil
}

// ListMarkets returns markets newest first.
func (e *Engine) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := e.markets.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list markets: %w", err)
	}
	return markets, nil
}

// ListMarketsByStatus returns markets in one stored status, newest first.
// Remember that an Active market past its end time no longer trades.
func (e *Engine) ListMarketsByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := e.markets.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("engine: list markets by status %q: %w", status, err)
	}
	return markets, nil
}

// CountMarkets returns the total number of markets ever created.
func (e *Engine) CountMarkets(ctx context.Context) (int64, error) {
	n, err := e.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("engine: count markets: %w", err)
	}
	return n, nil
}

// MaxLoss returns the worst-case subsidy the market's operator can lose,
// ceil(b*ln(n)). The bound depends only on the market's configuration.
func (e *Engine) MaxLoss(ctx context.Context, marketID string) (uint64, error) {
	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	pool, err := amm.NewPool(m.B, m.Q, m.TotalLiquidity)
	if err != nil {
		return 0, fmt.Errorf("engine: rebuild pool: %w", err)
	}
	loss, err := pool.MaxLoss()
	if err != nil {
		return 0, fmt.Errorf("engine: max loss: %w", err)
	}
	return loss, nil
}

// MarketPrices returns the current fixed-point price vector for a market.
// The cache serves hits directly; on a miss the vector is recomputed from
// the pool and written back. Reads do not take the market lock; they observe
// the last committed state.
func (e *Engine) MarketPrices(ctx context.Context, marketID string) ([]int64, error) {
	if e.prices != nil {
		if prices, _, err := e.prices.GetPrices(ctx, marketID); err == nil && len(prices) > 0 {
			return prices, nil
		}
	}

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	pool, err := amm.NewPool(m.B, m.Q, m.TotalLiquidity)
	if err != nil {
		return nil, fmt.Errorf("engine: rebuild pool: %w", err)
	}
	prices, err := pool.Prices()
	if err != nil {
		return nil, fmt.Errorf("engine: compute prices: %w", err)
	}
	e.cachePrices(ctx, marketID, prices)
	return prices, nil
}

// QuoteBuy returns the collateral a purchase would cost right now, without
// mutating anything. The quote is only binding when re-derived inside
// BuyShares under the market lock.
func (e *Engine) QuoteBuy(ctx context.Context, marketID string, outcome uint8, shares uint64) (uint64, error) {
	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	if !m.TradableAt(e.clock.Now()) {
		return 0, domain.ErrMarketNotTradable
	}
	if !m.ValidOutcome(outcome) {
		return 0, domain.ErrInvalidOutcome
	}
	pool, err := amm.NewPool(m.B, m.Q, m.TotalLiquidity)
	if err != nil {
		return 0, fmt.Errorf("engine: rebuild pool: %w", err)
	}
	return pool.CostToBuy(int(outcome), shares)
}

// marketLockTTL bounds how long a crashed replica can hold a market hostage.
const marketLockTTL = 30 * time.Second

// lockMarket serializes mutating operations on one market and returns the
// unlock function. The in-process mutex covers goroutines in this replica;
// when a lock manager is configured the exclusion extends to every replica
// sharing the stores.
func (e *Engine) lockMarket(ctx context.Context, id string) (func(), error) {
	v, _ := e.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	if e.dlm == nil {
		return mu.Unlock, nil
	}
	release, err := e.dlm.Acquire(ctx, "market:"+id, marketLockTTL)
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("engine: lock market %q: %w", id, err)
	}
	return func() {
		release()
		mu.Unlock()
	}, nil
}

// publish sends a JSON event to the signal bus, logging instead of failing:
// event fan-out is never allowed to abort a committed operation.
func (e *Engine) publish(ctx context.Context, channel string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, data); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog appends to the audit trail, logging on failure.
func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// cachePrices refreshes the read-path price cache, best-effort.
func (e *Engine) cachePrices(ctx context.Context, marketID string, prices []int64) {
	if e.prices == nil {
		return
	}
	if err := e.prices.SetPrices(ctx, marketID, prices, e.clock.Now()); err != nil {
		e.logger.WarnContext(ctx, "price cache update failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
