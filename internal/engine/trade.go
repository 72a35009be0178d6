package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dejavu-markets/dejavu/internal/amm"
	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/metrics"
)

// TradeResult describes an executed purchase.
type TradeResult struct {
	MarketID string  `json:"market_id"`
	Buyer    string  `json:"buyer"`
	Outcome  uint8   `json:"outcome"`
	Shares   uint64  `json:"shares"`
	Cost     uint64  `json:"cost"`
	Prices   []int64 `json:"prices"`
}

// BuyShares purchases shares of one outcome at the pool's current marginal
// cost. Pricing, payment, supply update, and position credit commit as one
// atomic step under the market lock; any failure after the collateral
// transfer is compensated by refunding the buyer.
func (e *Engine) BuyShares(ctx context.Context, marketID, buyer string, outcome uint8, shares uint64) (TradeResult, error) {
	if !domain.ValidAddress(buyer) {
		return TradeResult{}, fmt.Errorf("%w: invalid buyer address %q", domain.ErrUnauthorized, buyer)
	}
	if shares == 0 {
		return TradeResult{}, fmt.Errorf("%w: share count must be positive", domain.ErrInvalidShares)
	}

	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		metrics.TradesExecuted.WithLabelValues("rejected").Inc()
		return TradeResult{}, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	if !m.TradableAt(e.clock.Now()) {
		return TradeResult{}, domain.ErrMarketNotTradable
	}
	if !m.ValidOutcome(outcome) {
		return TradeResult{}, domain.ErrInvalidOutcome
	}

	pool, err := amm.NewPool(m.B, m.Q, m.TotalLiquidity)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: rebuild pool: %w", err)
	}
	cost, err := pool.CostToBuy(int(outcome), shares)
	if err != nil {
		metrics.TradesExecuted.WithLabelValues("rejected").Inc()
		return TradeResult{}, fmt.Errorf("engine: price trade: %w", err)
	}

	escrow := domain.EscrowAccount(marketID)
	if err := e.treasury.Transfer(ctx, buyer, escrow, cost); err != nil {
		metrics.TradesExecuted.WithLabelValues("rejected").Inc()
		return TradeResult{}, fmt.Errorf("engine: collect cost: %w", errors.Join(domain.ErrTransferFailed, err))
	}

	prices, err := pool.ApplyTrade(int(outcome), shares, cost)
	if err != nil {
		e.refund(ctx, escrow, buyer, cost)
		return TradeResult{}, fmt.Errorf("engine: apply trade: %w", err)
	}

	prev := m
	m.Q = pool.Q()
	if m.TotalVolume > math.MaxUint64-cost {
		e.refund(ctx, escrow, buyer, cost)
		return TradeResult{}, fmt.Errorf("engine: total volume: %w", domain.ErrArithmeticOverflow)
	}
	m.TotalVolume += cost
	m.TotalLiquidity += cost

	if err := e.markets.Update(ctx, m); err != nil {
		e.refund(ctx, escrow, buyer, cost)
		return TradeResult{}, fmt.Errorf("engine: persist market: %w", err)
	}
	if err := e.ledger.RecordPurchase(ctx, marketID, buyer, outcome, shares, cost); err != nil {
		if uerr := e.markets.Update(ctx, prev); uerr != nil {
			e.logger.ErrorContext(ctx, "rollback of market state failed",
				slog.String("market_id", marketID),
				slog.String("error", uerr.Error()),
			)
		}
		e.refund(ctx, escrow, buyer, cost)
		return TradeResult{}, fmt.Errorf("engine: record purchase: %w", err)
	}

	metrics.TradesExecuted.WithLabelValues("filled").Inc()
	metrics.TradeVolume.Add(float64(shares))
	metrics.TradeCost.Observe(float64(cost))

	e.cachePrices(ctx, marketID, prices)
	result := TradeResult{
		MarketID: marketID,
		Buyer:    buyer,
		Outcome:  outcome,
		Shares:   shares,
		Cost:     cost,
		Prices:   prices,
	}
	e.publish(ctx, ChannelTrades, map[string]any{
		"event":     "trade",
		"market_id": marketID,
		"buyer":     buyer,
		"outcome":   outcome,
		"shares":    shares,
		"cost":      cost,
		"prices":    prices,
	})
	e.auditLog(ctx, "trade_executed", map[string]any{
		"market_id": marketID,
		"buyer":     buyer,
		"outcome":   outcome,
		"shares":    shares,
		"cost":      cost,
	})

	e.logger.InfoContext(ctx, "trade executed",
		slog.String("market_id", marketID),
		slog.String("buyer", buyer),
		slog.Int("outcome", int(outcome)),
		slog.Uint64("shares", shares),
		slog.Uint64("cost", cost),
	)
	return result, nil
}

// refund returns collateral after a failure between payment and commit. A
// failed refund is logged loudly for manual reconciliation; there is nothing
// further the trade path can do with the funds stuck in escrow.
func (e *Engine) refund(ctx context.Context, escrow, buyer string, amount uint64) {
	if err := e.treasury.Transfer(ctx, escrow, buyer, amount); err != nil {
		e.logger.ErrorContext(ctx, "refund failed, funds held in escrow",
			slog.String("escrow", escrow),
			slog.String("buyer", buyer),
			slog.Uint64("amount", amount),
			slog.String("error", err.Error()),
		)
	}
}
