package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/metrics"
)

// ResolveMarket finalizes an ended market by declaring the winning outcome.
// Only the market authority may resolve. The payout per winning share is
// fixed here, once, so every later redemption pays the same rate regardless
// of order.
func (e *Engine) ResolveMarket(ctx context.Context, marketID, caller string, winning uint8) (domain.Market, error) {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	if !strings.EqualFold(caller, m.Authority) {
		return domain.Market{}, fmt.Errorf("%w: only the market authority may resolve", domain.ErrUnauthorized)
	}
	if m.Status != domain.MarketStatusActive {
		return domain.Market{}, fmt.Errorf("engine: market %q already settled: %w", marketID, domain.ErrMarketNotTradable)
	}
	now := e.clock.Now()
	if !m.EndedAt(now) {
		return domain.Market{}, fmt.Errorf("%w: trading ends at %s", domain.ErrMarketNotEnded, m.EndTime)
	}
	if !m.ValidOutcome(winning) {
		return domain.Market{}, domain.ErrInvalidOutcome
	}

	totalWinning, err := e.ledger.TotalShares(ctx, marketID, winning)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: resolve market: %w", err)
	}
	var payoutPerShare uint64
	if totalWinning > 0 {
		payoutPerShare = m.TotalLiquidity / totalWinning
	}

	m.Status = domain.MarketStatusResolved
	m.WinningOutcome = &winning
	m.ResolvedAt = &now
	m.PayoutPerShare = payoutPerShare
	if err := e.markets.Update(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("engine: persist resolution: %w", err)
	}

	metrics.MarketsResolved.Inc()
	e.publish(ctx, ChannelMarkets, map[string]any{
		"event":            "market_resolved",
		"market_id":        marketID,
		"winning_outcome":  winning,
		"payout_per_share": payoutPerShare,
	})
	e.auditLog(ctx, "market_resolved", map[string]any{
		"market_id":        marketID,
		"caller":           caller,
		"winning_outcome":  winning,
		"total_winning":    totalWinning,
		"payout_per_share": payoutPerShare,
	})
	e.archiveSettlement(ctx, m)

	e.logger.InfoContext(ctx, "market resolved",
		slog.String("market_id", marketID),
		slog.Int("winning_outcome", int(winning)),
		slog.Uint64("payout_per_share", payoutPerShare),
	)
	return m, nil
}

// DisputeMarket freezes settlement pending review. The authority may dispute
// a resolved market, or an ended market before resolution. While disputed,
// redemption is suspended and no payouts move.
func (e *Engine) DisputeMarket(ctx context.Context, marketID, caller string) (domain.Market, error) {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	if !strings.EqualFold(caller, m.Authority) {
		return domain.Market{}, fmt.Errorf("%w: only the market authority may dispute", domain.ErrUnauthorized)
	}
	switch m.Status {
	case domain.MarketStatusResolved:
	case domain.MarketStatusActive:
		if !m.EndedAt(e.clock.Now()) {
			return domain.Market{}, fmt.Errorf("%w: cannot dispute before trading ends", domain.ErrMarketNotEnded)
		}
	default:
		return domain.Market{}, fmt.Errorf("engine: market %q already disputed: %w", marketID, domain.ErrRedemptionSuspended)
	}

	m.Status = domain.MarketStatusDisputed
	if err := e.markets.Update(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("engine: persist dispute: %w", err)
	}

	e.publish(ctx, ChannelMarkets, map[string]any{
		"event":     "market_disputed",
		"market_id": marketID,
	})
	e.auditLog(ctx, "market_disputed", map[string]any{
		"market_id": marketID,
		"caller":    caller,
	})
	e.logger.InfoContext(ctx, "market disputed", slog.String("market_id", marketID))
	return m, nil
}

// ReinstateMarket settles a disputed market on the given outcome, recomputing
// the payout rate from the remaining pool so funds already paid out before
// the dispute are never promised twice.
func (e *Engine) ReinstateMarket(ctx context.Context, marketID, caller string, winning uint8) (domain.Market, error) {
	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	if !strings.EqualFold(caller, m.Authority) {
		return domain.Market{}, fmt.Errorf("%w: only the market authority may reinstate", domain.ErrUnauthorized)
	}
	if m.Status != domain.MarketStatusDisputed {
		return domain.Market{}, fmt.Errorf("engine: market %q is not disputed: %w", marketID, domain.ErrMarketNotResolved)
	}
	if !m.ValidOutcome(winning) {
		return domain.Market{}, domain.ErrInvalidOutcome
	}

	totalWinning, err := e.ledger.TotalShares(ctx, marketID, winning)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: reinstate market: %w", err)
	}
	redeemed, err := e.redeemedShares(ctx, marketID)
	if err != nil {
		return domain.Market{}, err
	}
	var payoutPerShare uint64
	if outstanding := totalWinning - min(redeemed, totalWinning); outstanding > 0 {
		payoutPerShare = m.TotalLiquidity / outstanding
	}

	now := e.clock.Now()
	m.Status = domain.MarketStatusResolved
	m.WinningOutcome = &winning
	m.ResolvedAt = &now
	m.PayoutPerShare = payoutPerShare
	if err := e.markets.Update(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("engine: persist reinstatement: %w", err)
	}

	metrics.MarketsResolved.Inc()
	e.publish(ctx, ChannelMarkets, map[string]any{
		"event":            "market_resolved",
		"market_id":        marketID,
		"winning_outcome":  winning,
		"payout_per_share": payoutPerShare,
	})
	e.auditLog(ctx, "market_reinstated", map[string]any{
		"market_id":        marketID,
		"caller":           caller,
		"winning_outcome":  winning,
		"payout_per_share": payoutPerShare,
	})
	e.logger.InfoContext(ctx, "market reinstated",
		slog.String("market_id", marketID),
		slog.Int("winning_outcome", int(winning)),
	)
	return m, nil
}

// redeemedShares sums the shares already redeemed for a market, used when a
// post-dispute reinstatement has to recompute the payout rate.
func (e *Engine) redeemedShares(ctx context.Context, marketID string) (uint64, error) {
	records, err := e.ledger.MarketRedemptions(ctx, marketID)
	if err != nil {
		return 0, fmt.Errorf("engine: reinstate market: %w", err)
	}
	var total uint64
	for _, rec := range records {
		total += rec.Shares
	}
	return total, nil
}

// RedeemResult describes a completed redemption.
type RedeemResult struct {
	MarketID    string `json:"market_id"`
	Participant string `json:"participant"`
	Shares      uint64 `json:"shares"`
	Amount      uint64 `json:"amount"`
}

// Redeem pays out a participant's full winning balance at the market's fixed
// payout rate. Each participant redeems at most once per market.
func (e *Engine) Redeem(ctx context.Context, marketID, participant string) (RedeemResult, error) {
	if !domain.ValidAddress(participant) {
		return RedeemResult{}, fmt.Errorf("%w: invalid participant address %q", domain.ErrUnauthorized, participant)
	}

	unlock, err := e.lockMarket(ctx, marketID)
	if err != nil {
		metrics.Redemptions.WithLabelValues("rejected").Inc()
		return RedeemResult{}, err
	}
	defer unlock()

	m, err := e.markets.GetByID(ctx, marketID)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("engine: get market %q: %w", marketID, err)
	}
	switch m.Status {
	case domain.MarketStatusDisputed:
		return RedeemResult{}, domain.ErrRedemptionSuspended
	case domain.MarketStatusActive:
		return RedeemResult{}, domain.ErrMarketNotResolved
	}
	if m.WinningOutcome == nil {
		return RedeemResult{}, domain.ErrMarketNotResolved
	}

	redeemed, err := e.ledger.Redeemed(ctx, marketID, participant)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("engine: redeem: %w", err)
	}
	if redeemed {
		return RedeemResult{}, domain.ErrAlreadyRedeemed
	}

	balance, err := e.ledger.BalanceOf(ctx, marketID, participant, *m.WinningOutcome)
	if err != nil {
		return RedeemResult{}, fmt.Errorf("engine: redeem: %w", err)
	}
	if balance == 0 {
		return RedeemResult{}, domain.ErrNothingToRedeem
	}

	if m.PayoutPerShare > 0 && balance > math.MaxUint64/m.PayoutPerShare {
		return RedeemResult{}, fmt.Errorf("engine: payout amount: %w", domain.ErrArithmeticOverflow)
	}
	amount := balance * m.PayoutPerShare

	escrow := domain.EscrowAccount(marketID)
	if amount > 0 {
		if err := e.treasury.Transfer(ctx, escrow, participant, amount); err != nil {
			metrics.Redemptions.WithLabelValues("rejected").Inc()
			return RedeemResult{}, fmt.Errorf("engine: pay out: %w", errors.Join(domain.ErrTransferFailed, err))
		}
	}

	rec := domain.RedemptionRecord{
		MarketID:    marketID,
		Participant: participant,
		Shares:      balance,
		Amount:      amount,
		RedeemedAt:  e.clock.Now(),
	}
	if err := e.ledger.MarkRedeemed(ctx, rec); err != nil {
		if amount > 0 {
			e.refund(ctx, participant, escrow, amount)
		}
		if errors.Is(err, domain.ErrAlreadyRedeemed) {
			return RedeemResult{}, domain.ErrAlreadyRedeemed
		}
		return RedeemResult{}, fmt.Errorf("engine: redeem: %w", err)
	}

	m.TotalLiquidity -= min(amount, m.TotalLiquidity)
	if err := e.markets.Update(ctx, m); err != nil {
		e.logger.ErrorContext(ctx, "liquidity bookkeeping update failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}

	metrics.Redemptions.WithLabelValues("paid").Inc()
	metrics.RedemptionPaid.Add(float64(amount))
	e.publish(ctx, ChannelRedemptions, map[string]any{
		"event":       "redemption",
		"market_id":   marketID,
		"participant": participant,
		"shares":      balance,
		"amount":      amount,
	})
	e.auditLog(ctx, "redemption", map[string]any{
		"market_id":   marketID,
		"participant": participant,
		"shares":      balance,
		"amount":      amount,
	})

	e.logger.InfoContext(ctx, "redemption paid",
		slog.String("market_id", marketID),
		slog.String("participant", participant),
		slog.Uint64("shares", balance),
		slog.Uint64("amount", amount),
	)
	return RedeemResult{
		MarketID:    marketID,
		Participant: participant,
		Shares:      balance,
		Amount:      amount,
	}, nil
}

// archiveSettlement snapshots the resolved market for offline audit,
// best-effort.
func (e *Engine) archiveSettlement(ctx context.Context, m domain.Market) {
	if e.archiver == nil || m.WinningOutcome == nil || m.ResolvedAt == nil {
		return
	}
	positions, err := e.ledger.MarketPositions(ctx, m.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "settlement report positions unavailable",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	report := domain.SettlementReport{
		MarketID:       m.ID,
		Title:          m.Title,
		Outcomes:       m.Outcomes,
		WinningOutcome: *m.WinningOutcome,
		ResolvedAt:     *m.ResolvedAt,
		B:              m.B,
		Q:              m.Q,
		TotalVolume:    m.TotalVolume,
		TotalLiquidity: m.TotalLiquidity,
		PayoutPerShare: m.PayoutPerShare,
		Positions:      positions,
	}
	if err := e.archiver.Archive(ctx, report); err != nil {
		e.logger.WarnContext(ctx, "settlement archive failed",
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}
