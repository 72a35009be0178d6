// Package ledger tracks who owns which outcome shares and guards settlement
// against double redemption. It is a thin accounting layer over the position
// and redemption stores; all trade validation happens before it is called.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// Ledger is the position-accounting component shared by the trading and
// settlement paths.
type Ledger struct {
	positions   domain.PositionStore
	redemptions domain.RedemptionStore
	logger      *slog.Logger
}

// New creates a Ledger over the given stores.
func New(positions domain.PositionStore, redemptions domain.RedemptionStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		positions:   positions,
		redemptions: redemptions,
		logger:      logger.With(slog.String("component", "ledger")),
	}
}

// RecordPurchase credits shares to the participant's position in the given
// outcome and accumulates the collateral they paid for it. The trade has
// already been validated and paid for by the caller.
func (l *Ledger) RecordPurchase(ctx context.Context, marketID, participant string, outcome uint8, shares, collateral uint64) error {
	if err := l.positions.AddShares(ctx, marketID, participant, outcome, shares, collateral); err != nil {
		return fmt.Errorf("ledger: record purchase: %w", err)
	}

	l.logger.DebugContext(ctx, "purchase recorded",
		slog.String("market_id", marketID),
		slog.String("participant", participant),
		slog.Int("outcome", int(outcome)),
		slog.Uint64("shares", shares),
		slog.Uint64("collateral", collateral),
	)
	return nil
}

// BalanceOf returns the participant's share balance for one outcome, zero
// when no position exists.
func (l *Ledger) BalanceOf(ctx context.Context, marketID, participant string, outcome uint8) (uint64, error) {
	pos, err := l.positions.Get(ctx, marketID, participant, outcome)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: balance of %s: %w", participant, err)
	}
	return pos.Shares, nil
}

// TotalShares returns the aggregate exposure across all participants for one
// outcome of a market.
func (l *Ledger) TotalShares(ctx context.Context, marketID string, outcome uint8) (uint64, error) {
	total, err := l.positions.TotalShares(ctx, marketID, outcome)
	if err != nil {
		return 0, fmt.Errorf("ledger: total shares: %w", err)
	}
	return total, nil
}

// Redeemed reports whether the participant has already redeemed for the
// market.
func (l *Ledger) Redeemed(ctx context.Context, marketID, participant string) (bool, error) {
	_, err := l.redemptions.Get(ctx, marketID, participant)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("ledger: redemption lookup: %w", err)
	}
	return true, nil
}

// MarkRedeemed writes the redemption record for (market, participant).
// Redemption is all-or-nothing per participant: one record covers the full
// winning balance, so a second call fails with ErrAlreadyRedeemed.
func (l *Ledger) MarkRedeemed(ctx context.Context, rec domain.RedemptionRecord) error {
	if err := l.redemptions.Create(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrAlreadyRedeemed) {
			return domain.ErrAlreadyRedeemed
		}
		return fmt.Errorf("ledger: mark redeemed: %w", err)
	}
	return nil
}

// Positions returns every position a participant holds, across markets.
func (l *Ledger) Positions(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := l.positions.ListByParticipant(ctx, participant, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: list positions for %s: %w", participant, err)
	}
	return positions, nil
}

// MarketRedemptions returns every redemption recorded for one market.
func (l *Ledger) MarketRedemptions(ctx context.Context, marketID string) ([]domain.RedemptionRecord, error) {
	records, err := l.redemptions.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list market redemptions: %w", err)
	}
	return records, nil
}

// MarketPositions returns every position held in one market, used to build
// settlement reports.
func (l *Ledger) MarketPositions(ctx context.Context, marketID string) ([]domain.Position, error) {
	positions, err := l.positions.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list market positions: %w", err)
	}
	return positions, nil
}
