package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore persists markets.
type MarketStore interface {
	Create(ctx context.Context, m Market) error
	Update(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	List(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// PositionStore persists share balances keyed by (market, participant, outcome).
type PositionStore interface {
	// AddShares increments the balance and collateral of a position,
	// creating it on first purchase.
	AddShares(ctx context.Context, marketID, participant string, outcome uint8, shares, collateral uint64) error
	Get(ctx context.Context, marketID, participant string, outcome uint8) (Position, error)
	ListByMarket(ctx context.Context, marketID string) ([]Position, error)
	ListByParticipant(ctx context.Context, participant string, opts ListOpts) ([]Position, error)
	// TotalShares sums the balances every participant holds in one outcome.
	TotalShares(ctx context.Context, marketID string, outcome uint8) (uint64, error)
}

// RedemptionStore persists redemption records.
type RedemptionStore interface {
	// Create inserts a record, failing with ErrAlreadyRedeemed when one
	// already exists for the (market, participant) pair.
	Create(ctx context.Context, rec RedemptionRecord) error
	Get(ctx context.Context, marketID, participant string) (RedemptionRecord, error)
	ListByMarket(ctx context.Context, marketID string) ([]RedemptionRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
