package domain

import (
	"context"
	"time"
)

// SettlementReport is the snapshot archived when a market resolves: the
// frozen pool state plus every position, enough to audit payouts offline.
type SettlementReport struct {
	MarketID       string     `json:"market_id"`
	Title          string     `json:"title"`
	Outcomes       []string   `json:"outcomes"`
	WinningOutcome uint8      `json:"winning_outcome"`
	ResolvedAt     time.Time  `json:"resolved_at"`
	B              uint64     `json:"b"`
	Q              []uint64   `json:"q"`
	TotalVolume    uint64     `json:"total_volume"`
	TotalLiquidity uint64     `json:"total_liquidity"`
	PayoutPerShare uint64     `json:"payout_per_share"`
	Positions      []Position `json:"positions"`
}

// SettlementArchiver persists settlement reports to long-term storage.
// Archival is best-effort; a failed archive never blocks resolution.
type SettlementArchiver interface {
	Archive(ctx context.Context, report SettlementReport) error
}
