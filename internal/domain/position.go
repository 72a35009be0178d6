package domain

import "time"

// Position is a participant's share balance in one outcome of one market.
// Positions are created on first purchase and never deleted; a zero balance
// after redemption is a valid terminal state.
type Position struct {
	MarketID    string `json:"market_id"`
	Participant string `json:"participant"`
	Outcome     uint8  `json:"outcome"`

	// Shares is the current balance. CollateralPaid accumulates everything
	// the participant spent on this outcome, kept for realized-PnL audits.
	Shares         uint64 `json:"shares"`
	CollateralPaid uint64 `json:"collateral_paid"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
