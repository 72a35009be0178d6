package domain

import "time"

// RedemptionRecord marks that a participant has redeemed their winning shares
// for a market. One record per (market, participant); creating a second one
// fails, which is the whole no-double-payout guard. Immutable once written.
type RedemptionRecord struct {
	MarketID    string `json:"market_id"`
	Participant string `json:"participant"`

	// Shares redeemed and the collateral paid out for them.
	Shares uint64 `json:"shares"`
	Amount uint64 `json:"amount"`

	RedeemedAt time.Time `json:"redeemed_at"`
}
