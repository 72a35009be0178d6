package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus represents the stored lifecycle state of a market. There is no
// stored "closed" state: closure is derived by comparing the clock against
// EndTime, so a market whose status still reads Active stops trading the
// moment its deadline passes.
type MarketStatus string

const (
	MarketStatusActive   MarketStatus = "active"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusDisputed MarketStatus = "disputed"
)

// ParseMarketStatus validates a status string from an API filter.
func ParseMarketStatus(s string) (MarketStatus, bool) {
	switch status := MarketStatus(s); status {
	case MarketStatusActive, MarketStatusResolved, MarketStatusDisputed:
		return status, true
	}
	return "", false
}

// Outcome-count and metadata bounds, fixed at market creation.
const (
	MinOutcomes = 2
	MaxOutcomes = 10

	MaxTitleLen       = 100
	MaxDescriptionLen = 500
	MaxOutcomeLen     = 100
)

// Market is one prediction event: a fixed, ordered set of mutually exclusive
// outcomes priced by an LMSR pool. Everything except the status and
// resolution fields is immutable after creation.
type Market struct {
	ID          string
	Authority   string // hex address of the creator, sole resolver
	Title       string
	Description string
	Outcomes    []string // 2..10 labels; slice order is the canonical outcome index

	// B is the LMSR liquidity parameter in share base units. Larger B means
	// a deeper pool and smaller price impact per share. Always > 0.
	B uint64

	// Q holds the cumulative shares issued per outcome, indexed like
	// Outcomes. Entries only grow while the market trades.
	Q []uint64

	// TotalVolume is all collateral ever collected; TotalLiquidity is the
	// collateral currently held in the pool (volume minus redemptions).
	TotalVolume    uint64
	TotalLiquidity uint64

	Status    MarketStatus
	CreatedAt time.Time
	EndTime   time.Time

	// Resolution fields, absent until ResolveMarket succeeds.
	WinningOutcome *uint8
	ResolvedAt     *time.Time

	// PayoutPerShare is fixed once at resolution: floor(TotalLiquidity /
	// total winning shares). Flooring keeps aggregate payouts within the
	// pool; the remainder stays in escrow.
	PayoutPerShare uint64
}

// OutcomeCount returns the number of outcomes.
func (m *Market) OutcomeCount() int { return len(m.Outcomes) }

// TradableAt reports whether the market accepts trades at the given time.
// Tradability is derived from the deadline, never from the stored status
// alone.
func (m *Market) TradableAt(now time.Time) bool {
	return m.Status == MarketStatusActive && now.Before(m.EndTime)
}

// EndedAt reports whether the trading deadline has passed.
func (m *Market) EndedAt(now time.Time) bool {
	return !now.Before(m.EndTime)
}

// ValidOutcome reports whether i indexes one of the market's outcomes.
func (m *Market) ValidOutcome(i uint8) bool {
	return int(i) < len(m.Outcomes)
}

// ValidAddress reports whether s is a well-formed hex account address.
// Participants and authorities are identified by Ethereum-style addresses.
func ValidAddress(s string) bool {
	return common.IsHexAddress(s)
}
