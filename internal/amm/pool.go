// Package amm implements the LMSR (logarithmic market scoring rule) outcome
// pool: pure, deterministic pricing and cost accounting for one market.
//
// Prices follow price_i = exp(q_i/b) / sum_j exp(q_j/b) and the cost of a
// trade is the difference of the cost function C(q) = b*ln(sum_j exp(q_j/b))
// evaluated after and before the trade. All arithmetic runs on apd decimals
// at fixed precision, so every replica computes bit-identical results; no
// float64 touches the pricing path.
//
// Charged costs are anchored to the cumulative curve: a trade pays
// ceil(C(q_new) - C(q_0)) minus everything collected so far, with a floor of
// one base unit per trade. Anchoring makes cost path-independent under
// integer rounding whenever the floor does not bind; in very deep pools,
// where an increment is worth less than one unit, the floor overcharges
// relative to a single combined purchase. Both roundings favor the pool.
// The worst-case pool subsidy is bounded by b*ln(n).
package amm

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/apd/v3"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// PriceScale is the fixed-point denominator for prices: a price of 250_000
// means 0.25. Price vectors always sum to exactly PriceScale.
const PriceScale = 1_000_000

// MaxShares bounds q_i so cost totals stay well inside uint64.
const MaxShares = uint64(1) << 62

// apdCtx is the shared decimal context. 40 digits keeps the exp/ln
// approximation error around 1e-39 relative, orders of magnitude below the
// half-ppm price quantization step.
var apdCtx = apd.BaseContext.WithPrecision(40)

// Pool is the pricing state of one market: the liquidity parameter, the
// per-outcome share supply, and the collateral collected so far. It is a
// plain value reconstructed from persisted market state; it holds no locks
// and must only be mutated by a caller that serializes writes per market.
type Pool struct {
	b         uint64
	q         []uint64
	collected uint64
}

// NewPool builds a pool from persisted state. collected is the collateral
// charged so far (the market's pool liquidity), which anchors cost rounding.
func NewPool(b uint64, q []uint64, collected uint64) (*Pool, error) {
	if b == 0 {
		return nil, domain.ErrLiquidityParamInvalid
	}
	if len(q) < domain.MinOutcomes || len(q) > domain.MaxOutcomes {
		return nil, domain.ErrInvalidConfiguration
	}
	for _, qi := range q {
		if qi > MaxShares {
			return nil, domain.ErrArithmeticOverflow
		}
	}
	return &Pool{b: b, q: append([]uint64(nil), q...), collected: collected}, nil
}

// Q returns a copy of the per-outcome share supply.
func (p *Pool) Q() []uint64 { return append([]uint64(nil), p.q...) }

// Collected returns the total collateral charged so far.
func (p *Pool) Collected() uint64 { return p.collected }

// Prices returns the instantaneous price of every outcome in PriceScale
// fixed-point. The vector sums to exactly PriceScale and every entry is
// strictly between 0 and PriceScale: integer remainders go to the outcomes
// with the largest fractional parts, and an outcome rounded to zero is lifted
// to 1 at the expense of the largest entry.
func (p *Pool) Prices() ([]int64, error) {
	weights, _, err := p.weights(p.q)
	if err != nil {
		return nil, err
	}

	sum := new(apd.Decimal)
	for _, w := range weights {
		if _, err := apdCtx.Add(sum, sum, w); err != nil {
			return nil, fmt.Errorf("amm: sum weights: %w", err)
		}
	}

	n := len(p.q)
	prices := make([]int64, n)
	fracs := make([]*apd.Decimal, n)
	var assigned int64

	scale := apd.New(PriceScale, 0)
	for i, w := range weights {
		scaled := new(apd.Decimal)
		if _, err := apdCtx.Mul(scaled, w, scale); err != nil {
			return nil, fmt.Errorf("amm: scale weight: %w", err)
		}
		exact := new(apd.Decimal)
		if _, err := apdCtx.Quo(exact, scaled, sum); err != nil {
			return nil, fmt.Errorf("amm: normalize weight: %w", err)
		}

		floor := new(apd.Decimal)
		if _, err := apdCtx.Floor(floor, exact); err != nil {
			return nil, fmt.Errorf("amm: floor price: %w", err)
		}
		pi, err := floor.Int64()
		if err != nil {
			return nil, fmt.Errorf("amm: price out of range: %w", err)
		}

		frac := new(apd.Decimal)
		if _, err := apdCtx.Sub(frac, exact, floor); err != nil {
			return nil, fmt.Errorf("amm: price remainder: %w", err)
		}

		prices[i] = pi
		fracs[i] = frac
		assigned += pi
	}

	// Hand out the leftover ppm by largest fractional part; ties keep index
	// order so the result is deterministic.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return fracs[order[a]].Cmp(fracs[order[b]]) > 0
	})
	for k := 0; assigned < PriceScale; k++ {
		prices[order[k%n]]++
		assigned++
	}

	// Keep every price strictly inside (0, PriceScale).
	for i := range prices {
		if prices[i] > 0 {
			continue
		}
		max := 0
		for j := 1; j < n; j++ {
			if prices[j] > prices[max] {
				max = j
			}
		}
		prices[max]--
		prices[i] = 1
	}

	return prices, nil
}

// CostToBuy returns the collateral required to buy delta shares of outcome i,
// holding every other supply fixed. The quote is strictly positive, strictly
// increasing and convex in delta, and path-independent as long as every step
// charges above the one-unit floor: buying a then b shares then costs exactly
// what buying a+b at once would. Steps that round below one unit pay the
// floor instead and can overcount against the combined purchase.
func (p *Pool) CostToBuy(i int, delta uint64) (uint64, error) {
	if i < 0 || i >= len(p.q) {
		return 0, domain.ErrInvalidOutcome
	}
	if delta == 0 {
		return 0, domain.ErrInvalidShares
	}
	if delta > MaxShares || p.q[i] > MaxShares-delta {
		return 0, domain.ErrArithmeticOverflow
	}

	next := append([]uint64(nil), p.q...)
	next[i] += delta

	total, err := p.collectedTarget(next)
	if err != nil {
		return 0, err
	}
	if total <= p.collected {
		// The whole increment rounds below one base unit; charge the floor
		// price of a single unit so cost stays strictly positive.
		return 1, nil
	}
	return total - p.collected, nil
}

// ApplyTrade mutates the pool after collateral has been collected: q_i grows
// by delta, the charged cost joins the collected total, and the new price
// vector is returned. Callers must quote and apply under the same market
// lock so the quoted cost cannot go stale.
func (p *Pool) ApplyTrade(i int, delta, cost uint64) ([]int64, error) {
	if i < 0 || i >= len(p.q) {
		return nil, domain.ErrInvalidOutcome
	}
	if delta == 0 {
		return nil, domain.ErrInvalidShares
	}
	if delta > MaxShares || p.q[i] > MaxShares-delta {
		return nil, domain.ErrArithmeticOverflow
	}

	p.q[i] += delta
	p.collected += cost
	return p.Prices()
}

// MaxLoss returns ceil(b*ln(n)): the worst-case subsidy the pool operator can
// lose across the life of the market, independent of trading activity.
func (p *Pool) MaxLoss() (uint64, error) {
	n := apd.New(int64(len(p.q)), 0)
	ln := new(apd.Decimal)
	if _, err := apdCtx.Ln(ln, n); err != nil {
		return 0, fmt.Errorf("amm: ln(n): %w", err)
	}
	b := new(apd.Decimal)
	b.SetInt64(int64(p.b))
	loss := new(apd.Decimal)
	if _, err := apdCtx.Mul(loss, b, ln); err != nil {
		return 0, fmt.Errorf("amm: b*ln(n): %w", err)
	}
	return ceilUint64(loss)
}

// collectedTarget computes ceil(C(q) - C(q_0)) in collateral base units:
// the cumulative amount the pool should have collected to reach supply q.
func (p *Pool) collectedTarget(q []uint64) (uint64, error) {
	now, err := p.costUnits(q)
	if err != nil {
		return 0, err
	}
	base, err := p.costUnits(make([]uint64, len(q)))
	if err != nil {
		return 0, err
	}
	diff := new(apd.Decimal)
	if _, err := apdCtx.Sub(diff, now, base); err != nil {
		return 0, fmt.Errorf("amm: cost difference: %w", err)
	}
	return ceilUint64(diff)
}

// costUnits evaluates C(q) = b*ln(sum exp(q_i/b)) via the log-sum-exp form
// C(q) = q_max + b*ln(sum exp((q_i - q_max)/b)), which keeps every exponent
// non-positive regardless of how large q grows.
func (p *Pool) costUnits(q []uint64) (*apd.Decimal, error) {
	weights, qmax, err := p.weights(q)
	if err != nil {
		return nil, err
	}

	sum := new(apd.Decimal)
	for _, w := range weights {
		if _, err := apdCtx.Add(sum, sum, w); err != nil {
			return nil, fmt.Errorf("amm: sum weights: %w", err)
		}
	}

	ln := new(apd.Decimal)
	if _, err := apdCtx.Ln(ln, sum); err != nil {
		return nil, fmt.Errorf("amm: ln: %w", err)
	}

	b := new(apd.Decimal)
	b.SetInt64(int64(p.b))
	scaled := new(apd.Decimal)
	if _, err := apdCtx.Mul(scaled, b, ln); err != nil {
		return nil, fmt.Errorf("amm: b*ln: %w", err)
	}

	cost := new(apd.Decimal)
	if _, err := apdCtx.Add(cost, qmax, scaled); err != nil {
		return nil, fmt.Errorf("amm: cost total: %w", err)
	}
	return cost, nil
}

// weights returns exp((q_i - q_max)/b) for every outcome plus q_max itself.
// Every exponent is <= 0, so weights live in (0, 1] and the largest is
// exactly 1.
func (p *Pool) weights(q []uint64) ([]*apd.Decimal, *apd.Decimal, error) {
	var qmax uint64
	for _, qi := range q {
		if qi > qmax {
			qmax = qi
		}
	}

	b := new(apd.Decimal)
	b.SetInt64(int64(p.b))

	weights := make([]*apd.Decimal, len(q))
	for i, qi := range q {
		// Deep underwater outcomes underflow exp anyway; short-circuit to an
		// exact zero before the exponent leaves the context's range.
		if (qmax-qi)/p.b >= 230_000 {
			weights[i] = new(apd.Decimal) // zero
			continue
		}
		num := new(apd.Decimal)
		num.SetInt64(int64(qi) - int64(qmax)) // <= 0, both fit in int64 by MaxShares

		x := new(apd.Decimal)
		if _, err := apdCtx.Quo(x, num, b); err != nil {
			return nil, nil, fmt.Errorf("amm: exponent: %w", err)
		}

		w := new(apd.Decimal)
		if _, err := apdCtx.Exp(w, x); err != nil {
			return nil, nil, fmt.Errorf("amm: exp: %w", err)
		}
		weights[i] = w
	}

	max := new(apd.Decimal)
	max.SetInt64(int64(qmax))
	return weights, max, nil
}

// ceilUint64 rounds d up to the next integer and converts it to uint64.
func ceilUint64(d *apd.Decimal) (uint64, error) {
	c := new(apd.Decimal)
	if _, err := apdCtx.Ceil(c, d); err != nil {
		return 0, fmt.Errorf("amm: ceil: %w", err)
	}
	v, err := c.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: cost exceeds representable range", domain.ErrArithmeticOverflow)
	}
	if v < 0 {
		return 0, nil
	}
	return uint64(v), nil
}
