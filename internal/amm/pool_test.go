package amm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// refPrice is the ideal real-valued LMSR price, used only to bound the
// fixed-point approximation error.
func refPrice(b float64, q []uint64, i int) float64 {
	var max float64
	for _, qj := range q {
		if f := float64(qj); f > max {
			max = f
		}
	}
	var sum float64
	for _, qj := range q {
		sum += math.Exp((float64(qj) - max) / b)
	}
	return math.Exp((float64(q[i])-max)/b) / sum
}

// refCost is the ideal real-valued C(q) relative to C(0).
func refCost(b float64, q []uint64) float64 {
	var sum float64
	for _, qj := range q {
		sum += math.Exp(float64(qj) / b)
	}
	return b*math.Log(sum) - b*math.Log(float64(len(q)))
}

func TestNewPoolValidation(t *testing.T) {
	t.Run("zero liquidity", func(t *testing.T) {
		_, err := NewPool(0, []uint64{0, 0}, 0)
		require.ErrorIs(t, err, domain.ErrLiquidityParamInvalid)
	})

	t.Run("too few outcomes", func(t *testing.T) {
		_, err := NewPool(100, []uint64{0}, 0)
		require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})

	t.Run("too many outcomes", func(t *testing.T) {
		_, err := NewPool(100, make([]uint64, 11), 0)
		require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	})

	t.Run("valid", func(t *testing.T) {
		p, err := NewPool(100, []uint64{5, 10, 0}, 7)
		require.NoError(t, err)
		require.Equal(t, []uint64{5, 10, 0}, p.Q())
		require.Equal(t, uint64(7), p.Collected())
	})
}

func TestPricesNormalization(t *testing.T) {
	cases := []struct {
		name string
		b    uint64
		q    []uint64
	}{
		{"fresh binary", 100, []uint64{0, 0}},
		{"skewed binary", 100, []uint64{250, 40}},
		{"heavily skewed", 50, []uint64{0, 900}},
		{"three way", 100, []uint64{10, 20, 30}},
		{"ten way", 1000, []uint64{1, 22, 333, 4444, 0, 17, 17, 900, 12, 5}},
		{"deep market", 1_000_000, []uint64{123456, 654321}},
		{"extreme skew clamps to one ppm", 10, []uint64{0, 5000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPool(tc.b, tc.q, 0)
			require.NoError(t, err)

			prices, err := p.Prices()
			require.NoError(t, err)
			require.Len(t, prices, len(tc.q))

			var sum int64
			for i, pi := range prices {
				require.Greater(t, pi, int64(0), "price %d must stay above zero", i)
				require.Less(t, pi, int64(PriceScale), "price %d must stay below one", i)
				sum += pi
			}
			require.Equal(t, int64(PriceScale), sum)
		})
	}
}

func TestPricesUniformOnFreshPool(t *testing.T) {
	for _, n := range []int{2, 4, 5} {
		p, err := NewPool(100, make([]uint64, n), 0)
		require.NoError(t, err)

		prices, err := p.Prices()
		require.NoError(t, err)
		for _, pi := range prices {
			require.Equal(t, int64(PriceScale/n), pi)
		}
	}
}

func TestPriceApproximationError(t *testing.T) {
	// The documented target: < 0.1% relative deviation from the ideal
	// real-valued formula wherever the price is large enough for relative
	// error to be meaningful.
	cases := []struct {
		b uint64
		q []uint64
	}{
		{100, []uint64{0, 0}},
		{100, []uint64{10, 0}},
		{100, []uint64{75, 30}},
		{100, []uint64{300, 150, 80}},
		{1000, []uint64{5000, 4000, 100, 2500}},
		{7, []uint64{13, 29}},
	}

	for _, tc := range cases {
		p, err := NewPool(tc.b, tc.q, 0)
		require.NoError(t, err)
		prices, err := p.Prices()
		require.NoError(t, err)

		for i, pi := range prices {
			ideal := refPrice(float64(tc.b), tc.q, i)
			got := float64(pi) / PriceScale
			if ideal < 1e-4 {
				require.InDelta(t, ideal, got, 2.0/PriceScale)
				continue
			}
			require.InEpsilon(t, ideal, got, 0.001,
				"b=%d q=%v outcome=%d", tc.b, tc.q, i)
		}
	}
}

func TestCostToBuyPositiveAndMonotonic(t *testing.T) {
	p, err := NewPool(100, []uint64{0, 0}, 0)
	require.NoError(t, err)

	var prev uint64
	for _, delta := range []uint64{1, 10, 50, 100, 500, 1000} {
		cost, err := p.CostToBuy(0, delta)
		require.NoError(t, err)
		require.Greater(t, cost, uint64(0))
		require.Greater(t, cost, prev, "cost must strictly increase with delta")
		prev = cost
	}
}

func TestCostToBuyConvex(t *testing.T) {
	p, err := NewPool(100, []uint64{0, 0}, 0)
	require.NoError(t, err)

	// Totals at 100, 200, 300 shares: the marginal cost of each successive
	// block must strictly grow.
	c1, err := p.CostToBuy(0, 100)
	require.NoError(t, err)
	c2, err := p.CostToBuy(0, 200)
	require.NoError(t, err)
	c3, err := p.CostToBuy(0, 300)
	require.NoError(t, err)

	block1 := c1
	block2 := c2 - c1
	block3 := c3 - c2
	require.Greater(t, block2, block1, "second block must cost more than the first")
	require.Greater(t, block3, block2, "third block must cost more than the second")
}

func TestCostToBuyPathIndependence(t *testing.T) {
	splits := []struct{ a, b uint64 }{
		{7, 13}, {1, 19}, {10, 10}, {19, 1}, {3, 17},
	}

	for _, split := range splits {
		total := split.a + split.b

		oneShot, err := NewPool(100, []uint64{0, 0}, 0)
		require.NoError(t, err)
		wholeCost, err := oneShot.CostToBuy(0, total)
		require.NoError(t, err)

		twoStep, err := NewPool(100, []uint64{0, 0}, 0)
		require.NoError(t, err)
		first, err := twoStep.CostToBuy(0, split.a)
		require.NoError(t, err)
		_, err = twoStep.ApplyTrade(0, split.a, first)
		require.NoError(t, err)
		second, err := twoStep.CostToBuy(0, split.b)
		require.NoError(t, err)

		require.Equal(t, wholeCost, first+second,
			"split %d+%d must cost the same as %d at once", split.a, split.b, total)
	}

	// In a pool deep enough that single shares are worth less than one base
	// unit, the one-unit floor binds and sequential buys overcount against
	// the combined purchase. The drift always favors the pool.
	t.Run("one unit floor binds in deep pools", func(t *testing.T) {
		const b = uint64(1) << 40

		oneShot, err := NewPool(b, []uint64{0, 0}, 0)
		require.NoError(t, err)
		wholeCost, err := oneShot.CostToBuy(0, 3)
		require.NoError(t, err)
		require.Equal(t, uint64(2), wholeCost)

		stepwise, err := NewPool(b, []uint64{0, 0}, 0)
		require.NoError(t, err)
		var total uint64
		for i := 0; i < 3; i++ {
			cost, err := stepwise.CostToBuy(0, 1)
			require.NoError(t, err)
			require.GreaterOrEqual(t, cost, uint64(1))
			_, err = stepwise.ApplyTrade(0, 1, cost)
			require.NoError(t, err)
			total += cost
		}
		require.Equal(t, uint64(3), total)
		require.Greater(t, total, wholeCost)
	})
}

func TestCostApproximationError(t *testing.T) {
	cases := []struct {
		b     uint64
		q     []uint64
		i     int
		delta uint64
	}{
		{100, []uint64{0, 0}, 0, 100},
		{100, []uint64{500, 200}, 1, 250},
		{1000, []uint64{100, 900, 40}, 2, 5000},
	}

	for _, tc := range cases {
		p, err := NewPool(tc.b, tc.q, 0)
		require.NoError(t, err)
		// Anchor collected to the current supply so the charge isolates
		// this single trade.
		target, err := p.collectedTarget(tc.q)
		require.NoError(t, err)
		p.collected = target

		cost, err := p.CostToBuy(tc.i, tc.delta)
		require.NoError(t, err)

		next := append([]uint64(nil), tc.q...)
		next[tc.i] += tc.delta
		ideal := refCost(float64(tc.b), next) - refCost(float64(tc.b), tc.q)

		// Ceiling rounds at most one base unit past the ideal value.
		require.LessOrEqual(t, math.Abs(float64(cost)-ideal), 1+0.001*ideal,
			"b=%d q=%v delta=%d", tc.b, tc.q, tc.delta)
	}
}

func TestCostToBuyErrors(t *testing.T) {
	p, err := NewPool(100, []uint64{0, 0}, 0)
	require.NoError(t, err)

	t.Run("bad outcome", func(t *testing.T) {
		_, err := p.CostToBuy(2, 10)
		require.ErrorIs(t, err, domain.ErrInvalidOutcome)
	})

	t.Run("zero shares", func(t *testing.T) {
		_, err := p.CostToBuy(0, 0)
		require.ErrorIs(t, err, domain.ErrInvalidShares)
	})

	t.Run("supply overflow", func(t *testing.T) {
		full, err := NewPool(100, []uint64{MaxShares - 5, 0}, 0)
		require.NoError(t, err)
		_, err = full.CostToBuy(0, 10)
		require.ErrorIs(t, err, domain.ErrArithmeticOverflow)
	})
}

func TestMinimumCharge(t *testing.T) {
	// A one-share trade against an extremely deep pool rounds below one
	// base unit; the pool still charges the one-unit floor.
	p, err := NewPool(1<<40, []uint64{0, 0}, 0)
	require.NoError(t, err)

	cost, err := p.CostToBuy(0, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cost)
}

func TestApplyTradeMovesPrices(t *testing.T) {
	p, err := NewPool(100, []uint64{0, 0}, 0)
	require.NoError(t, err)

	before, err := p.Prices()
	require.NoError(t, err)

	cost, err := p.CostToBuy(0, 10)
	require.NoError(t, err)
	after, err := p.ApplyTrade(0, 10, cost)
	require.NoError(t, err)

	require.Greater(t, after[0], before[0], "bought outcome must rise")
	require.Less(t, after[1], before[1], "other outcome must fall")
	require.Equal(t, int64(PriceScale), after[0]+after[1])
	require.Equal(t, []uint64{10, 0}, p.Q())
	require.Equal(t, cost, p.Collected())
}

func TestMaxLoss(t *testing.T) {
	p, err := NewPool(100, []uint64{0, 0}, 0)
	require.NoError(t, err)

	loss, err := p.MaxLoss()
	require.NoError(t, err)
	// ceil(100 * ln 2)
	require.Equal(t, uint64(70), loss)
}
