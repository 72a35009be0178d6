package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/ledger"
	"github.com/dejavu-markets/dejavu/internal/store/memory"
)

const (
	authority = "0x1111111111111111111111111111111111111111"
	alice     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	bob       = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine   *Engine
	treasury *memory.Treasury
	clock    *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	treasury := memory.NewTreasury()
	eng := New(Config{
		Markets:  memory.NewMarketStore(),
		Ledger:   ledger.New(memory.NewPositionStore(), memory.NewRedemptionStore(), logger),
		Treasury: treasury,
		Clock:    clock,
		Audit:    memory.NewAuditStore(),
		Logger:   logger,
	})
	return &fixture{engine: eng, treasury: treasury, clock: clock}
}

func (f *fixture) createMarket(t *testing.T, outcomes []string, b uint64) domain.Market {
	t.Helper()
	m, err := f.engine.CreateMarket(context.Background(), CreateMarketParams{
		Authority: authority,
		Title:     "Will it rain tomorrow?",
		Outcomes:  outcomes,
		EndTime:   f.clock.Now().Add(24 * time.Hour),
		B:         b,
	})
	require.NoError(t, err)
	return m
}

func (f *fixture) fund(t *testing.T, account string, amount uint64) {
	t.Helper()
	require.NoError(t, f.treasury.Deposit(context.Background(), account, amount))
}

func TestCreateMarketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := CreateMarketParams{
		Authority: authority,
		Title:     "test",
		Outcomes:  []string{"Yes", "No"},
		EndTime:   f.clock.Now().Add(time.Hour),
		B:         100,
	}

	cases := []struct {
		name   string
		mutate func(*CreateMarketParams)
	}{
		{"one outcome", func(p *CreateMarketParams) { p.Outcomes = []string{"Yes"} }},
		{"eleven outcomes", func(p *CreateMarketParams) {
			p.Outcomes = make([]string, 11)
			for i := range p.Outcomes {
				p.Outcomes[i] = "outcome"
			}
		}},
		{"empty outcome label", func(p *CreateMarketParams) { p.Outcomes = []string{"Yes", "  "} }},
		{"past end time", func(p *CreateMarketParams) { p.EndTime = f.clock.Now().Add(-time.Minute) }},
		{"end time now", func(p *CreateMarketParams) { p.EndTime = f.clock.Now() }},
		{"zero liquidity", func(p *CreateMarketParams) { p.B = 0 }},
		{"bad authority", func(p *CreateMarketParams) { p.Authority = "not-an-address" }},
		{"long title", func(p *CreateMarketParams) {
			p.Title = string(make([]byte, domain.MaxTitleLen+1))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := base
			tc.mutate(&params)
			_, err := f.engine.CreateMarket(ctx, params)
			require.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}

	m, err := f.engine.CreateMarket(ctx, base)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusActive, m.Status)
	require.Equal(t, []uint64{0, 0}, m.Q)
}

func TestFreshMarketPricesAreUniform(t *testing.T) {
	f := newFixture(t)
	m := f.createMarket(t, []string{"Yes", "No"}, 100)

	prices, err := f.engine.MarketPrices(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{500_000, 500_000}, prices)
}

func TestBuySharesMovesPricesAndVolume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)
	f.fund(t, alice, 1_000)

	quote, err := f.engine.QuoteBuy(ctx, m.ID, 0, 10)
	require.NoError(t, err)

	res, err := f.engine.BuyShares(ctx, m.ID, alice, 0, 10)
	require.NoError(t, err)
	require.Equal(t, quote, res.Cost)
	require.Greater(t, res.Cost, uint64(0))
	require.Greater(t, res.Prices[0], int64(500_000))
	require.Less(t, res.Prices[1], int64(500_000))

	updated, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 0}, updated.Q)
	require.Equal(t, res.Cost, updated.TotalVolume)
	require.Equal(t, res.Cost, updated.TotalLiquidity)

	escrow, err := f.treasury.Balance(ctx, domain.EscrowAccount(m.ID))
	require.NoError(t, err)
	require.Equal(t, res.Cost, escrow)
}

func TestBuySharesRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)
	f.fund(t, alice, 1_000)

	_, err := f.engine.BuyShares(ctx, m.ID, "nope", 0, 10)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.BuyShares(ctx, m.ID, alice, 0, 0)
	require.ErrorIs(t, err, domain.ErrInvalidShares)

	_, err = f.engine.BuyShares(ctx, m.ID, alice, 2, 10)
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = f.engine.BuyShares(ctx, "missing", alice, 0, 10)
	require.ErrorIs(t, err, domain.ErrNotFound)

	f.clock.Advance(25 * time.Hour)
	_, err = f.engine.BuyShares(ctx, m.ID, alice, 0, 10)
	require.ErrorIs(t, err, domain.ErrMarketNotTradable)
}

func TestBuySharesInsufficientFundsLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)

	_, err := f.engine.BuyShares(ctx, m.ID, alice, 0, 10)
	require.ErrorIs(t, err, domain.ErrTransferFailed)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	after, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 0}, after.Q)
	require.Zero(t, after.TotalVolume)
}

func TestTwoOutcomeLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)
	f.fund(t, alice, 10_000)
	f.fund(t, bob, 10_000)

	yes, err := f.engine.BuyShares(ctx, m.ID, alice, 0, 50)
	require.NoError(t, err)
	no, err := f.engine.BuyShares(ctx, m.ID, bob, 1, 30)
	require.NoError(t, err)

	// Resolution is rejected while trading is open.
	_, err = f.engine.ResolveMarket(ctx, m.ID, authority, 0)
	require.ErrorIs(t, err, domain.ErrMarketNotEnded)

	f.clock.Advance(25 * time.Hour)

	_, err = f.engine.ResolveMarket(ctx, m.ID, alice, 0)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	resolved, err := f.engine.ResolveMarket(ctx, m.ID, authority, 0)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusResolved, resolved.Status)
	require.NotNil(t, resolved.WinningOutcome)
	require.Equal(t, uint8(0), *resolved.WinningOutcome)

	pool := yes.Cost + no.Cost
	wantRate := pool / 50
	require.Equal(t, wantRate, resolved.PayoutPerShare)

	res, err := f.engine.Redeem(ctx, m.ID, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(50), res.Shares)
	require.Equal(t, 50*wantRate, res.Amount)

	// Bob holds only the losing outcome.
	_, err = f.engine.Redeem(ctx, m.ID, bob)
	require.ErrorIs(t, err, domain.ErrNothingToRedeem)

	// Double redemption moves no value.
	before, err := f.treasury.Balance(ctx, alice)
	require.NoError(t, err)
	_, err = f.engine.Redeem(ctx, m.ID, alice)
	require.ErrorIs(t, err, domain.ErrAlreadyRedeemed)
	after, err := f.treasury.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, before, after)

	// Payouts never exceed the pool; the rounding dust stays in escrow.
	escrow, err := f.treasury.Balance(ctx, domain.EscrowAccount(m.ID))
	require.NoError(t, err)
	require.Equal(t, pool-res.Amount, escrow)
}

func TestResolveRejectsInvalidOutcome(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)
	f.clock.Advance(25 * time.Hour)

	_, err := f.engine.ResolveMarket(ctx, m.ID, authority, 2)
	require.ErrorIs(t, err, domain.ErrInvalidOutcome)
}

func TestResolveWithNoWinnersPaysZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)
	f.fund(t, bob, 1_000)

	_, err := f.engine.BuyShares(ctx, m.ID, bob, 1, 10)
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)

	resolved, err := f.engine.ResolveMarket(ctx, m.ID, authority, 0)
	require.NoError(t, err)
	require.Zero(t, resolved.PayoutPerShare)

	_, err = f.engine.Redeem(ctx, m.ID, bob)
	require.ErrorIs(t, err, domain.ErrNothingToRedeem)
}

func TestRedeemBeforeResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)

	_, err := f.engine.Redeem(ctx, m.ID, alice)
	require.ErrorIs(t, err, domain.ErrMarketNotResolved)
}

func TestDisputeSuspendsRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)
	f.fund(t, alice, 1_000)

	_, err := f.engine.BuyShares(ctx, m.ID, alice, 0, 10)
	require.NoError(t, err)
	f.clock.Advance(25 * time.Hour)

	_, err = f.engine.ResolveMarket(ctx, m.ID, authority, 0)
	require.NoError(t, err)

	_, err = f.engine.DisputeMarket(ctx, m.ID, alice)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.engine.DisputeMarket(ctx, m.ID, authority)
	require.NoError(t, err)

	_, err = f.engine.Redeem(ctx, m.ID, alice)
	require.ErrorIs(t, err, domain.ErrRedemptionSuspended)

	// Reinstating on a different outcome settles the dispute.
	reinstated, err := f.engine.ReinstateMarket(ctx, m.ID, authority, 1)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStatusResolved, reinstated.Status)
	require.Equal(t, uint8(1), *reinstated.WinningOutcome)

	_, err = f.engine.Redeem(ctx, m.ID, alice)
	require.ErrorIs(t, err, domain.ErrNothingToRedeem)
}

func TestTransferOutageAbortsTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 100)
	f.fund(t, alice, 1_000)

	f.treasury.FailNext = true
	_, err := f.engine.BuyShares(ctx, m.ID, alice, 0, 10)
	require.ErrorIs(t, err, domain.ErrTransferFailed)

	after, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, 0}, after.Q)

	balance, err := f.treasury.Balance(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), balance)
}

func TestEscrowConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No", "Maybe"}, 200)
	f.fund(t, alice, 100_000)
	f.fund(t, bob, 100_000)

	var collected uint64
	buys := []struct {
		buyer   string
		outcome uint8
		shares  uint64
	}{
		{alice, 0, 40}, {bob, 1, 25}, {alice, 2, 10}, {bob, 0, 15}, {alice, 0, 5},
	}
	for _, b := range buys {
		res, err := f.engine.BuyShares(ctx, m.ID, b.buyer, b.outcome, b.shares)
		require.NoError(t, err)
		collected += res.Cost
	}

	escrow, err := f.treasury.Balance(ctx, domain.EscrowAccount(m.ID))
	require.NoError(t, err)
	require.Equal(t, collected, escrow)

	current, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, collected, current.TotalLiquidity)

	f.clock.Advance(25 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, m.ID, authority, 0)
	require.NoError(t, err)

	aliceRes, err := f.engine.Redeem(ctx, m.ID, alice)
	require.NoError(t, err)
	bobRes, err := f.engine.Redeem(ctx, m.ID, bob)
	require.NoError(t, err)

	escrow, err = f.treasury.Balance(ctx, domain.EscrowAccount(m.ID))
	require.NoError(t, err)
	require.Equal(t, collected-aliceRes.Amount-bobRes.Amount, escrow)

	current, err = f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, escrow, current.TotalLiquidity)
}

type stubLockManager struct {
	mu sync.Mutex

	contended bool
	acquired  []string
	released  int
}

func (s *stubLockManager) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contended {
		return nil, domain.ErrLockHeld
	}
	s.acquired = append(s.acquired, key)
	return func() {
		s.mu.Lock()
		s.released++
		s.mu.Unlock()
	}, nil
}

func TestReplicaLockWrapsMutations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	treasury := memory.NewTreasury()
	locks := &stubLockManager{}
	eng := New(Config{
		Markets:  memory.NewMarketStore(),
		Ledger:   ledger.New(memory.NewPositionStore(), memory.NewRedemptionStore(), logger),
		Treasury: treasury,
		Clock:    clock,
		Locks:    locks,
		Logger:   logger,
	})
	ctx := context.Background()

	m, err := eng.CreateMarket(ctx, CreateMarketParams{
		Authority: authority,
		Title:     "test",
		Outcomes:  []string{"Yes", "No"},
		EndTime:   clock.Now().Add(24 * time.Hour),
		B:         100,
	})
	require.NoError(t, err)
	require.NoError(t, treasury.Deposit(ctx, alice, 1_000))

	_, err = eng.BuyShares(ctx, m.ID, alice, 0, 10)
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)
	_, err = eng.ResolveMarket(ctx, m.ID, authority, 0)
	require.NoError(t, err)
	_, err = eng.Redeem(ctx, m.ID, alice)
	require.NoError(t, err)

	require.Equal(t, []string{"market:" + m.ID, "market:" + m.ID, "market:" + m.ID}, locks.acquired)
	require.Equal(t, len(locks.acquired), locks.released)

	// Another replica holding the lock rejects the trade without touching
	// market state or moving funds.
	require.NoError(t, treasury.Deposit(ctx, bob, 1_000))
	locks.contended = true
	_, err = eng.BuyShares(ctx, m.ID, bob, 0, 10)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	balance, err := treasury.Balance(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), balance)
}

type stubPriceCache struct {
	mu     sync.Mutex
	prices map[string][]int64
	sets   int
}

func newStubPriceCache() *stubPriceCache {
	return &stubPriceCache{prices: make(map[string][]int64)}
}

func (c *stubPriceCache) SetPrices(_ context.Context, marketID string, prices []int64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[marketID] = append([]int64(nil), prices...)
	c.sets++
	return nil
}

func (c *stubPriceCache) GetPrices(_ context.Context, marketID string) ([]int64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[marketID]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	return append([]int64(nil), p...), time.Time{}, nil
}

func TestMarketPricesReadThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := newStubPriceCache()
	eng := New(Config{
		Markets:  memory.NewMarketStore(),
		Ledger:   ledger.New(memory.NewPositionStore(), memory.NewRedemptionStore(), logger),
		Treasury: memory.NewTreasury(),
		Clock:    clock,
		Prices:   cache,
		Logger:   logger,
	})
	ctx := context.Background()

	m, err := eng.CreateMarket(ctx, CreateMarketParams{
		Authority: authority,
		Title:     "test",
		Outcomes:  []string{"Yes", "No"},
		EndTime:   clock.Now().Add(24 * time.Hour),
		B:         100,
	})
	require.NoError(t, err)

	// A cold cache recomputes and fills itself.
	prices, err := eng.MarketPrices(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{500_000, 500_000}, prices)
	require.Equal(t, 1, cache.sets)

	// A warm cache answers without recomputing or rewriting.
	prices, err = eng.MarketPrices(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{500_000, 500_000}, prices)
	require.Equal(t, 1, cache.sets)

	// The cached vector is authoritative for reads.
	require.NoError(t, cache.SetPrices(ctx, m.ID, []int64{123, 999_877}, clock.Now()))
	prices, err = eng.MarketPrices(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{123, 999_877}, prices)
}

func TestListMarketsByStatusAndCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createMarket(t, []string{"Yes", "No"}, 100)
	second := f.createMarket(t, []string{"Yes", "No"}, 100)

	total, err := f.engine.CountMarkets(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	active, err := f.engine.ListMarketsByStatus(ctx, domain.MarketStatusActive, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, active, 2)

	f.clock.Advance(25 * time.Hour)
	_, err = f.engine.ResolveMarket(ctx, first.ID, authority, 0)
	require.NoError(t, err)

	resolved, err := f.engine.ListMarketsByStatus(ctx, domain.MarketStatusResolved, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, first.ID, resolved[0].ID)

	active, err = f.engine.ListMarketsByStatus(ctx, domain.MarketStatusActive, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, second.ID, active[0].ID)

	total, err = f.engine.CountMarkets(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
}

func TestMaxLossMatchesSubsidyBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// ceil(b*ln(n)): 100*ln(2) = 69.31..., 200*ln(3) = 219.72...
	binary := f.createMarket(t, []string{"Yes", "No"}, 100)
	loss, err := f.engine.MaxLoss(ctx, binary.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(70), loss)

	threeWay := f.createMarket(t, []string{"A", "B", "C"}, 200)
	loss, err = f.engine.MaxLoss(ctx, threeWay.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(220), loss)
}

func TestConcurrentBuysSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.createMarket(t, []string{"Yes", "No"}, 500)
	f.fund(t, alice, 1_000_000)
	f.fund(t, bob, 1_000_000)

	const perBuyer = 10
	var wg sync.WaitGroup
	for _, buyer := range []string{alice, bob} {
		wg.Add(1)
		go func(buyer string) {
			defer wg.Done()
			for i := 0; i < perBuyer; i++ {
				_, err := f.engine.BuyShares(ctx, m.ID, buyer, 0, 3)
				require.NoError(t, err)
			}
		}(buyer)
	}
	wg.Wait()

	current, err := f.engine.GetMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(2*perBuyer*3), current.Q[0])

	escrow, err := f.treasury.Balance(ctx, domain.EscrowAccount(m.ID))
	require.NoError(t, err)
	require.Equal(t, current.TotalLiquidity, escrow)
}
