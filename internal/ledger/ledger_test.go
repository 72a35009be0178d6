package ledger

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/store/memory"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

func newTestLedger() *Ledger {
	return New(memory.NewPositionStore(), memory.NewRedemptionStore(), slog.Default())
}

func TestBalanceDefaultsToZero(t *testing.T) {
	l := newTestLedger()

	balance, err := l.BalanceOf(context.Background(), "mkt-1", alice, 0)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestRecordPurchaseAccumulates(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	require.NoError(t, l.RecordPurchase(ctx, "mkt-1", alice, 0, 10, 55))
	require.NoError(t, l.RecordPurchase(ctx, "mkt-1", alice, 0, 5, 31))
	require.NoError(t, l.RecordPurchase(ctx, "mkt-1", alice, 1, 3, 12))
	require.NoError(t, l.RecordPurchase(ctx, "mkt-1", bob, 0, 7, 40))

	balance, err := l.BalanceOf(ctx, "mkt-1", alice, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(15), balance)

	balance, err = l.BalanceOf(ctx, "mkt-1", alice, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), balance)

	total, err := l.TotalShares(ctx, "mkt-1", 0)
	require.NoError(t, err)
	require.Equal(t, uint64(22), total)

	positions, err := l.Positions(ctx, alice, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Equal(t, uint64(86), positions[0].CollateralPaid+positions[1].CollateralPaid)
}

func TestMarkRedeemedIsIdempotencyGuard(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	redeemed, err := l.Redeemed(ctx, "mkt-1", alice)
	require.NoError(t, err)
	require.False(t, redeemed)

	rec := domain.RedemptionRecord{
		MarketID:    "mkt-1",
		Participant: alice,
		Shares:      15,
		Amount:      900,
		RedeemedAt:  time.Now().UTC(),
	}
	require.NoError(t, l.MarkRedeemed(ctx, rec))

	redeemed, err = l.Redeemed(ctx, "mkt-1", alice)
	require.NoError(t, err)
	require.True(t, redeemed)

	err = l.MarkRedeemed(ctx, rec)
	require.ErrorIs(t, err, domain.ErrAlreadyRedeemed)

	// A different participant in the same market is unaffected.
	redeemed, err = l.Redeemed(ctx, "mkt-1", bob)
	require.NoError(t, err)
	require.False(t, redeemed)
}
