package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// Treasury implements domain.Treasury with an in-memory balance map.
// FailNext can be armed by tests to simulate a transfer-layer outage.
type Treasury struct {
	mu       sync.Mutex
	balances map[string]uint64

	// FailNext makes the next Transfer fail without moving funds.
	FailNext bool
}

// NewTreasury creates an empty Treasury.
func NewTreasury() *Treasury {
	return &Treasury{balances: make(map[string]uint64)}
}

// Transfer moves amount between accounts, failing with ErrInsufficientFunds
// when the payer cannot cover it.
func (t *Treasury) Transfer(_ context.Context, payer, payee string, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.FailNext {
		t.FailNext = false
		return fmt.Errorf("memory: transfer unavailable")
	}
	if t.balances[payer] < amount {
		return fmt.Errorf("memory: %s short by %d: %w", payer, amount-t.balances[payer], domain.ErrInsufficientFunds)
	}
	t.balances[payer] -= amount
	t.balances[payee] += amount
	return nil
}

// Balance returns an account balance, zero for unknown accounts.
func (t *Treasury) Balance(_ context.Context, account string) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

// Deposit credits an account from outside the system.
func (t *Treasury) Deposit(_ context.Context, account string, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] += amount
	return nil
}

var _ domain.Treasury = (*Treasury)(nil)
