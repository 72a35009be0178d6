package domain

import "context"

// EscrowAccount returns the treasury account that holds a market's pool
// collateral. Buyers pay into it; winners are paid out of it.
func EscrowAccount(marketID string) string {
	return "escrow:" + marketID
}

// Treasury moves collateral between accounts. The engine treats any failure
// as "operation aborted, no state changed": a trade or redemption whose
// transfer fails must leave no trace.
type Treasury interface {
	// Transfer moves amount from payer to payee atomically. It fails with
	// ErrInsufficientFunds when the payer cannot cover the amount.
	Transfer(ctx context.Context, payer, payee string, amount uint64) error
	Balance(ctx context.Context, account string) (uint64, error)
	// Deposit credits an account from outside the system (on-ramp).
	Deposit(ctx context.Context, account string, amount uint64) error
}
