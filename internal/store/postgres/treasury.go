package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// Treasury implements domain.Treasury over the accounts table. Transfers run
// in a transaction with the payer row locked, so two concurrent debits of the
// same account serialize instead of double spending.
type Treasury struct {
	pool *pgxpool.Pool
}

// NewTreasury creates a Treasury backed by the given connection pool.
func NewTreasury(pool *pgxpool.Pool) *Treasury {
	return &Treasury{pool: pool}
}

// Transfer moves amount from payer to payee atomically, failing with
// ErrInsufficientFunds when the payer cannot cover it.
func (t *Treasury) Transfer(ctx context.Context, payer, payee string, amount uint64) error {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, payer).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("postgres: payer %s: %w", payer, domain.ErrInsufficientFunds)
		}
		return fmt.Errorf("postgres: lock payer %s: %w", payer, err)
	}
	if uint64(balance) < amount {
		return fmt.Errorf("postgres: payer %s short by %d: %w",
			payer, amount-uint64(balance), domain.ErrInsufficientFunds)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2 WHERE id = $1`,
		payer, int64(amount)); err != nil {
		return fmt.Errorf("postgres: debit %s: %w", payer, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO accounts (id, balance) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance`,
		payee, int64(amount)); err != nil {
		return fmt.Errorf("postgres: credit %s: %w", payee, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transfer: %w", err)
	}
	return nil
}

// Balance returns an account balance, zero for unknown accounts.
func (t *Treasury) Balance(ctx context.Context, account string) (uint64, error) {
	var balance int64
	err := t.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, account).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance of %s: %w", account, err)
	}
	return uint64(balance), nil
}

// Deposit credits an account from outside the system.
func (t *Treasury) Deposit(ctx context.Context, account string, amount uint64) error {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO accounts (id, balance) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance`,
		account, int64(amount))
	if err != nil {
		return fmt.Errorf("postgres: deposit to %s: %w", account, err)
	}
	return nil
}

var _ domain.Treasury = (*Treasury)(nil)
