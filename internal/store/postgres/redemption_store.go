package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// RedemptionStore implements domain.RedemptionStore using PostgreSQL.
type RedemptionStore struct {
	pool *pgxpool.Pool
}

// NewRedemptionStore creates a RedemptionStore backed by the given connection
// pool.
func NewRedemptionStore(pool *pgxpool.Pool) *RedemptionStore {
	return &RedemptionStore{pool: pool}
}

// Create inserts a redemption record. The primary key on (market, participant)
// makes the insert the double-redemption guard: a second attempt fails with
// ErrAlreadyRedeemed even when two replicas race.
func (s *RedemptionStore) Create(ctx context.Context, rec domain.RedemptionRecord) error {
	const query = `
		INSERT INTO redemptions (market_id, participant, shares, amount, redeemed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, participant) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.MarketID, rec.Participant, int64(rec.Shares), int64(rec.Amount), rec.RedeemedAt)
	if err != nil {
		return fmt.Errorf("postgres: create redemption %s/%s: %w", rec.MarketID, rec.Participant, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyRedeemed
	}
	return nil
}

// Get retrieves the redemption record for one (market, participant) pair.
func (s *RedemptionStore) Get(ctx context.Context, marketID, participant string) (domain.RedemptionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT market_id, participant, shares, amount, redeemed_at
		 FROM redemptions WHERE market_id = $1 AND participant = $2`,
		marketID, participant)
	rec, err := scanRedemption(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RedemptionRecord{}, domain.ErrNotFound
		}
		return domain.RedemptionRecord{}, fmt.Errorf("postgres: get redemption %s/%s: %w", marketID, participant, err)
	}
	return rec, nil
}

// ListByMarket returns every redemption recorded for a market.
func (s *RedemptionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.RedemptionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, participant, shares, amount, redeemed_at
		 FROM redemptions WHERE market_id = $1
		 ORDER BY redeemed_at`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list redemptions for %s: %w", marketID, err)
	}
	defer rows.Close()

	var records []domain.RedemptionRecord
	for rows.Next() {
		rec, err := scanRedemption(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan redemption: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list redemptions rows: %w", err)
	}
	return records, nil
}

func scanRedemption(row pgx.Row) (domain.RedemptionRecord, error) {
	var (
		rec    domain.RedemptionRecord
		shares int64
		amount int64
	)
	err := row.Scan(&rec.MarketID, &rec.Participant, &shares, &amount, &rec.RedeemedAt)
	if err != nil {
		return domain.RedemptionRecord{}, err
	}
	rec.Shares = uint64(shares)
	rec.Amount = uint64(amount)
	return rec, nil
}

var _ domain.RedemptionStore = (*RedemptionStore)(nil)
