package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// AddShares increments the balance and collateral of a position, creating it
// on first purchase. The upsert keeps the read-modify-write in one statement
// so concurrent trades never lose increments.
func (s *PositionStore) AddShares(ctx context.Context, marketID, participant string, outcome uint8, shares, collateral uint64) error {
	const query = `
		INSERT INTO positions (market_id, participant, outcome, shares, collateral_paid)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (market_id, participant, outcome) DO UPDATE SET
			shares          = positions.shares + EXCLUDED.shares,
			collateral_paid = positions.collateral_paid + EXCLUDED.collateral_paid,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		marketID, participant, int16(outcome), int64(shares), int64(collateral))
	if err != nil {
		return fmt.Errorf("postgres: add shares %s/%s: %w", marketID, participant, err)
	}
	return nil
}

const positionCols = `market_id, participant, outcome, shares, collateral_paid,
	created_at, updated_at`

// Get retrieves one position.
func (s *PositionStore) Get(ctx context.Context, marketID, participant string, outcome uint8) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE market_id = $1 AND participant = $2 AND outcome = $3`,
		marketID, participant, int16(outcome))
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", marketID, participant, err)
	}
	return p, nil
}

// ListByMarket returns every position held in a market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE market_id = $1
		 ORDER BY participant, outcome`, marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %s: %w", marketID, err)
	}
	return collectPositions(rows)
}

// ListByParticipant returns a participant's positions across markets.
func (s *PositionStore) ListByParticipant(ctx context.Context, participant string, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := applyListOpts(
		`SELECT `+positionCols+` FROM positions WHERE participant = $1`,
		[]any{participant}, opts, "updated_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", participant, err)
	}
	return collectPositions(rows)
}

// TotalShares sums the balances every participant holds in one outcome.
func (s *PositionStore) TotalShares(ctx context.Context, marketID string, outcome uint8) (uint64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(shares), 0) FROM positions
		 WHERE market_id = $1 AND outcome = $2`,
		marketID, int16(outcome)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: total shares %s/%d: %w", marketID, outcome, err)
	}
	return uint64(total), nil
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p          domain.Position
		outcome    int16
		shares     int64
		collateral int64
	)
	err := row.Scan(
		&p.MarketID, &p.Participant, &outcome, &shares, &collateral,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Outcome = uint8(outcome)
	p.Shares = uint64(shares)
	p.CollateralPaid = uint64(collateral)
	return p, nil
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
