package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, authority, title, description, outcomes, b, q,
	total_volume, total_liquidity, status, created_at, end_time,
	winning_outcome, resolved_at, payout_per_share`

// Create inserts a new market.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, authority, title, description, outcomes, b, q,
			total_volume, total_liquidity, status, created_at, end_time,
			winning_outcome, resolved_at, payout_per_share
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Authority, m.Title, m.Description, m.Outcomes,
		int64(m.B), suppliesToInt64(m.Q),
		int64(m.TotalVolume), int64(m.TotalLiquidity),
		string(m.Status), m.CreatedAt, m.EndTime,
		winningToInt16(m.WinningOutcome), m.ResolvedAt, int64(m.PayoutPerShare),
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %s: %w", m.ID, err)
	}
	return nil
}

// Update overwrites the mutable fields of a market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			q                = $2,
			total_volume     = $3,
			total_liquidity  = $4,
			status           = $5,
			winning_outcome  = $6,
			resolved_at      = $7,
			payout_per_share = $8,
			updated_at       = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, suppliesToInt64(m.Q),
		int64(m.TotalVolume), int64(m.TotalLiquidity),
		string(m.Status),
		winningToInt16(m.WinningOutcome), m.ResolvedAt, int64(m.PayoutPerShare),
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// List returns markets newest first.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := applyListOpts(
		`SELECT `+marketCols+` FROM markets WHERE 1=1`, nil, opts, "created_at")
	return s.queryMarkets(ctx, query, args)
}

// ListByStatus returns markets in one stored status, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query, args := applyListOpts(
		`SELECT `+marketCols+` FROM markets WHERE status = $1`,
		[]any{string(status)}, opts, "created_at")
	return s.queryMarkets(ctx, query, args)
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args []any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m       domain.Market
		status  string
		b       int64
		q       []int64
		volume  int64
		liq     int64
		winning *int16
		payout  int64
	)
	err := row.Scan(
		&m.ID, &m.Authority, &m.Title, &m.Description, &m.Outcomes,
		&b, &q, &volume, &liq, &status,
		&m.CreatedAt, &m.EndTime,
		&winning, &m.ResolvedAt, &payout,
	)
	if err != nil {
		return domain.Market{}, err
	}

	m.B = uint64(b)
	m.Q = make([]uint64, len(q))
	for i, v := range q {
		m.Q[i] = uint64(v)
	}
	m.TotalVolume = uint64(volume)
	m.TotalLiquidity = uint64(liq)
	m.Status = domain.MarketStatus(status)
	m.PayoutPerShare = uint64(payout)
	if winning != nil {
		w := uint8(*winning)
		m.WinningOutcome = &w
	}
	return m, nil
}

func suppliesToInt64(q []uint64) []int64 {
	out := make([]int64, len(q))
	for i, v := range q {
		out[i] = int64(v)
	}
	return out
}

func winningToInt16(w *uint8) *int16 {
	if w == nil {
		return nil
	}
	v := int16(*w)
	return &v
}

var _ domain.MarketStore = (*MarketStore)(nil)
