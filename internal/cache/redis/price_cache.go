package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// price vector is stored at key "prices:{marketID}" with fields "prices"
// (JSON array of fixed-point values) and "ts" (Unix nanosecond timestamp).
//
// The cache serves the read path only. The engine recomputes prices from the
// pool on every trade and overwrites the hash, so a stale or missing entry is
// never an error condition for trading.
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Entries
// expire after ttl; zero means no expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func pricesKey(marketID string) string {
	return "prices:" + marketID
}

// SetPrices stores the latest price vector and timestamp for a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID string, prices []int64, ts time.Time) error {
	data, err := json.Marshal(prices)
	if err != nil {
		return fmt.Errorf("redis: marshal prices %s: %w", marketID, err)
	}

	key := pricesKey(marketID)
	fields := map[string]interface{}{
		"prices": data,
		"ts":     strconv.FormatInt(ts.UnixNano(), 10),
	}
	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set prices %s: %w", marketID, err)
	}
	return nil
}

// GetPrices retrieves the latest price vector and timestamp for a market,
// failing with domain.ErrNotFound when no entry exists.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID string) ([]int64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, pricesKey(marketID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get prices %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	raw, ok := vals["prices"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	var prices []int64
	if err := json.Unmarshal([]byte(raw), &prices); err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse prices %s: %w", marketID, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return nil, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}

	return prices, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
