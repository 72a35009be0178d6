package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest fixed-point price vector per market for cheap
// read paths (API, WS clients).
type PriceCache interface {
	SetPrices(ctx context.Context, marketID string, prices []int64, ts time.Time) error
	GetPrices(ctx context.Context, marketID string) ([]int64, time.Time, error)
}

// RateLimiter provides distributed rate limiting for the public API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking for multi-replica deployments.
// Within a single process the engine already serializes per-market writes.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of market events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
