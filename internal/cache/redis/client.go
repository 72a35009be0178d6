// Package redis backs the engine's hot paths with go-redis/v9: the price
// cache on the read API, trade and lifecycle event fan-out, sliding-window
// API rate limiting, and the cross-replica market locks.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps one shared go-redis connection pool. Every component in this
// package rides the same pool.
type Client struct {
	rdb *redis.Client
}

// New connects and pings, so a bad address or credential fails at startup
// instead of on the first trade.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Ping reports connection health for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the raw driver client to the cache, bus, limiter, and
// lock implementations in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
