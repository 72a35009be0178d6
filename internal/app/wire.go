package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/dejavu-markets/dejavu/internal/blob/s3"
	"github.com/dejavu-markets/dejavu/internal/cache/redis"
	"github.com/dejavu-markets/dejavu/internal/config"
	"github.com/dejavu-markets/dejavu/internal/domain"
	"github.com/dejavu-markets/dejavu/internal/engine"
	"github.com/dejavu-markets/dejavu/internal/ledger"
	"github.com/dejavu-markets/dejavu/internal/notify"
	"github.com/dejavu-markets/dejavu/internal/server/handler"
	"github.com/dejavu-markets/dejavu/internal/store/postgres"
)

// Dependencies bundles everything ServerMode needs to operate. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	PositionStore   domain.PositionStore
	RedemptionStore domain.RedemptionStore
	AuditStore      domain.AuditStore
	Treasury        domain.Treasury

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (nil when S3 is not configured)
	Archiver *s3blob.Archiver

	// Core
	Ledger *ledger.Ledger
	Engine *engine.Engine

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by dependency name.
	Health map[string]handler.Pinger
}

// s3Pinger adapts the S3 client's Health check to the handler.Pinger shape.
type s3Pinger struct {
	c *s3blob.Client
}

func (p s3Pinger) Ping(ctx context.Context) error { return p.c.Health(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Health: make(map[string]handler.Pinger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.RedemptionStore = postgres.NewRedemptionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.Treasury = postgres.NewTreasury(pool)
	deps.Health["postgres"] = pool

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Engine.PriceCacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Health["redis"] = redisClient

	// --- S3 settlement archive (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3Client)
		deps.Health["s3"] = s3Pinger{c: s3Client}
	}

	// --- Ledger and engine ---
	deps.Ledger = ledger.New(deps.PositionStore, deps.RedemptionStore, logger)

	engineCfg := engine.Config{
		Markets:  deps.MarketStore,
		Ledger:   deps.Ledger,
		Treasury: deps.Treasury,
		Prices:   deps.PriceCache,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Locks:    deps.LockManager,
		Logger:   logger,
	}
	if deps.Archiver != nil {
		engineCfg.Archiver = deps.Archiver
	}
	deps.Engine = engine.New(engineCfg)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
