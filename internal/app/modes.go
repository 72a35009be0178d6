package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dejavu-markets/dejavu/internal/engine"
	"github.com/dejavu-markets/dejavu/internal/ledger"
	"github.com/dejavu-markets/dejavu/internal/notify"
	"github.com/dejavu-markets/dejavu/internal/server"
	"github.com/dejavu-markets/dejavu/internal/server/handler"
	"github.com/dejavu-markets/dejavu/internal/server/ws"
	"github.com/dejavu-markets/dejavu/internal/store/memory"
)

// ServerMode runs the HTTP/WebSocket API, the event hub, and the notification
// bridge until the context is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.Int("port", a.cfg.Server.Port),
	)

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	bridge := notify.NewBridge(deps.SignalBus, deps.Notifier, engine.ChannelMarkets, a.logger)
	g.Go(func() error {
		return bridge.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Health, a.logger),
		Markets:   handler.NewMarketHandler(deps.Engine, a.logger),
		Trades:    handler.NewTradeHandler(deps.Engine, a.logger),
		Positions: handler.NewPositionHandler(deps.Ledger, a.logger),
		Accounts:  handler.NewAccountHandler(deps.Treasury, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if deps.Archiver != nil {
		handlers.Settle = handler.NewSettleHandler(deps.Engine, deps.Archiver, a.logger)
	} else {
		handlers.Settle = handler.NewSettleHandler(deps.Engine, nil, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// simClock is a wall clock with an adjustable offset, so the scenario can
// move past a market's trading deadline without sleeping.
type simClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().UTC().Add(c.offset)
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.offset += d
	c.mu.Unlock()
}

// SimMode runs a self-contained two-outcome market scenario against in-memory
// stores. It exists for demos and smoke checks; no external services are
// touched.
func (a *App) SimMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	const (
		authority = "0x00000000000000000000000000000000000000aa"
		alice     = "0x00000000000000000000000000000000000000a1"
		bob       = "0x00000000000000000000000000000000000000b1"
	)

	clock := &simClock{}
	treasury := memory.NewTreasury()
	led := ledger.New(memory.NewPositionStore(), memory.NewRedemptionStore(), a.logger)
	eng := engine.New(engine.Config{
		Markets:  memory.NewMarketStore(),
		Ledger:   led,
		Treasury: treasury,
		Clock:    clock,
		Audit:    memory.NewAuditStore(),
		Logger:   a.logger,
	})

	for _, account := range []string{alice, bob} {
		if err := treasury.Deposit(ctx, account, 1_000_000); err != nil {
			return fmt.Errorf("sim: deposit: %w", err)
		}
	}

	m, err := eng.CreateMarket(ctx, engine.CreateMarketParams{
		Authority:   authority,
		Title:       "Will it rain tomorrow?",
		Description: "Demo market resolved by the scenario itself.",
		Outcomes:    []string{"Yes", "No"},
		EndTime:     clock.Now().Add(24 * time.Hour),
		B:           1000,
	})
	if err != nil {
		return fmt.Errorf("sim: create market: %w", err)
	}
	a.logger.InfoContext(ctx, "sim: market created", slog.String("market_id", m.ID))

	buys := []struct {
		buyer   string
		outcome uint8
		shares  uint64
	}{
		{alice, 0, 50},
		{bob, 1, 30},
		{alice, 0, 20},
	}
	for _, b := range buys {
		res, err := eng.BuyShares(ctx, m.ID, b.buyer, b.outcome, b.shares)
		if err != nil {
			return fmt.Errorf("sim: buy: %w", err)
		}
		a.logger.InfoContext(ctx, "sim: trade executed",
			slog.String("buyer", res.Buyer),
			slog.Uint64("shares", res.Shares),
			slog.Uint64("cost", res.Cost),
			slog.Any("prices", res.Prices),
		)
	}

	clock.Advance(25 * time.Hour)

	resolved, err := eng.ResolveMarket(ctx, m.ID, authority, 0)
	if err != nil {
		return fmt.Errorf("sim: resolve: %w", err)
	}
	a.logger.InfoContext(ctx, "sim: market resolved",
		slog.Uint64("payout_per_share", resolved.PayoutPerShare),
	)

	redemption, err := eng.Redeem(ctx, m.ID, alice)
	if err != nil {
		return fmt.Errorf("sim: redeem: %w", err)
	}
	balance, err := treasury.Balance(ctx, alice)
	if err != nil {
		return fmt.Errorf("sim: balance: %w", err)
	}
	a.logger.InfoContext(ctx, "sim: redemption paid",
		slog.Uint64("shares", redemption.Shares),
		slog.Uint64("amount", redemption.Amount),
		slog.Uint64("final_balance", balance),
	)

	return nil
}
