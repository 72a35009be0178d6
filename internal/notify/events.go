package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// marketEvent is the subset of the bus payload the bridge cares about.
type marketEvent struct {
	Event          string `json:"event"`
	MarketID       string `json:"market_id"`
	Title          string `json:"title"`
	WinningOutcome uint8  `json:"winning_outcome"`
	PayoutPerShare uint64 `json:"payout_per_share"`
}

// Bridge subscribes to the market event channel and forwards lifecycle
// events to the notifier. It runs until the context is cancelled.
type Bridge struct {
	bus      domain.SignalBus
	notifier *Notifier
	channel  string
	logger   *slog.Logger
}

// NewBridge creates a Bridge reading the given pub/sub channel.
func NewBridge(bus domain.SignalBus, notifier *Notifier, channel string, logger *slog.Logger) *Bridge {
	return &Bridge{
		bus:      bus,
		notifier: notifier,
		channel:  channel,
		logger:   logger.With(slog.String("component", "notify_bridge")),
	}
}

// Run consumes market events and dispatches notifications until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	msgs, err := b.bus.Subscribe(ctx, b.channel)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", b.channel, err)
	}

	b.logger.InfoContext(ctx, "notify bridge started", slog.String("channel", b.channel))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(ctx, payload)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, payload []byte) {
	var ev marketEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		b.logger.WarnContext(ctx, "undecodable market event", slog.String("error", err.Error()))
		return
	}

	var title, message string
	switch ev.Event {
	case "market_resolved":
		title = "Market resolved"
		message = fmt.Sprintf("Market %s settled on outcome %d, payout %d per share.",
			ev.MarketID, ev.WinningOutcome, ev.PayoutPerShare)
	case "market_disputed":
		title = "Market disputed"
		message = fmt.Sprintf("Market %s is under dispute; redemptions are suspended.", ev.MarketID)
	default:
		return
	}

	if err := b.notifier.Notify(ctx, ev.Event, title, message); err != nil {
		b.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}
