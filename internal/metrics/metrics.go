// Package metrics defines the Prometheus instruments for the market engine.
// They are registered on the default registry and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MarketsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dejavu_markets_created_total",
			Help: "Total number of markets created",
		},
	)

	MarketsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dejavu_markets_resolved_total",
			Help: "Total number of markets resolved",
		},
	)

	TradesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dejavu_trades_total",
			Help: "Total number of share purchases",
		},
		[]string{"status"}, // executed, rejected, failed
	)

	TradeVolume = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dejavu_shares_purchased_total",
			Help: "Total outcome shares purchased across all markets",
		},
	)

	TradeCost = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dejavu_trade_cost_units",
			Help:    "Collateral cost per trade, in base units",
			Buckets: prometheus.ExponentialBuckets(1, 10, 8),
		},
	)

	Redemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dejavu_redemptions_total",
			Help: "Total number of redemption attempts",
		},
		[]string{"status"}, // paid, empty, duplicate, failed
	)

	RedemptionPaid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dejavu_redemption_paid_total",
			Help: "Total collateral paid out to winners, in base units",
		},
	)
)
