package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_ledger_entries_total",
			Help: "Wallet ledger entries written, by transaction type",
		},
		[]string{"type"},
	)

	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"status"},
	)

	PayoutTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_payout_transitions_total",
			Help: "Payout status transitions",
		},
		[]string{"status"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_webhook_events_total",
			Help: "Payment provider notifications by outcome",
		},
		[]string{"outcome"},
	)

	WebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketplace_webhook_duration_seconds",
			Help:    "Time spent handling a payment provider notification",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_deliveries_total",
			Help: "File delivery attempts by result",
		},
		[]string{"result"},
	)

	RecoveryPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_recovery_undelivered_orders",
			Help: "Paid orders still undelivered after the last recovery run",
		},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_event_publish_errors_total",
			Help: "Domain events that could not be published",
		},
		[]string{"sink"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"route"},
	)
)
