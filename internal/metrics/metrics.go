package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Realtime metrics
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_active_subscriptions",
			Help: "Subscriptions currently in the active state",
		},
	)

	SubscriptionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_subscription_failures_total",
			Help: "Subscriptions that failed to open",
		},
		[]string{"table"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_events_delivered_total",
			Help: "Change events handed to subscription handlers",
		},
		[]string{"table", "type"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_publish_failures_total",
			Help: "Change events that could not be published after a write",
		},
		[]string{"table"},
	)

	// Sync metrics
	DuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_duplicate_messages_dropped_total",
			Help: "Messages ignored because their identity key was already held",
		},
	)

	StaleResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_stale_history_responses_total",
			Help: "History responses discarded because the scope changed",
		},
	)

	HistoryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_history_failures_total",
			Help: "History or ledger fetches that failed",
		},
	)

	NotificationUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_notification_upserts_total",
			Help: "Notification upserts by outcome",
		},
		[]string{"outcome"}, // "created" or "existing"
	)

	WriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_write_failures_total",
			Help: "Failed writes by operation",
		},
		[]string{"op"},
	)

	// Infrastructure metrics
	PostgresLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatsync_postgres_latency_seconds",
			Help:    "PostgreSQL query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
	)
)
