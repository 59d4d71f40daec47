package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_frames_total",
			Help: "Total number of frames read from the upstream feed (count)",
		},
		[]string{"type"},
	)

	ParseFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_parse_failures_total",
			Help: "Total number of frames dropped because they could not be normalized (count)",
		},
		[]string{"source"},
	)

	DedupEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_events_total",
			Help: "Events classified by the dedup tracker (count)",
		},
		[]string{"decision"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Delivery tasks by terminal status (count)",
		},
		[]string{"status"},
	)

	DeliveryAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_attempts",
			Help:    "Send attempts consumed per delivered task (count)",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_ms",
			Help:    "End-to-end duration of one delivery task in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	FeedReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_reconnects_total",
			Help: "Times the upstream feed connection was re-established (count)",
		},
	)

	DedupCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_size",
			Help: "Identities currently tracked by the dedup store (count)",
		},
	)

	ActiveGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routing_active_groups",
			Help: "Groups present in the active configuration snapshot (count)",
		},
	)

	MapRenderFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "map_render_failures_total",
			Help: "Attachment requests degraded to text-only (count)",
		},
	)

	ConfigReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "config_reloads_total",
			Help: "Configuration reload attempts (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

func Register() {
	prometheus.MustRegister(
		FramesTotal,
		ParseFailuresTotal,
		DedupEventsTotal,
		DeliveriesTotal,
		DeliveryAttempts,
		DeliveryDuration,
		FeedReconnectsTotal,
		DedupCacheSize,
		ActiveGroups,
		MapRenderFailuresTotal,
		ConfigReloadsTotal,
		CircuitBreakerState,
	)
}

func ObserveDelivery(duration time.Duration, status string) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	DeliveryDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetDedupCacheSize(size int64) {
	DedupCacheSize.Set(float64(size))
}
