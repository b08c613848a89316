// Package metrics registers the prometheus collectors the runtime emits.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector, registered against a single registry so
// tests can use isolated instances.
type Metrics struct {
	Registry *prometheus.Registry

	HandsCompleted      prometheus.Counter
	IntegrityViolations prometheus.Counter
	ActiveConnections   prometheus.Gauge
	ActiveBots          prometheus.Gauge
	FraudFlags          *prometheus.CounterVec
	LockTimeouts        prometheus.Counter
	SchedulerDriftMs    prometheus.Histogram
}

// New creates a registry with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		HandsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardroom_hands_completed_total",
			Help: "Hands completed across all tables.",
		}),
		IntegrityViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardroom_chip_integrity_violations_total",
			Help: "Chip conservation or snapshot hash failures.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cardroom_ws_connections",
			Help: "Currently registered WebSocket connections.",
		}),
		ActiveBots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cardroom_active_bots",
			Help: "Bot sessions in JOINING or PLAYING state.",
		}),
		FraudFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cardroom_fraud_flags_total",
			Help: "Fraud detector flags by detection type.",
		}, []string{"type"}),
		LockTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "cardroom_lock_timeouts_total",
			Help: "Distributed lock acquisitions that hit the timeout.",
		}),
		SchedulerDriftMs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardroom_blind_scheduler_drift_ms",
			Help:    "Observed blind level change drift in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
}
