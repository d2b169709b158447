package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core runtime metrics (not host-specific)
type Metrics struct {
	// Jar lifecycle
	ActiveJars        prometheus.Gauge
	HydrationDuration prometheus.Histogram

	// Command pipeline
	CommandsEnqueued  *prometheus.CounterVec
	CommandsCompleted *prometheus.CounterVec
	CommandsFailed    *prometheus.CounterVec
	CommandQueueDepth *prometheus.GaugeVec

	// Event integration
	EventsIntegrated *prometheus.CounterVec
	StatePublishes   *prometheus.CounterVec

	// Snapshots
	SnapshotsStored      prometheus.Counter
	SnapshotsRejected    prometheus.Counter
	SnapshotsInvalidated prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core runtime metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveJars: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pond",
				Subsystem: "jars",
				Name:      "active",
				Help:      "Number of live Fish pipelines",
			},
		),

		HydrationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "pond",
				Subsystem: "jars",
				Name:      "hydration_duration_seconds",
				Help:      "Time spent hydrating a Fish (snapshot retrieval plus replay)",
				Buckets:   prometheus.DefBuckets,
			},
		),

		CommandsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "commands",
				Name:      "enqueued_total",
				Help:      "Total number of commands enqueued",
			},
			[]string{"semantics"},
		),

		CommandsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "commands",
				Name:      "completed_total",
				Help:      "Total number of commands that completed successfully",
			},
			[]string{"semantics"},
		),

		CommandsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "commands",
				Name:      "failed_total",
				Help:      "Total number of commands delivered to onError",
			},
			[]string{"semantics"},
		),

		CommandQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "pond",
				Subsystem: "commands",
				Name:      "queue_depth",
				Help:      "Commands waiting for admission per Fish semantics",
			},
			[]string{"semantics"},
		),

		EventsIntegrated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "events",
				Name:      "integrated_total",
				Help:      "Total number of events folded into Fish state caches",
			},
			[]string{"semantics"},
		),

		StatePublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "events",
				Name:      "state_publishes_total",
				Help:      "Total number of public state publications",
			},
			[]string{"semantics"},
		),

		SnapshotsStored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "snapshots",
				Name:      "stored_total",
				Help:      "Total number of snapshots accepted by the snapshot store",
			},
		),

		SnapshotsRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "snapshots",
				Name:      "rejected_total",
				Help:      "Total number of snapshot attempts discarded on store rejection",
			},
		),

		SnapshotsInvalidated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pond",
				Subsystem: "snapshots",
				Name:      "invalidated_total",
				Help:      "Total number of snapshot invalidations triggered by event arrival",
			},
		),
	}
}

// collectors returns every metric for bulk registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ActiveJars,
		m.HydrationDuration,
		m.CommandsEnqueued,
		m.CommandsCompleted,
		m.CommandsFailed,
		m.CommandQueueDepth,
		m.EventsIntegrated,
		m.StatePublishes,
		m.SnapshotsStored,
		m.SnapshotsRejected,
		m.SnapshotsInvalidated,
	}
}
