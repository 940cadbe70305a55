// Package metrics provides Prometheus metrics for the Fern pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsProcessedTotal tracks processed change events by table and outcome
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "events_processed_total",
			Help:      "Total number of change events processed by outcome",
		},
		[]string{"source_table", "outcome"},
	)

	// StaleEventsTotal tracks events discarded by the ordering layer
	StaleEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "stale_events_total",
			Help:      "Total number of stale or duplicate events discarded",
		},
		[]string{"source_table"},
	)

	// DeadLetteredTotal tracks events routed to the dead letter topic
	DeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "dead_lettered_total",
			Help:      "Total number of events routed to the dead letter topic",
		},
		[]string{"source_table", "reason"},
	)

	// ApplyRetriesTotal tracks graph apply retries after transient failures
	ApplyRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "graph",
			Name:      "apply_retries_total",
			Help:      "Total number of graph apply retries",
		},
	)

	// ApplyDuration tracks graph write transaction duration in seconds
	ApplyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "graph",
			Name:      "apply_duration_seconds",
			Help:      "Duration of graph write transactions in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// EventsInFlight tracks events currently being processed
	EventsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "events_in_flight",
			Help:      "Number of events currently being processed",
		},
	)

	// BatchSize tracks the size of fetched batches
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "pipeline",
			Name:      "batch_size",
			Help:      "Number of messages per fetched batch",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)

// RecordProcessed records a processed event outcome
func RecordProcessed(sourceTable, outcome string) {
	EventsProcessedTotal.WithLabelValues(sourceTable, outcome).Inc()
}

// RecordStale records a discarded stale or duplicate event
func RecordStale(sourceTable string) {
	StaleEventsTotal.WithLabelValues(sourceTable).Inc()
	RecordProcessed(sourceTable, "stale")
}

// RecordDeadLetter records an event routed to the dead letter topic
func RecordDeadLetter(sourceTable, reason string) {
	DeadLetteredTotal.WithLabelValues(sourceTable, reason).Inc()
	RecordProcessed(sourceTable, "dead_letter")
}
