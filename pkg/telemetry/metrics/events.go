package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/beacon/pkg/config"
)

// EventMetrics tracks the event sink.
//
// Metrics:
//   - beacon_events_written_total: events appended to day files, by type
//   - beacon_events_dropped_total: events dropped, by reason
type EventMetrics struct {
	written *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

// NewEventMetrics creates and registers the event metrics.
func NewEventMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *EventMetrics {
	em := &EventMetrics{
		written: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "events_written_total",
				Help:      "Total number of events written to disk",
			},
			[]string{"type"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped before reaching disk",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(em.written, em.dropped)
	return em
}

// RecordWritten counts one written event.
func (em *EventMetrics) RecordWritten(typ string) {
	em.written.WithLabelValues(typ).Inc()
}

// RecordDropped counts one dropped event.
func (em *EventMetrics) RecordDropped(reason string) {
	em.dropped.WithLabelValues(reason).Inc()
}
