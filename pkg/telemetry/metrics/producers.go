package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/beacon/pkg/config"
)

// ProducerMetrics tracks producers and the orchestrator.
//
// Metrics:
//   - beacon_producer_running: producer run state (1=running, 0=stopped)
//   - beacon_hangs_total: hang reports written
//   - beacon_crashes_total: crash reports by type and repeat flag
//   - beacon_config_reloads_total: configuration applies by status
//   - beacon_listener_panics_total: recovered listener panics
type ProducerMetrics struct {
	running        *prometheus.GaugeVec
	hangs          prometheus.Counter
	crashes        *prometheus.CounterVec
	reloads        *prometheus.CounterVec
	listenerPanics prometheus.Counter
}

// NewProducerMetrics creates and registers the producer metrics.
func NewProducerMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ProducerMetrics {
	pm := &ProducerMetrics{
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      "producer_running",
				Help:      "Producer run state (1=running, 0=stopped)",
			},
			[]string{"producer"},
		),
		hangs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "hangs_total",
				Help:      "Total number of hang reports written",
			},
		),
		crashes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "crashes_total",
				Help:      "Total number of crash reports written",
			},
			[]string{"type", "repeat"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of configuration applies",
			},
			[]string{"status"},
		),
		listenerPanics: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "listener_panics_total",
				Help:      "Total number of recovered listener panics",
			},
		),
	}

	registry.MustRegister(pm.running, pm.hangs, pm.crashes, pm.reloads, pm.listenerPanics)
	return pm
}

// SetRunning records a producer's run state.
func (pm *ProducerMetrics) SetRunning(producer string, running bool) {
	v := 0.0
	if running {
		v = 1
	}
	pm.running.WithLabelValues(producer).Set(v)
}

// RecordHang counts one hang report.
func (pm *ProducerMetrics) RecordHang() {
	pm.hangs.Inc()
}

// RecordCrash counts one crash report.
func (pm *ProducerMetrics) RecordCrash(typ string, isRepeat bool) {
	pm.crashes.WithLabelValues(typ, strconv.FormatBool(isRepeat)).Inc()
}

// RecordReload counts one configuration apply.
func (pm *ProducerMetrics) RecordReload(err error) {
	pm.reloads.WithLabelValues(statusOf(err)).Inc()
}

// RecordListenerPanic counts one recovered listener panic.
func (pm *ProducerMetrics) RecordListenerPanic() {
	pm.listenerPanics.Inc()
}
