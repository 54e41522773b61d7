package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/beacon/pkg/config"
)

// RetentionMetrics tracks retention sweeps.
//
// Metrics:
//   - beacon_retention_sweeps_total: sweeps by status
//   - beacon_retention_sweep_duration_seconds: sweep duration histogram
//   - beacon_retention_files_deleted_total: deleted files by pass (age, size)
//   - beacon_retention_bytes_freed_total: bytes reclaimed
//   - beacon_retention_last_sweep_timestamp_seconds: time of the last sweep
type RetentionMetrics struct {
	sweeps       *prometheus.CounterVec
	duration     prometheus.Histogram
	filesDeleted *prometheus.CounterVec
	bytesFreed   prometheus.Counter
	lastSweep    prometheus.Gauge
}

// NewRetentionMetrics creates and registers the retention metrics.
func NewRetentionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RetentionMetrics {
	rm := &RetentionMetrics{
		sweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "sweeps_total",
				Help:      "Total number of retention sweeps",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of retention sweeps in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
			},
		),
		filesDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "files_deleted_total",
				Help:      "Total number of files deleted by retention",
			},
			[]string{"pass"},
		),
		bytesFreed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "bytes_freed_total",
				Help:      "Total bytes reclaimed by retention",
			},
		),
		lastSweep: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "retention",
				Name:      "last_sweep_timestamp_seconds",
				Help:      "Unix time of the last completed sweep",
			},
		),
	}

	registry.MustRegister(rm.sweeps, rm.duration, rm.filesDeleted, rm.bytesFreed, rm.lastSweep)
	return rm
}

// RecordSweep records one sweep.
func (rm *RetentionMetrics) RecordSweep(ageDeleted, sizeDeleted int, bytesFreed int64, duration time.Duration, err error) {
	rm.sweeps.WithLabelValues(statusOf(err)).Inc()
	rm.duration.Observe(duration.Seconds())
	if ageDeleted > 0 {
		rm.filesDeleted.WithLabelValues("age").Add(float64(ageDeleted))
	}
	if sizeDeleted > 0 {
		rm.filesDeleted.WithLabelValues("size").Add(float64(sizeDeleted))
	}
	if bytesFreed > 0 {
		rm.bytesFreed.Add(float64(bytesFreed))
	}
	rm.lastSweep.SetToCurrentTime()
}
