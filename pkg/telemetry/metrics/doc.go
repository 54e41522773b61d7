// Package metrics provides Prometheus metrics for the Beacon pipeline.
//
// # Overview
//
// The metrics describe the health of the pipeline itself, never the event
// stream it records. They answer questions like "are events being dropped",
// "when did the last sweep run" and "how many hangs were reported".
//
// # Metrics Categories
//
//   - Event Metrics: events written by type, events dropped by reason
//   - Retention Metrics: sweep count and duration, files and bytes removed
//   - Producer Metrics: producer run state, hang and crash reports,
//     configuration reloads, listener failures
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//
//	// The collector is a sink.Observer.
//	s, _ := sink.New(sink.Options{Dir: dir, Observer: collector})
//
//	collector.RecordSweep(2, 5, 1<<20, 40*time.Millisecond, nil)
//	collector.SetProducerRunning("memory", true)
//
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// All methods are safe on a nil *Collector and do nothing when metrics are
// disabled.
//
// # Cardinality Management
//
// Event types are open strings. Once 256 distinct types have been seen,
// new types are counted under "other".
package metrics
