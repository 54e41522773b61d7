// Package telemetry holds the pipeline's own observability.
//
// # Components
//
//   - logging: the business log facade with level filter, redaction and
//     console plus file fan-out
//   - metrics: Prometheus counters for events, drops, sweeps, producers
//     and crashes
//   - health: liveness and readiness checks for storage and retention
//
// Metrics and health are served by package server. The pipeline never
// depends on them being scraped: a nil metrics collector is valid and every
// recording method on it is a no-op.
package telemetry
