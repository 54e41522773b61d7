// Package server serves the pipeline's own telemetry over HTTP: Prometheus
// metrics and the liveness, readiness and version endpoints.
package server
