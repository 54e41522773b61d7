// Package health serves liveness and readiness endpoints for the beacon
// binary.
//
// A Checker runs named CheckFuncs concurrently, each under a timeout. The
// pipeline registers checks for its storage root (writable, above the
// free-space floor) and for retention freshness.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("storage", health.WritableDir(dir))
//	health.Register(mux, checker, version)
//
// Endpoints:
//
//   - /healthz: liveness, always 200 while the process serves HTTP
//   - /readyz: readiness, 503 when any check fails
//   - /version: build information
package health
