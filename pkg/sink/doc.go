// Package sink provides the crash-durable writer for APM events.
//
// Events are appended as one JSON object per line to a file per local
// calendar day:
//
//	apm/perf_20260314.jsonl
//	{"data":{"dropped":18,"fps":40,"max_fps":60},"page":"feed","ts":1773480000000,"type":"low_fps"}
//
// Record is fire-and-forget: it enqueues on a buffered channel drained by a
// single writer goroutine and never blocks or fails the caller. A full
// buffer drops the event and counts it. RecordSync writes directly under
// the file mutex and is reserved for the crash path; once the sink is in
// emergency mode (EnterEmergency, or after Close) Record takes the same
// synchronous path.
//
// Every write first consults a DiskGate, which probes free space at most
// once per interval and drops writes while the volume is below the floor.
// String attribute values pass through the configured Redactor before they
// are encoded.
//
// Per-event failures are logged on slog.Default, rate limited, and never
// reach the caller.
package sink
