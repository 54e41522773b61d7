// Package apm contains the performance producers of the pipeline.
//
// FrameTracer turns frame callbacks into frozen-frame and low-fps events,
// MemorySampler periodically records heap and resident memory, and
// StartupTimer computes cold-start and time-to-fully-drawn durations once.
//
// Producers share one shape: Start is idempotent, Stop cancels all pending
// work and is idempotent, and thresholds are read from the live
// configuration on every sample so a reload applies without a restart.
// Every event goes through a Recorder, normally the pipeline's event sink.
package apm
