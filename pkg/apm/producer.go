package apm

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	"mercator-hq/beacon/pkg/config"
)

// Event types emitted by the producers.
const (
	EventFrozenFrame = "frozen_frame"
	EventLowFPS      = "low_fps"
	EventMemory      = "memory"
	EventColdStart   = "cold_start"
	EventTTFD        = "ttfd"
)

// State is the run state of a producer.
type State int32

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// Recorder receives producer events.
type Recorder interface {
	Record(typ string, data map[string]any, page string)
}

// Logger is the business log used for producer warnings.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options holds what every producer needs.
type Options struct {
	Recorder Recorder

	// Config returns the live configuration. Thresholds are read from it
	// on every sample.
	Config func() *config.Config

	// Page returns the current page label attached to events. Optional.
	Page func() string

	Logger Logger

	// Clock drives sampling intervals. Default: the real clock.
	Clock clock.WithTicker
}

func (o Options) withDefaults() Options {
	if o.Config == nil {
		o.Config = config.Default
	}
	if o.Page == nil {
		o.Page = func() string { return "" }
	}
	if o.Logger == nil {
		o.Logger = nopLogger{}
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

func (o Options) record(typ string, data map[string]any, page string) {
	if o.Recorder != nil {
		o.Recorder.Record(typ, data, page)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}

// runner owns the run state of one producer. A fresh context and done
// channel are created on every start.
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// start launches loop unless already running. It reports whether a new
// loop was started.
func (r *runner) start(ctx context.Context, loop func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done

	go func() {
		defer close(done)
		defer r.exited(done, cancel)
		loop(ctx)
	}()
	return true
}

// exited clears the run state when a loop ends on its own, for example
// because its parent context was cancelled.
func (r *runner) exited(done chan struct{}, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == done {
		r.cancel, r.done = nil, nil
	}
}

// stop cancels the loop and waits for it. It reports whether a loop was
// running.
func (r *runner) stop() bool {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (r *runner) state() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return Running
	}
	return Stopped
}
