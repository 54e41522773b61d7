package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// Defaults.
const (
	DefaultInterval = 5 * time.Second
	DefaultCooldown = 60 * time.Second
)

// MainContext is the primary execution context being watched.
type MainContext interface {
	// Post schedules fn on the context. It returns false when the task
	// could not be queued.
	Post(fn func()) bool

	// Stack returns the context's current stack trace.
	Stack() string
}

// Reporter persists a hang report and returns its path.
type Reporter interface {
	ReportHang(stack string) (string, error)
}

// Options configures a Watchdog.
type Options struct {
	Main     MainContext
	Reporter Reporter

	// Interval is the probe period. Default: 5s
	Interval time.Duration

	// Cooldown is the minimum time between two reports. Default: 60s
	Cooldown time.Duration

	// OnHang is called with the report path after each report. Optional.
	OnHang func(path string)

	Clock clock.Clock
}

// State is a snapshot of the watchdog loop.
type State struct {
	LastAck    time.Time
	LastReport time.Time
	Running    bool
}

// Watchdog periodically probes a MainContext for responsiveness.
type Watchdog struct {
	main     MainContext
	reporter Reporter
	onHang   func(path string)
	clock    clock.Clock
	logger   *slog.Logger

	interval atomic.Int64
	cooldown atomic.Int64

	round    atomic.Uint64
	ackRound atomic.Uint64

	mu         sync.Mutex
	lastAck    time.Time
	lastReport time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a stopped Watchdog.
func New(opts Options) *Watchdog {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	w := &Watchdog{
		main:     opts.Main,
		reporter: opts.Reporter,
		onHang:   opts.OnHang,
		clock:    opts.Clock,
		logger:   slog.Default().With("component", "watchdog"),
	}
	w.SetInterval(opts.Interval)
	w.SetCooldown(opts.Cooldown)
	return w
}

// SetInterval changes the probe period from the next round. d <= 0 uses
// DefaultInterval.
func (w *Watchdog) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	w.interval.Store(int64(d))
}

// SetCooldown changes the report cooldown. d <= 0 uses DefaultCooldown.
func (w *Watchdog) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	w.cooldown.Store(int64(d))
}

// Start launches the probe loop. Calling Start on a running watchdog is a
// no-op.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done

	go func() {
		defer close(done)
		defer w.exited(done, cancel)
		w.run(ctx)
	}()

	w.logger.Debug("watchdog started", "interval", w.currentInterval())
}

// Stop ends the probe loop and waits for it to exit. It interrupts a
// pending wait immediately and is a no-op when not running.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.logger.Debug("watchdog stopped")
}

// exited clears the run state when the loop ends without Stop.
func (w *Watchdog) exited(done chan struct{}, cancel context.CancelFunc) {
	cancel()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == done {
		w.cancel, w.done = nil, nil
	}
}

// Running reports whether the probe loop is active.
func (w *Watchdog) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// State returns a snapshot of the loop state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		LastAck:    w.lastAck,
		LastReport: w.lastReport,
		Running:    w.cancel != nil,
	}
}

func (w *Watchdog) currentInterval() time.Duration {
	return time.Duration(w.interval.Load())
}

func (w *Watchdog) run(ctx context.Context) {
	for {
		round := w.round.Add(1)
		if !w.main.Post(func() { w.ack(round) }) {
			w.logger.Debug("probe not queued", "round", round)
		}

		timer := w.clock.NewTimer(w.currentInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		w.evaluate(w.ackRound.Load() >= round, w.clock.Now())
	}
}

func (w *Watchdog) ack(round uint64) {
	for {
		cur := w.ackRound.Load()
		if cur >= round || w.ackRound.CompareAndSwap(cur, round) {
			break
		}
	}
	w.mu.Lock()
	w.lastAck = w.clock.Now()
	w.mu.Unlock()
}

// evaluate handles the outcome of one probe round and reports whether a
// hang report was produced.
func (w *Watchdog) evaluate(acked bool, now time.Time) bool {
	if acked {
		return false
	}

	w.mu.Lock()
	cooldown := time.Duration(w.cooldown.Load())
	if !w.lastReport.IsZero() && now.Sub(w.lastReport) < cooldown {
		w.mu.Unlock()
		return false
	}
	w.lastReport = now
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("hang report panicked", "panic", r)
		}
	}()

	stack := w.main.Stack()
	w.logger.Warn("primary context unresponsive", "interval", w.currentInterval())

	if w.reporter == nil {
		return true
	}
	path, err := w.reporter.ReportHang(stack)
	if err != nil {
		w.logger.Error("failed to report hang", "error", err)
		return true
	}
	if w.onHang != nil {
		w.onHang(path)
	}
	return true
}
