package apm

import (
	"context"
	"strings"
	"sync"
	"time"
)

const (
	// FrozenFrameThreshold is the frame duration reported immediately as a
	// frozen frame.
	FrozenFrameThreshold = 700 * time.Millisecond

	// RollupInterval is the low-fps evaluation window.
	RollupInterval = time.Second

	// DefaultRefreshRate is used when no refresh rate can be detected.
	DefaultRefreshRate = 60

	frozenStackLines = 15
)

// FrameOptions configures a FrameTracer.
type FrameOptions struct {
	Options

	// RefreshRate returns the display refresh rate in Hz. It is read on
	// every Start. Default: 60
	RefreshRate func() int

	// Stack returns the primary context stack, captured on frozen frames.
	Stack func() string

	// OnLowFPS is called after each low-fps event. Optional.
	OnLowFPS func(fps, maxFPS, dropped int)
}

// FrameTracer accumulates frame timings into 1-second rollups.
type FrameTracer struct {
	opts   FrameOptions
	runner runner

	mu      sync.Mutex
	running bool
	last    time.Time
	frames  int
	dropped int
	maxFPS  int
}

// NewFrameTracer creates a stopped FrameTracer.
func NewFrameTracer(opts FrameOptions) *FrameTracer {
	opts.Options = opts.Options.withDefaults()
	if opts.RefreshRate == nil {
		opts.RefreshRate = func() int { return DefaultRefreshRate }
	}
	return &FrameTracer{opts: opts, maxFPS: DefaultRefreshRate}
}

// Start begins the rollup loop. Frames are accepted only while running.
func (t *FrameTracer) Start(ctx context.Context) {
	rate := t.opts.RefreshRate()
	if rate <= 0 {
		rate = DefaultRefreshRate
	}

	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.maxFPS = rate
	t.resetLocked()
	t.mu.Unlock()

	t.runner.start(ctx, t.loop)
}

// Stop ends the rollup loop and discards the current window.
func (t *FrameTracer) Stop() {
	t.mu.Lock()
	t.running = false
	t.resetLocked()
	t.mu.Unlock()

	t.runner.stop()
}

// State returns the run state.
func (t *FrameTracer) State() State {
	return t.runner.state()
}

// OnFrame records one frame presented at frameTime.
func (t *FrameTracer) OnFrame(frameTime time.Time) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	last := t.last
	t.last = frameTime
	if last.IsZero() {
		t.mu.Unlock()
		return
	}

	elapsed := frameTime.Sub(last)
	budget := time.Second / time.Duration(t.maxFPS)
	t.frames++
	if elapsed > budget {
		t.dropped += int(elapsed/budget) - 1
	}
	t.mu.Unlock()

	if elapsed > FrozenFrameThreshold {
		t.reportFrozen(elapsed)
	}
}

func (t *FrameTracer) reportFrozen(elapsed time.Duration) {
	stack := ""
	if t.opts.Stack != nil {
		stack = truncateLines(t.opts.Stack(), frozenStackLines)
	}
	t.opts.Logger.Warn("frozen frame", "duration_ms", elapsed.Milliseconds())
	t.opts.record(EventFrozenFrame, map[string]any{
		"duration_ms": elapsed.Milliseconds(),
		"stack":       stack,
	}, t.opts.Page())
}

func (t *FrameTracer) loop(ctx context.Context) {
	ticker := t.opts.Clock.NewTicker(RollupInterval)
	defer ticker.Stop()
	defer func() {
		t.mu.Lock()
		t.running = false
		t.resetLocked()
		t.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			t.safeRollup()
		}
	}
}

func (t *FrameTracer) safeRollup() {
	defer func() {
		if r := recover(); r != nil {
			t.opts.Logger.Warn("frame rollup failed", "panic", r)
		}
	}()
	t.rollup()
}

// rollup closes the current window. It reports whether a low-fps event
// was emitted.
func (t *FrameTracer) rollup() bool {
	t.mu.Lock()
	fps := min(t.frames, t.maxFPS)
	maxFPS := t.maxFPS
	dropped := t.dropped
	t.resetLocked()
	t.mu.Unlock()

	threshold := t.opts.Config().APM.FPSWarnThreshold
	if fps < 1 || fps >= threshold {
		return false
	}

	t.opts.Logger.Warn("low fps", "fps", fps, "max_fps", maxFPS, "dropped", dropped)
	t.opts.record(EventLowFPS, map[string]any{
		"fps":     fps,
		"max_fps": maxFPS,
		"dropped": dropped,
	}, t.opts.Page())
	if t.opts.OnLowFPS != nil {
		t.opts.OnLowFPS(fps, maxFPS, dropped)
	}
	return true
}

func (t *FrameTracer) resetLocked() {
	t.frames = 0
	t.dropped = 0
	t.last = time.Time{}
}

func truncateLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
