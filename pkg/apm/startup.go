package apm

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// StartupTimer computes cold-start durations from externally set marks.
// Marks are captured at any time; events are emitted only while running.
type StartupTimer struct {
	opts Options

	mu           sync.Mutex
	running      bool
	processStart time.Time
	appCreate    time.Time
	reported     bool
	drawn        bool
}

// NewStartupTimer creates a stopped StartupTimer.
func NewStartupTimer(opts Options) *StartupTimer {
	return &StartupTimer{opts: opts.withDefaults()}
}

// Start enables event emission. StartupTimer has no background work.
func (s *StartupTimer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

// Stop disables event emission.
func (s *StartupTimer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// State returns the run state.
func (s *StartupTimer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return Running
	}
	return Stopped
}

// MarkProcessStart records the process start as now.
func (s *StartupTimer) MarkProcessStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processStart = s.opts.Clock.Now()
}

// MarkProcessStartFromOS records the process start as reported by the
// operating system. The process age is measured on the wall clock and the
// mark is placed that far back on the timer's clock, so every split uses
// one time base.
func (s *StartupTimer) MarkProcessStartFromOS() error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("failed to open current process: %w", err)
	}
	ms, err := proc.CreateTime()
	if err != nil {
		return fmt.Errorf("failed to read process create time: %w", err)
	}

	s.markProcessAge(time.Since(time.UnixMilli(ms)))
	return nil
}

// markProcessAge records the process start as age before now.
func (s *StartupTimer) markProcessAge(age time.Duration) {
	if age < 0 {
		age = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processStart = s.opts.Clock.Now().Add(-age)
}

// MarkAppCreate records the end of application initialization.
func (s *StartupTimer) MarkAppCreate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appCreate = s.opts.Clock.Now()
}

// MarkFirstFrame emits the cold_start event once. Later calls are no-ops.
// Without a process start mark it logs a warning and emits nothing.
func (s *StartupTimer) MarkFirstFrame() {
	s.mu.Lock()
	if s.reported || !s.running {
		s.mu.Unlock()
		return
	}
	if s.processStart.IsZero() {
		s.mu.Unlock()
		s.opts.Logger.Warn("process start was not marked, skipping startup trace")
		return
	}
	s.reported = true

	now := s.opts.Clock.Now()
	total := now.Sub(s.processStart)
	appInit := time.Duration(0)
	render := total
	if !s.appCreate.IsZero() {
		appInit = s.appCreate.Sub(s.processStart)
		render = now.Sub(s.appCreate)
	}
	s.mu.Unlock()

	s.opts.Logger.Info("cold start", "total_ms", total.Milliseconds(), "init_ms", appInit.Milliseconds(), "render_ms", render.Milliseconds())
	s.opts.record(EventColdStart, map[string]any{
		"total_ms":    total.Milliseconds(),
		"app_init_ms": appInit.Milliseconds(),
		"render_ms":   render.Milliseconds(),
	}, "")
}

// MarkFullyDrawn emits the ttfd event once.
func (s *StartupTimer) MarkFullyDrawn() {
	s.mu.Lock()
	if s.drawn || !s.running || s.processStart.IsZero() {
		s.mu.Unlock()
		return
	}
	s.drawn = true
	ttfd := s.opts.Clock.Now().Sub(s.processStart)
	s.mu.Unlock()

	s.opts.Logger.Info("fully drawn", "ttfd_ms", ttfd.Milliseconds())
	s.opts.record(EventTTFD, map[string]any{"ttfd_ms": ttfd.Milliseconds()}, "")
}

// Reported reports whether the cold_start event was emitted.
func (s *StartupTimer) Reported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reported
}
