package apm

import (
	"context"
	"fmt"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const mb = 1024 * 1024

// MemoryStats is one memory reading in bytes.
type MemoryStats struct {
	HeapUsed uint64
	HeapMax  uint64
	Native   uint64
}

// Ratio returns HeapUsed / HeapMax, or 0 when the maximum is unknown.
func (s MemoryStats) Ratio() float64 {
	if s.HeapMax == 0 {
		return 0
	}
	return float64(s.HeapUsed) / float64(s.HeapMax)
}

// MemorySource produces memory readings.
type MemorySource interface {
	Sample() (MemoryStats, error)
}

// RuntimeMemory reads the Go heap from runtime statistics. The heap
// maximum is the soft memory limit, or total system memory when no limit
// is set. Native is the process resident set size.
type RuntimeMemory struct {
	proc *process.Process
}

// NewRuntimeMemory returns a source for the current process.
func NewRuntimeMemory() (*RuntimeMemory, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to open current process: %w", err)
	}
	return &RuntimeMemory{proc: proc}, nil
}

// Sample implements MemorySource.
func (m *RuntimeMemory) Sample() (MemoryStats, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := MemoryStats{HeapUsed: ms.HeapAlloc}

	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		stats.HeapMax = uint64(limit)
	} else if vm, err := mem.VirtualMemory(); err == nil {
		stats.HeapMax = vm.Total
	} else {
		return stats, fmt.Errorf("failed to read system memory: %w", err)
	}

	if m.proc != nil {
		if info, err := m.proc.MemoryInfo(); err == nil {
			stats.Native = info.RSS
		}
	}
	return stats, nil
}

// MemoryOptions configures a MemorySampler.
type MemoryOptions struct {
	Options

	// Source provides readings. Required.
	Source MemorySource

	// OnLowMemory is called when the heap ratio exceeds the warning ratio.
	OnLowMemory func(usedMB, maxMB int64, ratio float64)
}

// MemorySampler records memory usage on the configured interval. It runs
// on its own goroutine, never on the primary context.
type MemorySampler struct {
	opts   MemoryOptions
	runner runner
}

// NewMemorySampler creates a stopped MemorySampler.
func NewMemorySampler(opts MemoryOptions) *MemorySampler {
	opts.Options = opts.Options.withDefaults()
	return &MemorySampler{opts: opts}
}

// Start begins sampling; the first sample is taken immediately.
func (s *MemorySampler) Start(ctx context.Context) {
	s.runner.start(ctx, s.loop)
}

// Stop ends sampling.
func (s *MemorySampler) Stop() {
	s.runner.stop()
}

// State returns the run state.
func (s *MemorySampler) State() State {
	return s.runner.state()
}

func (s *MemorySampler) loop(ctx context.Context) {
	for {
		s.safeSample()

		interval := s.opts.Config().APM.SampleInterval
		if interval < time.Second {
			interval = time.Second
		}
		timer := s.opts.Clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

func (s *MemorySampler) safeSample() {
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Warn("memory sample failed", "panic", r)
		}
	}()
	s.sample()
}

func (s *MemorySampler) sample() {
	if s.opts.Source == nil {
		return
	}
	stats, err := s.opts.Source.Sample()
	if err != nil {
		s.opts.Logger.Debug("memory sample incomplete", "error", err)
	}

	usedMB := int64(stats.HeapUsed / mb)
	maxMB := int64(stats.HeapMax / mb)
	ratio := stats.Ratio()

	s.opts.record(EventMemory, map[string]any{
		"heap_used_mb": usedMB,
		"heap_max_mb":  maxMB,
		"native_mb":    int64(stats.Native / mb),
		"ratio":        math.Round(ratio*100) / 100,
	}, s.opts.Page())

	if ratio > s.opts.Config().APM.MemoryWarnRatio {
		s.opts.Logger.Warn("memory warning", "used_mb", usedMB, "max_mb", maxMB, "percent", int(ratio*100))
		if s.opts.OnLowMemory != nil {
			s.opts.OnLowMemory(usedMB, maxMB, ratio)
		}
	}
}
