package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper is the work a Scheduler runs.
type Sweeper interface {
	Sweep(ctx context.Context) (Result, error)
}

// Scheduler runs retention sweeps on a cron schedule.
type Scheduler struct {
	sweeper Sweeper
	logger  *slog.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	schedule string
	cancel   context.CancelFunc
	running  bool

	// deferred tracks RunDeferred goroutines so Stop can wait for them.
	deferred sync.WaitGroup
}

// NewScheduler creates a new retention scheduler.
func NewScheduler(sweeper Sweeper) *Scheduler {
	return &Scheduler{
		sweeper: sweeper,
		logger:  slog.Default().With("component", "retention.scheduler"),
	}
}

// Start schedules sweeps on the cron expression schedule. Standard
// five-field expressions and descriptors are accepted:
//   - "@every 1h"    - Hourly from start
//   - "0 3 * * *"    - Daily at 3 AM
//   - "0 */6 * * *"  - Every 6 hours
//
// An empty schedule does nothing. Starting a running scheduler restarts it
// on the new schedule. Cancelling ctx stops it.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		s.logger.Info("retention schedule not configured, skipping scheduler")
		return nil
	}

	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		s.runSweep(runCtx)
	}))
	c.Start()

	s.cron = c
	s.schedule = schedule
	s.cancel = cancel
	s.running = true

	s.logger.Info("retention scheduler started", "schedule", schedule)

	// Stop when ctx is cancelled, unless a later Start replaced this run.
	go func() {
		<-runCtx.Done()
		s.mu.Lock()
		current := s.cron == c
		s.mu.Unlock()
		if current {
			s.Stop()
		}
	}()

	return nil
}

// RunDeferred runs one sweep in the background and returns immediately.
// The returned channel receives the result once and is then closed.
func (s *Scheduler) RunDeferred(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	s.deferred.Add(1)
	go func() {
		defer s.deferred.Done()
		defer close(out)
		out <- s.runSweep(ctx)
	}()
	return out
}

// runSweep executes one sweep cycle.
func (s *Scheduler) runSweep(ctx context.Context) Result {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("retention sweep panicked", "panic", r)
		}
	}()

	res, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Warn("retention sweep finished with errors",
			"deleted", res.Deleted(),
			"error", err,
		)
	}
	return res
}

// Stop stops the scheduler, cancelling an in-flight sweep, and waits for
// running jobs to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	wasRunning := s.running
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done() // Wait for running jobs to finish
	}
	s.deferred.Wait()

	if wasRunning {
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Schedule returns the active cron expression, or "" when stopped.
func (s *Scheduler) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ""
	}
	return s.schedule
}

// NextRun returns the next scheduled sweep time, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
