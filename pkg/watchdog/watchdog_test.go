package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

// hungMain never runs posted tasks.
type hungMain struct{}

func (hungMain) Post(func()) bool { return true }
func (hungMain) Stack() string    { return "goroutine 1 [select]:\nmain.blocked()\n" }

// liveMain runs posted tasks immediately.
type liveMain struct{}

func (liveMain) Post(fn func()) bool { fn(); return true }
func (liveMain) Stack() string       { return "" }

type recordingReporter struct {
	mu     sync.Mutex
	stacks []string
	err    error
}

func (r *recordingReporter) ReportHang(stack string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stacks = append(r.stacks, stack)
	if r.err != nil {
		return "", r.err
	}
	return "/crash/hang.log", nil
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stacks)
}

func step(t *testing.T, clk *clocktesting.FakeClock, d time.Duration) {
	t.Helper()
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(d)
}

func TestOneReportPerCooldown(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rep := &recordingReporter{}
	var paths []string
	var mu sync.Mutex

	w := New(Options{
		Main:     hungMain{},
		Reporter: rep,
		Interval: 5 * time.Second,
		Cooldown: 60 * time.Second,
		Clock:    clk,
		OnHang: func(path string) {
			mu.Lock()
			defer mu.Unlock()
			paths = append(paths, path)
		},
	})
	w.Start(context.Background())
	defer w.Stop()

	// Four hung intervals inside one cooldown window.
	for i := 0; i < 4; i++ {
		step(t, clk, 5*time.Second)
	}
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	assert.Equal(t, 1, rep.count())

	// Past the cooldown a new report is allowed.
	for i := 0; i < 9; i++ {
		step(t, clk, 5*time.Second)
	}
	require.Eventually(t, func() bool { return rep.count() == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/crash/hang.log", "/crash/hang.log"}, paths)
	assert.Contains(t, rep.stacks[0], "main.blocked()")
}

func TestResponsiveContextNeverReports(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	rep := &recordingReporter{}

	w := New(Options{Main: liveMain{}, Reporter: rep, Clock: clk})
	w.Start(context.Background())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		step(t, clk, DefaultInterval)
	}
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	assert.Zero(t, rep.count())
	assert.False(t, w.State().LastAck.IsZero())
}

func TestStopInterruptsWait(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	w := New(Options{Main: hungMain{}, Reporter: &recordingReporter{}, Interval: time.Hour, Clock: clk})

	w.Start(context.Background())
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	assert.True(t, w.Running())

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the wait")
	}
	assert.False(t, w.Running())

	// Idempotent.
	w.Stop()
}

func TestContextCancelStopsLoop(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	w := New(Options{Main: hungMain{}, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	w.Start(ctx) // no-op
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return !w.Running() }, time.Second, time.Millisecond)
	assert.False(t, w.State().Running)
	assert.False(t, clk.HasWaiters())
	w.Stop()

	w.Start(context.Background())
	assert.True(t, w.Running())
	w.Stop()
}

func TestEvaluate(t *testing.T) {
	rep := &recordingReporter{}
	w := New(Options{Main: hungMain{}, Reporter: rep, Cooldown: time.Minute})
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, w.evaluate(true, now), "acked round")
	assert.True(t, w.evaluate(false, now))
	assert.False(t, w.evaluate(false, now.Add(59*time.Second)), "inside cooldown")
	assert.True(t, w.evaluate(false, now.Add(61*time.Second)))
	assert.Equal(t, 2, rep.count())
	assert.Equal(t, now.Add(61*time.Second), w.State().LastReport)
}

func TestReporterErrorSkipsCallback(t *testing.T) {
	called := false
	w := New(Options{
		Main:     hungMain{},
		Reporter: &recordingReporter{err: errors.New("disk full")},
		OnHang:   func(string) { called = true },
	})

	assert.True(t, w.evaluate(false, time.Now()))
	assert.False(t, called)
}

func TestSetThresholdDefaults(t *testing.T) {
	w := New(Options{})
	assert.Equal(t, DefaultInterval, w.currentInterval())
	w.SetInterval(2 * time.Second)
	assert.Equal(t, 2*time.Second, w.currentInterval())
	w.SetCooldown(0)
	assert.Equal(t, int64(DefaultCooldown), w.cooldown.Load())
}
