package beacon

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/beacon/pkg/apm"
	"mercator-hq/beacon/pkg/config"
	"mercator-hq/beacon/pkg/crash"
)

type fixedMemory struct{}

func (fixedMemory) Sample() (apm.MemoryStats, error) {
	return apm.MemoryStats{HeapUsed: 10 << 20, HeapMax: 100 << 20}, nil
}

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p := New(Options{
		Dir:       t.TempDir(),
		Console:   io.Discard,
		Memory:    fixedMemory{},
		FreeSpace: func(string) (uint64, error) { return 1 << 40, nil },
		Build:     "test",
	})
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg, err := config.New(func(c *config.Config) {
		c.Logging.Console = false
		if mutate != nil {
			mutate(c)
		}
	})
	require.NoError(t, err)
	return cfg
}

func allOff(c *config.Config) {
	c.APM.Crash = false
	c.APM.Startup = false
	c.APM.FPS = false
	c.APM.Memory = false
}

// readEvents returns the concatenated apm day files.
func readEvents(t *testing.T, p *Pipeline) string {
	t.Helper()
	require.NoError(t, p.Flush(context.Background()))
	files, err := p.Files()
	require.NoError(t, err)

	var sb strings.Builder
	for _, f := range files[AreaAPM] {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		sb.Write(data)
	}
	return sb.String()
}

type countingListener struct {
	BaseListener

	mu          sync.Mutex
	crashes     []string
	transitions []bool
}

func (l *countingListener) OnCrash(typ, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.crashes = append(l.crashes, typ)
}

func (l *countingListener) OnForegroundChanged(fg bool, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, fg)
}

type panickingListener struct{ BaseListener }

func (panickingListener) OnForegroundChanged(bool, time.Duration) { panic("listener") }

func TestInitTwice(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Init(ctx, testConfig(t, nil)))
	session := p.Session()

	err := p.Init(ctx, testConfig(t, allOff))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	// The duplicate left everything as it was.
	assert.Equal(t, session, p.Session())
	assert.True(t, p.Config().APM.FPS)
	for name, state := range p.Producers() {
		assert.Equal(t, apm.Running, state, name)
	}
}

func TestShutdownTwice(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, nil)))
	session := p.Session()

	require.NoError(t, p.Shutdown())
	assert.ErrorIs(t, p.Shutdown(), ErrNotInitialized)
	assert.False(t, p.Initialized())
	assert.NotEqual(t, session, p.Session())

	for name, state := range p.Producers() {
		assert.Equal(t, apm.Stopped, state, name)
	}

	// A later Init behaves as a first boot.
	require.NoError(t, p.Init(context.Background(), testConfig(t, nil)))
	assert.True(t, p.Initialized())
}

func TestOperationsBeforeInit(t *testing.T) {
	p := newPipeline(t)

	assert.ErrorIs(t, p.Apply(testConfig(t, nil)), ErrNotInitialized)
	assert.ErrorIs(t, p.ClearData(), ErrNotInitialized)
	_, err := p.Sweep(context.Background())
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = p.Files()
	assert.ErrorIs(t, err, ErrNotInitialized)

	// Recording before Init is a no-op rather than a failure.
	p.Record("custom", map[string]any{"k": "v"})
}

func TestToggleStartsOnlyThatProducer(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	require.NoError(t, p.Toggle("apm.fps", true))

	states := p.Producers()
	assert.Equal(t, apm.Running, states[ProducerFPS])
	assert.Equal(t, apm.Stopped, states[ProducerCrash])
	assert.Equal(t, apm.Stopped, states[ProducerStartup])
	assert.Equal(t, apm.Stopped, states[ProducerMemory])

	require.NoError(t, p.Toggle("apm.fps", false))
	assert.Equal(t, apm.Stopped, p.Producers()[ProducerFPS])
}

func TestSetLogLevelReloads(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	require.NoError(t, p.SetLogLevel("error"))
	assert.Equal(t, "error", p.Config().Logging.Level)
	assert.Equal(t, "ERROR", p.Logger().Level().String())
}

func TestDisableKeepsStorageOpen(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	p.Record("before", nil)
	require.NoError(t, p.Apply(testConfig(t, func(c *config.Config) { c.Enabled = false })))

	assert.NotNil(t, p.sink.Load())
	for name, state := range p.Producers() {
		assert.Equal(t, apm.Stopped, state, name)
	}

	p.Record("while_disabled", nil)
	require.NoError(t, p.Apply(testConfig(t, allOff)))
	p.Record("after", nil)

	events := readEvents(t, p)
	assert.Contains(t, events, `"type":"before"`)
	assert.Contains(t, events, `"type":"after"`)
	assert.NotContains(t, events, "while_disabled")
}

func TestApplyRejectsInvalid(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, nil)))

	bad := testConfig(t, nil)
	bad.APM.FPSWarnThreshold = 0
	err := p.Apply(bad)

	var verr config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 45, p.Config().APM.FPSWarnThreshold)
}

func TestListenerPanicIsIsolated(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	counter := &countingListener{}
	p.AddListener(panickingListener{})
	p.AddListener(counter)
	p.AddListener(counter)

	p.SetForeground(true)

	assert.Equal(t, []bool{true}, counter.transitions)
}

func TestRemoveListener(t *testing.T) {
	p := newPipeline(t)
	counter := &countingListener{}
	p.AddListener(counter)
	p.RemoveListener(counter)

	p.SetForeground(true)
	assert.Empty(t, counter.transitions)
}

func TestForegroundEvents(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	counter := &countingListener{}
	p.AddListener(counter)

	p.SetCurrentPage("home")
	p.SetForeground(true)
	p.SetForeground(true)
	p.SetForeground(false)

	assert.Equal(t, []bool{true, false}, counter.transitions)
	assert.False(t, p.Foreground())

	events := readEvents(t, p)
	assert.Equal(t, 1, strings.Count(events, `"type":"app_foreground"`))
	assert.Contains(t, events, `"type":"app_background"`)
	assert.Contains(t, events, `"foreground_duration_ms"`)
	assert.Contains(t, events, `"page":"home"`)
}

func TestPages(t *testing.T) {
	p := newPipeline(t)

	p.SetCurrentPage("a")
	p.LeavePage("b")
	assert.Equal(t, "a", p.CurrentPage())

	p.LeavePage("a")
	assert.Equal(t, "", p.CurrentPage())
}

func TestFirstPageCompletesColdStart(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, func(c *config.Config) {
		allOff(c)
		c.APM.Startup = true
	})))

	p.SetCurrentPage("home")
	p.SetCurrentPage("detail")

	assert.True(t, p.Startup().Reported())
	events := readEvents(t, p)
	assert.Equal(t, 1, strings.Count(events, `"type":"cold_start"`))
}

func TestColdStartOncePerProcess(t *testing.T) {
	p := newPipeline(t)
	cfg := testConfig(t, func(c *config.Config) {
		allOff(c)
		c.APM.Startup = true
	})

	require.NoError(t, p.Init(context.Background(), cfg))
	p.SetCurrentPage("home")
	require.NoError(t, p.Shutdown())

	require.NoError(t, p.Init(context.Background(), cfg))
	p.SetCurrentPage("home")

	events := readEvents(t, p)
	assert.Equal(t, 1, strings.Count(events, `"type":"cold_start"`))
}

// slowStore holds Save until released.
type slowStore struct {
	config.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) Save(cfg *config.Config) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Save(cfg)
}

func TestFrameCallsDoNotWaitForInit(t *testing.T) {
	store := &slowStore{
		Store:   config.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := New(Options{
		Dir:       t.TempDir(),
		Store:     store,
		Console:   io.Discard,
		Memory:    fixedMemory{},
		FreeSpace: func(string) (uint64, error) { return 1 << 40, nil },
	})
	t.Cleanup(func() { _ = p.Shutdown() })

	initDone := make(chan error, 1)
	go func() { initDone <- p.Init(context.Background(), testConfig(t, allOff)) }()
	<-store.entered

	frameDone := make(chan struct{})
	go func() {
		defer close(frameDone)
		p.OnFrame(time.Now())
		p.SetCurrentPage("home")
		p.Startup().MarkFullyDrawn()
	}()

	select {
	case <-frameDone:
	case <-time.After(time.Second):
		close(store.release)
		t.Fatal("primary context calls waited for Init")
	}

	close(store.release)
	require.NoError(t, <-initDone)
}

func TestDiskFloorAppliesLive(t *testing.T) {
	p := New(Options{
		Dir:       t.TempDir(),
		Console:   io.Discard,
		Memory:    fixedMemory{},
		FreeSpace: func(string) (uint64, error) { return 1 << 30, nil },
	})
	t.Cleanup(func() { _ = p.Shutdown() })
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	p.Record("before", nil)
	require.NoError(t, p.Flush(context.Background()))

	require.NoError(t, p.Apply(testConfig(t, func(c *config.Config) {
		allOff(c)
		c.Storage.MinFreeBytes = 2 << 30
	})))
	p.Record("below_floor", nil)

	events := readEvents(t, p)
	assert.Contains(t, events, `"type":"before"`)
	assert.NotContains(t, events, "below_floor")
}

func TestCrashReportRecordsEvent(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, func(c *config.Config) {
		allOff(c)
		c.APM.Crash = true
	})))

	counter := &countingListener{}
	p.AddListener(counter)

	path, err := p.captor.ReportHang("goroutine 1 [running]:\nmain.main()\n")
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, []string{crash.TypeHang}, counter.crashes)
	assert.Contains(t, readEvents(t, p), `"type":"crash"`)
}

func TestRecoverWritesReport(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, func(c *config.Config) {
		allOff(c)
		c.APM.Crash = true
	})))

	assert.PanicsWithValue(t, "boom", func() {
		defer p.Recover()
		panic("boom")
	})

	files, err := p.Files()
	require.NoError(t, err)
	require.Len(t, files[AreaCrash], 1)
	assert.Contains(t, files[AreaCrash][0], crash.TypePanic+"_")
	assert.True(t, p.sink.Load().Emergency())
}

func TestRecoverWithCrashDisabled(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	assert.Panics(t, func() {
		defer p.Recover()
		panic("boom")
	})

	files, err := p.Files()
	require.NoError(t, err)
	assert.Empty(t, files[AreaCrash])
}

func TestClearData(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	p.Record("old", nil)
	p.Logger().Info("old line")
	assert.Contains(t, readEvents(t, p), "old")

	require.NoError(t, p.ClearData())

	files, err := p.Files()
	require.NoError(t, err)
	assert.Empty(t, files[AreaAPM])

	p.Record("new", nil)
	events := readEvents(t, p)
	assert.Contains(t, events, `"type":"new"`)
	assert.NotContains(t, events, `"type":"old"`)
}

func TestSweepRecordsLastRun(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, func(c *config.Config) {
		allOff(c)
		c.Retention.Schedule = ""
	})))

	_, err := p.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, p.LastSweep().IsZero())
}

func TestAreasBudgetOnlyLogs(t *testing.T) {
	p := newPipeline(t)
	_, err := p.Areas()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))
	areas, err := p.Areas()
	require.NoError(t, err)
	require.Len(t, areas, 3)

	for _, a := range areas {
		assert.Equal(t, a.Name == AreaLogs, a.SizeBudget, a.Name)
	}
	assert.Len(t, areas[0].Exclude, 1)
}

func TestConcurrentApply(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.Init(context.Background(), testConfig(t, allOff)))

	on := testConfig(t, func(c *config.Config) {
		allOff(c)
		c.APM.FPS = true
	})
	off := testConfig(t, allOff)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := off
			if i%2 == 0 {
				cfg = on
			}
			assert.NoError(t, p.Apply(cfg))
		}(i)
	}
	wg.Wait()

	require.NoError(t, p.Apply(on))
	assert.Equal(t, apm.Running, p.Producers()[ProducerFPS])
	assert.Equal(t, apm.Stopped, p.Producers()[ProducerMemory])
}
