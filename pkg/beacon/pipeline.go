package beacon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"mercator-hq/beacon/pkg/apm"
	"mercator-hq/beacon/pkg/config"
	"mercator-hq/beacon/pkg/crash"
	"mercator-hq/beacon/pkg/logstore"
	"mercator-hq/beacon/pkg/retention"
	"mercator-hq/beacon/pkg/sink"
	"mercator-hq/beacon/pkg/telemetry/logging"
	"mercator-hq/beacon/pkg/telemetry/metrics"
	"mercator-hq/beacon/pkg/watchdog"
)

// Version is the pipeline version reported in logs and crash reports.
const Version = "1.0.0"

// Storage area names, also their directory names under the storage root.
const (
	AreaLogs  = "logs"
	AreaAPM   = "apm"
	AreaCrash = "crash"
)

// Event types recorded by the pipeline itself.
const (
	EventCrash      = "crash"
	EventForeground = "app_foreground"
	EventBackground = "app_background"
)

// flushTimeout bounds flushes on background and shutdown.
const flushTimeout = 5 * time.Second

var (
	// ErrAlreadyInitialized is returned by Init on a running pipeline.
	ErrAlreadyInitialized = errors.New("beacon already initialized")

	// ErrNotInitialized is returned by operations that need Init first.
	ErrNotInitialized = errors.New("beacon not initialized")
)

// Options configures a Pipeline.
type Options struct {
	// Dir overrides the configured storage root.
	Dir string

	// Store persists the configuration. Default: an in-memory store.
	Store config.Store

	// Console receives console log output. Default: os.Stderr
	Console io.Writer

	// Metrics receives pipeline health counters. Optional.
	Metrics *metrics.Collector

	// Main is the primary execution context. The hang watchdog and
	// frozen-frame stacks need it; without it they are disabled.
	Main watchdog.MainContext

	// Memory provides memory readings. Default: the Go runtime.
	Memory apm.MemorySource

	// RefreshRate returns the display refresh rate. Default: 60Hz
	RefreshRate func() int

	// FreeSpace probes free disk space. Default: the storage volume.
	FreeSpace sink.FreeSpaceFunc

	// Build labels crash reports. Default: the binary's module version.
	Build string

	Clock clock.WithTicker
}

// Pipeline orchestrates every subsystem from one live configuration.
type Pipeline struct {
	opts   Options
	logger *slog.Logger

	// log is the business log; it exists before Init and survives
	// Shutdown.
	log      *logging.Logger
	redactor *logging.Redactor

	// mu is the orchestrator critical section: Init, Apply, Shutdown
	// and ClearData.
	mu          sync.Mutex
	initialized bool
	subscribed  bool
	quiet       atomic.Bool

	cfg atomic.Pointer[config.Config]

	scope  context.Context
	cancel context.CancelFunc
	dir    string

	engine    *logstore.FileEngine
	sink      atomic.Pointer[sink.Sink]
	gate      atomic.Pointer[sink.DiskGate]
	captor    *crash.Captor
	crashOn   atomic.Bool
	retention *retention.Manager
	scheduler *retention.Scheduler
	lastSweep atomic.Int64

	watchdog *watchdog.Watchdog
	memory   *apm.MemorySampler

	// frames and startup are read from the primary context without mu.
	// startup lives for the whole Pipeline: cold start happens once per
	// process.
	frames  atomic.Pointer[apm.FrameTracer]
	startup *apm.StartupTimer

	listeners atomic.Pointer[listenerRegistry]

	session    atomic.Pointer[string]
	page       atomic.Pointer[string]
	foreground atomic.Bool
	fgSince    atomic.Int64
}

// New creates a Pipeline. Nothing runs until Init.
func New(opts Options) *Pipeline {
	if opts.Store == nil {
		opts.Store = config.NewMemoryStore()
	}
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	p := &Pipeline{
		opts:     opts,
		logger:   slog.Default().With("component", "beacon"),
		redactor: logging.NewRedactor(config.DefaultSensitiveKeys()),
		captor:   crash.New(opts.Build, opts.Clock),
	}

	if p.opts.Memory == nil {
		src, err := apm.NewRuntimeMemory()
		if err != nil {
			p.logger.Warn("memory source unavailable", "error", err)
		} else {
			p.opts.Memory = src
		}
	}

	log, err := logging.FromConfig(config.Default(), nil, opts.Console)
	if err != nil {
		// Defaults always parse.
		panic(err)
	}
	p.log = log

	p.cfg.Store(config.Default())
	p.captor.SetCallback(p.onCrash)
	p.startup = p.newStartupTimer()
	p.resetLocked()
	return p
}

// resetLocked creates fresh run state: scope, listeners, session and
// producers.
func (p *Pipeline) resetLocked() {
	p.listeners.Store(&listenerRegistry{})
	empty := ""
	p.page.Store(&empty)
	session := uuid.NewString()
	p.session.Store(&session)
	p.foreground.Store(false)
	p.fgSince.Store(0)
	p.dir = ""
	p.engine = nil
	p.retention = nil
	p.scheduler = nil
	p.buildProducers()
}

// Init starts the pipeline. A nil cfg loads the persisted configuration;
// a non-nil cfg is validated and persisted first. Calling Init on a
// running pipeline logs a warning and returns ErrAlreadyInitialized
// without touching any state.
func (p *Pipeline) Init(ctx context.Context, cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		p.logger.Warn("already initialized, ignoring duplicate Init")
		return ErrAlreadyInitialized
	}

	if cfg == nil {
		cfg = p.opts.Store.Load()
	} else {
		p.quiet.Store(true)
		err := p.opts.Store.Save(cfg)
		p.quiet.Store(false)
		if err != nil {
			return fmt.Errorf("failed to persist configuration: %w", err)
		}
	}

	if !p.subscribed {
		p.opts.Store.OnChanged(p.onStoreChanged)
		p.subscribed = true
	}

	dir := cfg.Storage.Dir
	if p.opts.Dir != "" {
		dir = p.opts.Dir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root: %w", err)
	}
	p.dir = dir

	p.scope, p.cancel = context.WithCancel(ctx)
	p.cfg.Store(cfg)
	p.applyLiveLocked(cfg)
	p.startup.MarkAppCreate()

	p.retention = retention.NewManager(retention.Options{
		Areas:  Areas(p.dir),
		Config: p.Config,
		Clock:  p.opts.Clock,
	})
	p.scheduler = retention.NewScheduler(meteredSweeper{p: p, manager: p.retention})

	if cfg.Enabled {
		p.enableLocked(cfg)
	}
	p.initialized = true

	p.log.Named("Beacon").Info("initialized", "version", Version, "enabled", cfg.Enabled, "session", p.Session())
	return nil
}

// Apply transitions the pipeline to cfg. Concurrent calls serialize.
func (p *Pipeline) Apply(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		p.opts.Metrics.RecordReload(err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return ErrNotInitialized
	}

	old := p.cfg.Load()
	p.cfg.Store(cfg)
	p.applyLiveLocked(cfg)

	switch {
	case !old.Enabled && cfg.Enabled:
		p.enableLocked(cfg)
	case old.Enabled && !cfg.Enabled:
		p.disableLocked()
	case cfg.Enabled:
		if old.Retention.Schedule != cfg.Retention.Schedule {
			p.startRetentionLocked(cfg, false)
		}
		p.syncProducersLocked(cfg)
	}

	p.opts.Metrics.RecordReload(nil)
	p.log.Named("Beacon").Info("configuration applied", "enabled", cfg.Enabled)
	return nil
}

// Reload applies the persisted configuration.
func (p *Pipeline) Reload() error {
	return p.Apply(p.opts.Store.Load())
}

func (p *Pipeline) onStoreChanged() {
	if p.quiet.Load() {
		return
	}
	if err := p.Reload(); err != nil && !errors.Is(err, ErrNotInitialized) {
		p.logger.Error("failed to reload configuration", "error", err)
	}
}

// applyLiveLocked pushes thresholds that never need a restart.
func (p *Pipeline) applyLiveLocked(cfg *config.Config) {
	p.log.Apply(cfg)
	p.redactor.SetKeys(cfg.SensitiveKeys)
	if g := p.gate.Load(); g != nil {
		g.SetLimits(cfg.Storage.MinFreeBytes, cfg.Storage.DiskCheckInterval)
	}
	if p.watchdog != nil {
		p.watchdog.SetInterval(cfg.APM.HangCheckInterval)
		p.watchdog.SetCooldown(cfg.APM.HangCooldown)
	}
}

// Shutdown stops everything, flushes and closes storage, and resets the
// pipeline so a later Init behaves as a first boot. It is safe from any
// goroutine; a second call returns ErrNotInitialized.
func (p *Pipeline) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return ErrNotInitialized
	}

	p.disableLocked()
	err := p.closeStorageLocked()

	p.cancel()
	p.initialized = false
	p.resetLocked()

	p.logger.Info("shut down")
	return err
}

// ClearData removes every file under the storage root and recreates it.
// Open storage is closed first and reopened afterwards.
func (p *Pipeline) ClearData() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return ErrNotInitialized
	}

	wasOpen := p.sink.Load() != nil
	closeErr := p.closeStorageLocked()

	if err := os.RemoveAll(p.dir); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("failed to recreate storage root: %w", err)
	}

	if wasOpen {
		cfg := p.cfg.Load()
		p.openStorageLocked(cfg)
		if cfg.APM.Crash {
			p.startCrashLocked()
		}
	}
	return closeErr
}

// Config returns the live configuration snapshot. It must not be mutated.
func (p *Pipeline) Config() *config.Config {
	return p.cfg.Load()
}

// Initialized reports whether Init has run without a later Shutdown.
func (p *Pipeline) Initialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Logger returns the business log facade.
func (p *Pipeline) Logger() *logging.Logger {
	return p.log
}

// Session returns the id of the current pipeline session.
func (p *Pipeline) Session() string {
	return *p.session.Load()
}

// Dir returns the storage root, or "" before Init.
func (p *Pipeline) Dir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}

// Toggle persists one boolean flag; the change applies through the store
// notification.
func (p *Pipeline) Toggle(key string, on bool) error {
	return p.opts.Store.Toggle(key, on)
}

// SetLogLevel persists a new log level.
func (p *Pipeline) SetLogLevel(level string) error {
	return p.opts.Store.SetLogLevel(level)
}

// Record adds a custom event tagged with the current page. It is a no-op
// while the pipeline is disabled.
func (p *Pipeline) Record(typ string, data map[string]any) {
	recorder{p: p}.Record(typ, data, p.CurrentPage())
}

// Flush waits until every recorded event and log line is on disk.
func (p *Pipeline) Flush(ctx context.Context) error {
	var errs []error
	if s := p.sink.Load(); s != nil {
		errs = append(errs, s.Flush(ctx))
	}
	errs = append(errs, p.log.Flush())
	return errors.Join(errs...)
}

// recorder forwards events to the open sink while the pipeline is
// enabled. With page set, events without a page get the current one.
type recorder struct {
	p    *Pipeline
	page bool
}

func (r recorder) Record(typ string, data map[string]any, page string) {
	if !r.p.Config().Enabled {
		return
	}
	s := r.p.sink.Load()
	if s == nil {
		return
	}
	if r.page && page == "" {
		page = r.p.CurrentPage()
	}
	s.Record(typ, data, page)
}

// Recorder returns an event recorder bound to the pipeline.
func (p *Pipeline) Recorder() apm.Recorder {
	return recorder{p: p, page: true}
}

func (p *Pipeline) areaDir(name string) string {
	return filepath.Join(p.dir, name)
}
