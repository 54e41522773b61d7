package beacon

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"mercator-hq/beacon/pkg/config"
	"mercator-hq/beacon/pkg/crash"
	"mercator-hq/beacon/pkg/logstore"
	"mercator-hq/beacon/pkg/retention"
	"mercator-hq/beacon/pkg/sink"
	"mercator-hq/beacon/pkg/telemetry/health"
	"mercator-hq/beacon/pkg/telemetry/logging"
)

// Areas lists the retention areas under the storage root. The log staging
// cache is never swept and only the log area counts toward the size
// budget.
func Areas(root string) []retention.Area {
	logs := filepath.Join(root, AreaLogs)
	return []retention.Area{
		{Name: AreaLogs, Dir: logs, Exclude: []string{filepath.Join(logs, logstore.CacheDirName)}, SizeBudget: true},
		{Name: AreaAPM, Dir: filepath.Join(root, AreaAPM)},
		{Name: AreaCrash, Dir: filepath.Join(root, AreaCrash)},
	}
}

// openStorageLocked opens the log engine and the event sink if they are
// not open yet. A failure leaves that output disabled and is logged.
func (p *Pipeline) openStorageLocked(cfg *config.Config) {
	if p.engine == nil {
		level, _ := logging.ParseLevel(cfg.Logging.Level)
		engine := logstore.NewFileEngine(p.opts.Clock)
		if err := engine.Open(p.areaDir(AreaLogs), level); err != nil {
			p.logger.Error("failed to open log storage", "error", err)
		} else {
			p.engine = engine
			p.log.SetEngine(engine)
		}
	}

	if p.sink.Load() == nil {
		gate := sink.NewDiskGate(p.dir, cfg.Storage.MinFreeBytes, cfg.Storage.DiskCheckInterval, p.opts.Clock, p.opts.FreeSpace)
		opts := sink.Options{
			Dir:      p.areaDir(AreaAPM),
			Gate:     gate,
			Redactor: p.redactor,
			Clock:    p.opts.Clock,
		}
		if p.opts.Metrics != nil {
			opts.Observer = p.opts.Metrics
		}
		s, err := sink.New(opts)
		if err != nil {
			p.logger.Error("failed to open event storage", "error", err)
			return
		}
		p.gate.Store(gate)
		p.sink.Store(s)
	}
}

// closeStorageLocked flushes and closes the sink and the log engine.
func (p *Pipeline) closeStorageLocked() error {
	var errs []error

	if s := p.sink.Swap(nil); s != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		errs = append(errs, s.Close())
	}

	if p.engine != nil {
		p.log.SetEngine(nil)
		errs = append(errs, p.engine.Close())
		p.engine = nil
	}
	return errors.Join(errs...)
}

// startRetentionLocked (re)starts the sweep schedule. With deferred set,
// one sweep also runs right away in the background.
func (p *Pipeline) startRetentionLocked(cfg *config.Config, deferred bool) {
	if err := p.scheduler.Start(p.scope, cfg.Retention.Schedule); err != nil {
		p.logger.Error("failed to start retention scheduler", "error", err)
	}
	if deferred {
		p.scheduler.RunDeferred(p.scope)
	}
}

// meteredSweeper records every sweep outcome.
type meteredSweeper struct {
	p       *Pipeline
	manager *retention.Manager
}

func (m meteredSweeper) Sweep(ctx context.Context) (retention.Result, error) {
	start := m.p.opts.Clock.Now()
	res, err := m.manager.Sweep(ctx)
	end := m.p.opts.Clock.Now()

	m.p.opts.Metrics.RecordSweep(res.AgeDeleted, res.SizeDeleted, res.BytesFreed, end.Sub(start), err)
	m.p.lastSweep.Store(end.UnixNano())
	return res, err
}

// Sweep runs one retention sweep now.
func (p *Pipeline) Sweep(ctx context.Context) (retention.Result, error) {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return retention.Result{}, ErrNotInitialized
	}
	sweeper := meteredSweeper{p: p, manager: p.retention}
	p.mu.Unlock()

	return sweeper.Sweep(ctx)
}

// LastSweep returns when the latest sweep finished, or the zero time.
func (p *Pipeline) LastSweep() time.Time {
	n := p.lastSweep.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// NextSweep returns the next scheduled sweep, or nil when none is
// scheduled.
func (p *Pipeline) NextSweep() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.scheduler == nil {
		return nil
	}
	return p.scheduler.NextRun()
}

// Areas returns the retention areas of the running pipeline.
func (p *Pipeline) Areas() ([]retention.Area, error) {
	dir := p.Dir()
	if dir == "" {
		return nil, ErrNotInitialized
	}
	return Areas(dir), nil
}

// Files lists the stored files of every area, oldest first.
func (p *Pipeline) Files() (map[string][]string, error) {
	dir := p.Dir()
	if dir == "" {
		return nil, ErrNotInitialized
	}
	return ListFiles(dir)
}

// ListFiles lists the stored files of every area under root, oldest
// first. Log staging files are not included.
func ListFiles(root string) (map[string][]string, error) {
	out := make(map[string][]string, 3)
	var errs []error
	collect := func(area string, list func(string) ([]string, error)) {
		files, err := list(filepath.Join(root, area))
		if err != nil {
			errs = append(errs, err)
		}
		out[area] = files
	}
	collect(AreaLogs, logstore.Files)
	collect(AreaAPM, sink.Files)
	collect(AreaCrash, crash.Files)

	return out, errors.Join(errs...)
}

// RegisterHealthChecks registers storage and retention readiness checks.
// The pipeline must be initialized.
func (p *Pipeline) RegisterHealthChecks(checker *health.Checker) error {
	dir := p.Dir()
	if dir == "" {
		return ErrNotInitialized
	}

	checker.RegisterCheck("storage", health.WritableDir(dir))
	checker.RegisterCheck("disk", health.FreeSpace(func() bool {
		if g := p.gate.Load(); g != nil {
			return g.Allow()
		}
		return true
	}))
	// A sweep runs at least daily on the default schedule.
	checker.RegisterCheck("retention", health.Fresh("retention sweep", p.LastSweep, 25*time.Hour, time.Hour, p.opts.Clock))
	return nil
}
