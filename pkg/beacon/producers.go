package beacon

import (
	"time"

	"mercator-hq/beacon/pkg/apm"
	"mercator-hq/beacon/pkg/config"
	"mercator-hq/beacon/pkg/watchdog"
)

// Producer names, as reported by Producers and the producer_running metric.
const (
	ProducerCrash   = "crash"
	ProducerStartup = "startup"
	ProducerFPS     = "fps"
	ProducerMemory  = "memory"
)

func (p *Pipeline) producerOptions() apm.Options {
	return apm.Options{
		Recorder: recorder{p: p},
		Config:   p.Config,
		Page:     p.CurrentPage,
		Logger:   p.log.Named("APM"),
		Clock:    p.opts.Clock,
	}
}

func (p *Pipeline) newStartupTimer() *apm.StartupTimer {
	st := apm.NewStartupTimer(p.producerOptions())
	if err := st.MarkProcessStartFromOS(); err != nil {
		p.logger.Debug("process start time unavailable, using pipeline creation", "error", err)
		st.MarkProcessStart()
	}
	return st
}

// buildProducers creates stopped producers bound to the pipeline.
func (p *Pipeline) buildProducers() {
	base := p.producerOptions()

	frames := apm.FrameOptions{
		Options:     base,
		RefreshRate: p.opts.RefreshRate,
		OnLowFPS: func(fps, maxFPS, dropped int) {
			p.notify(func(l Listener) { l.OnLowFPS(fps, maxFPS, dropped) })
		},
	}
	if p.opts.Main != nil {
		frames.Stack = p.opts.Main.Stack
	}
	p.frames.Store(apm.NewFrameTracer(frames))

	p.memory = apm.NewMemorySampler(apm.MemoryOptions{
		Options: base,
		Source:  p.opts.Memory,
		OnLowMemory: func(usedMB, maxMB int64, ratio float64) {
			p.notify(func(l Listener) { l.OnLowMemory(usedMB, maxMB, ratio) })
		},
	})

	p.watchdog = nil
	if p.opts.Main != nil {
		cfg := p.Config()
		p.watchdog = watchdog.New(watchdog.Options{
			Main:     p.opts.Main,
			Reporter: p.captor,
			Interval: cfg.APM.HangCheckInterval,
			Cooldown: cfg.APM.HangCooldown,
			OnHang: func(string) {
				p.opts.Metrics.RecordHang()
			},
			Clock: p.opts.Clock,
		})
	}
}

// enableLocked opens storage, schedules retention with one deferred
// sweep, and starts the producers cfg switches on.
func (p *Pipeline) enableLocked(cfg *config.Config) {
	p.openStorageLocked(cfg)
	p.startRetentionLocked(cfg, true)
	p.syncProducersLocked(cfg)
}

// disableLocked stops every producer and the retention schedule. Storage
// stays open so a later enable resumes the same files.
func (p *Pipeline) disableLocked() {
	p.stopCrashLocked()
	p.startup.Stop()
	p.frames.Load().Stop()
	p.memory.Stop()
	p.scheduler.Stop()
	p.publishProducersLocked()
}

// syncProducersLocked starts and stops producers to match cfg. Running
// producers are left alone.
func (p *Pipeline) syncProducersLocked(cfg *config.Config) {
	if cfg.APM.Crash {
		p.startCrashLocked()
	} else {
		p.stopCrashLocked()
	}

	if cfg.APM.Startup {
		p.startup.Start()
	} else {
		p.startup.Stop()
	}

	if cfg.APM.FPS {
		p.frames.Load().Start(p.scope)
	} else {
		p.frames.Load().Stop()
	}

	if cfg.APM.Memory && p.opts.Memory != nil {
		p.memory.Start(p.scope)
	} else {
		p.memory.Stop()
	}

	p.publishProducersLocked()
}

func (p *Pipeline) startCrashLocked() {
	if err := p.captor.Init(p.areaDir(AreaCrash)); err != nil {
		p.logger.Error("crash capture unavailable", "error", err)
		return
	}
	p.crashOn.Store(true)
	if p.watchdog != nil {
		p.watchdog.Start(p.scope)
	}
}

func (p *Pipeline) stopCrashLocked() {
	p.crashOn.Store(false)
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
}

func (p *Pipeline) publishProducersLocked() {
	for name, state := range p.producersLocked() {
		p.opts.Metrics.SetProducerRunning(name, state == apm.Running)
	}
}

// Producers returns the run state of every producer.
func (p *Pipeline) Producers() map[string]apm.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.producersLocked()
}

func (p *Pipeline) producersLocked() map[string]apm.State {
	crashState := apm.Stopped
	if p.crashOn.Load() {
		crashState = apm.Running
	}
	return map[string]apm.State{
		ProducerCrash:   crashState,
		ProducerStartup: p.startup.State(),
		ProducerFPS:     p.frames.Load().State(),
		ProducerMemory:  p.memory.State(),
	}
}

// Startup returns the cold-start timer for application marks. It never
// blocks, so it is safe on the primary context.
func (p *Pipeline) Startup() *apm.StartupTimer {
	return p.startup
}

// OnFrame records one presented frame. It never waits for the
// orchestrator lock.
func (p *Pipeline) OnFrame(t time.Time) {
	p.frames.Load().OnFrame(t)
}
