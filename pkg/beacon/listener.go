package beacon

import (
	"sync"
	"time"
)

// Listener receives pipeline notifications. Embed BaseListener to
// implement only some of the methods.
type Listener interface {
	// OnCrash is called after a crash or hang report is written.
	OnCrash(typ, logPath string)

	// OnLowMemory is called when the heap ratio exceeds the warning ratio.
	OnLowMemory(usedMB, maxMB int64, ratio float64)

	// OnLowFPS is called when a one-second window falls below the fps
	// threshold.
	OnLowFPS(fps, maxFPS, dropped int)

	// OnForegroundChanged is called on every foreground transition. d is
	// the time spent in the foreground when entering the background, and
	// zero otherwise.
	OnForegroundChanged(foreground bool, d time.Duration)
}

// BaseListener implements Listener with no-ops.
type BaseListener struct{}

func (BaseListener) OnCrash(string, string)                  {}
func (BaseListener) OnLowMemory(int64, int64, float64)       {}
func (BaseListener) OnLowFPS(int, int, int)                  {}
func (BaseListener) OnForegroundChanged(bool, time.Duration) {}

// listenerRegistry is iterated over a snapshot so callbacks may add or
// remove listeners.
type listenerRegistry struct {
	mu        sync.Mutex
	listeners []Listener
}

func (r *listenerRegistry) add(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners {
		if sameListener(existing, l) {
			return
		}
	}
	r.listeners = append(r.listeners, l)
}

func (r *listenerRegistry) remove(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.listeners {
		if sameListener(existing, l) {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *listenerRegistry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Listener, len(r.listeners))
	copy(out, r.listeners)
	return out
}

func (r *listenerRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}

// sameListener compares listeners by identity. Values of non-comparable
// types never match.
func sameListener(a, b Listener) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// notify calls fn for every listener, isolating each call.
func (p *Pipeline) notify(fn func(Listener)) {
	for _, l := range p.registry().snapshot() {
		p.callListener(l, fn)
	}
}

func (p *Pipeline) callListener(l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("listener panicked", "panic", r)
			p.opts.Metrics.RecordListenerPanic()
		}
	}()
	fn(l)
}

// AddListener registers l. Adding the same listener twice has no effect.
func (p *Pipeline) AddListener(l Listener) {
	p.registry().add(l)
}

// RemoveListener unregisters l.
func (p *Pipeline) RemoveListener(l Listener) {
	p.registry().remove(l)
}

func (p *Pipeline) registry() *listenerRegistry {
	return p.listeners.Load()
}
