package beacon

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"mercator-hq/beacon/pkg/apm/httptrace"
)

// onCrash runs after every crash or hang report. The event is written
// synchronously because the process may be about to die.
func (p *Pipeline) onCrash(typ, logPath string, isRepeat bool) {
	if s := p.sink.Load(); s != nil {
		s.RecordSync(EventCrash, map[string]any{
			"type":   typ,
			"path":   logPath,
			"repeat": isRepeat,
		}, p.CurrentPage())
	}
	p.opts.Metrics.RecordCrash(typ, isRepeat)
	p.notify(func(l Listener) { l.OnCrash(typ, logPath) })
}

// Recover captures a panic in the calling goroutine, then re-panics. It
// must be called directly by a deferred statement:
//
//	defer p.Recover()
func (p *Pipeline) Recover() {
	r := recover()
	if r == nil {
		return
	}
	p.handlePanic(r, debug.Stack())
	panic(r)
}

// Go runs fn on a new goroutine whose panics are captured.
func (p *Pipeline) Go(fn func()) {
	go func() {
		defer p.Recover()
		fn()
	}()
}

// handlePanic switches storage to synchronous writes and, when crash
// capture is on, writes the report. Nothing here may panic.
func (p *Pipeline) handlePanic(value any, stack []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while handling panic", "panic", r)
		}
	}()

	if s := p.sink.Load(); s != nil {
		s.EnterEmergency()
	}
	if p.crashOn.Load() {
		if _, err := p.captor.ReportPanic(value, stack); err != nil {
			p.logger.Error("failed to write crash report", "error", err)
		}
	}
	p.log.Named("Crash").Error("unhandled panic", "panic", value)
	_ = p.log.Flush()
}

// SetCurrentPage labels subsequent events with name. The first non-empty
// page completes the cold start.
func (p *Pipeline) SetCurrentPage(name string) {
	p.page.Store(&name)
	if name == "" {
		return
	}
	p.log.Named("Page").Debug("page entered", "page", name)
	p.Startup().MarkFirstFrame()
}

// LeavePage clears the page label if name is still current.
func (p *Pipeline) LeavePage(name string) {
	cur := p.page.Load()
	if *cur != name {
		return
	}
	empty := ""
	p.page.CompareAndSwap(cur, &empty)
}

// CurrentPage returns the current page label.
func (p *Pipeline) CurrentPage() string {
	return *p.page.Load()
}

// SetForeground records a foreground transition. Entering the background
// records the time spent in the foreground and flushes storage. Repeated
// calls with the same value do nothing.
func (p *Pipeline) SetForeground(foreground bool) {
	if p.foreground.Swap(foreground) == foreground {
		return
	}

	now := p.opts.Clock.Now()
	var d time.Duration
	if foreground {
		p.fgSince.Store(now.UnixNano())
		p.Record(EventForeground, nil)
	} else {
		if since := p.fgSince.Load(); since != 0 {
			d = now.Sub(time.Unix(0, since))
		}
		p.Record(EventBackground, map[string]any{"foreground_duration_ms": d.Milliseconds()})

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := p.Flush(ctx); err != nil {
			p.logger.Warn("flush on background failed", "error", err)
		}
		cancel()
	}

	p.notify(func(l Listener) { l.OnForegroundChanged(foreground, d) })
}

// Foreground reports whether the application is in the foreground.
func (p *Pipeline) Foreground() bool {
	return p.foreground.Load()
}

// HTTPTransport wraps base so every request is recorded with its method,
// sanitized URL, status and duration. A nil base uses
// http.DefaultTransport.
func (p *Pipeline) HTTPTransport(base http.RoundTripper) *httptrace.Transport {
	t := httptrace.NewTransport(base, recorder{p: p, page: true}, p.log.Named("Net"))
	t.Clock = p.opts.Clock
	return t
}
