package httptrace

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"k8s.io/utils/clock"

	"mercator-hq/beacon/pkg/apm"
)

// Event types.
const (
	EventRequest = "http_request"
	EventError   = "http_error"
)

const maskedValue = "***"

// DefaultSensitiveParams are the query parameter names masked by default.
func DefaultSensitiveParams() []string {
	return []string{
		"token", "access_token", "refresh_token",
		"key", "api_key", "apikey",
		"secret", "password", "passwd",
		"authorization", "credential",
	}
}

// Transport is an http.RoundTripper that records request timings.
type Transport struct {
	// Base is the wrapped transport. nil uses http.DefaultTransport.
	Base http.RoundTripper

	Recorder apm.Recorder
	Logger   apm.Logger

	// SensitiveParams are matched case-insensitively against query names.
	SensitiveParams []string

	Clock clock.PassiveClock
}

// NewTransport returns a Transport with the default sensitive parameters.
func NewTransport(base http.RoundTripper, rec apm.Recorder, logger apm.Logger) *Transport {
	return &Transport{
		Base:            base,
		Recorder:        rec,
		Logger:          logger,
		SensitiveParams: DefaultSensitiveParams(),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	clk := t.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	safeURL := t.sanitize(req.URL)
	start := clk.Now()

	resp, err := base.RoundTrip(req)
	elapsed := clk.Since(start)

	if err != nil {
		t.warn("http request failed", "method", req.Method, "url", safeURL, "duration_ms", elapsed.Milliseconds(), "error", err)
		t.record(EventError, map[string]any{
			"method":      req.Method,
			"url":         safeURL,
			"duration_ms": elapsed.Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}

	args := []any{"method", req.Method, "url", safeURL, "code", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(), "size", formatSize(resp.ContentLength)}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		t.debug("http request", args...)
	} else {
		t.warn("http request", args...)
	}

	t.record(EventRequest, map[string]any{
		"method":         req.Method,
		"url":            safeURL,
		"code":           resp.StatusCode,
		"duration_ms":    elapsed.Milliseconds(),
		"content_length": resp.ContentLength,
	})
	return resp, nil
}

func (t *Transport) record(typ string, data map[string]any) {
	if t.Recorder != nil {
		t.Recorder.Record(typ, data, "")
	}
}

func (t *Transport) debug(msg string, args ...any) {
	if t.Logger != nil {
		t.Logger.Debug(msg, args...)
	}
}

func (t *Transport) warn(msg string, args ...any) {
	if t.Logger != nil {
		t.Logger.Warn(msg, args...)
	}
}

// sanitize returns u with sensitive query values and any password masked.
func (t *Transport) sanitize(u *url.URL) string {
	if u == nil {
		return ""
	}
	out := *u
	if out.RawQuery != "" {
		q := out.Query()
		changed := false
		for name := range q {
			if t.isSensitive(name) {
				q.Set(name, maskedValue)
				changed = true
			}
		}
		if changed {
			out.RawQuery = q.Encode()
		}
	}
	return out.Redacted()
}

func (t *Transport) isSensitive(name string) bool {
	for _, p := range t.SensitiveParams {
		if strings.EqualFold(name, p) {
			return true
		}
	}
	return false
}

func formatSize(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}
