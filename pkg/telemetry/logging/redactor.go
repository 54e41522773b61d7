package logging

import (
	"strings"
	"sync/atomic"

	"mercator-hq/beacon/pkg/redact"
)

// Redactor masks sensitive values in log messages and arguments using the
// live sensitive key list. Keys can be swapped at any time.
type Redactor struct {
	keys atomic.Pointer[[]string]
}

// NewRedactor creates a Redactor for keys.
func NewRedactor(keys []string) *Redactor {
	r := &Redactor{}
	r.SetKeys(keys)
	return r
}

// SetKeys replaces the sensitive key list.
func (r *Redactor) SetKeys(keys []string) {
	cp := make([]string, len(keys))
	copy(cp, keys)
	r.keys.Store(&cp)
}

// Keys returns the current sensitive key list.
func (r *Redactor) Keys() []string {
	if p := r.keys.Load(); p != nil {
		return *p
	}
	return nil
}

// RedactString applies every configured pattern to value.
func (r *Redactor) RedactString(value string) string {
	keys := r.Keys()
	if len(keys) == 0 || value == "" {
		return value
	}
	return redact.Redact(value, keys)
}

// RedactArgs redacts variadic log arguments in key, value form. A value
// whose key is itself sensitive is masked whole; other string values go
// through the pattern filter.
func (r *Redactor) RedactArgs(args ...any) []any {
	keys := r.Keys()
	if len(keys) == 0 || len(args) == 0 {
		return args
	}

	redacted := make([]any, len(args))
	copy(redacted, args)

	for i := 1; i < len(redacted); i += 2 {
		str, ok := redacted[i].(string)
		if !ok {
			continue
		}
		if key, ok := redacted[i-1].(string); ok && isSensitiveKey(key, keys) {
			redacted[i] = redact.Mask(str)
			continue
		}
		redacted[i] = redact.Redact(str, keys)
	}

	return redacted
}

func isSensitiveKey(key string, keys []string) bool {
	for _, k := range keys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}
