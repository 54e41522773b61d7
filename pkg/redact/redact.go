package redact

import (
	"regexp"
	"strings"
	"sync"
)

// Built-in pattern class keys.
const (
	KeyPhone    = "phone"
	KeyIDCard   = "idCard"
	KeyEmail    = "email"
	KeyBankCard = "bankCard"
)

// MaskChar is the character used to replace masked runes.
const MaskChar = '*'

// shortMask replaces values of four characters or fewer.
const shortMask = "****"

// classPattern pairs a class key with its compiled expression.
type classPattern struct {
	key   string
	regex *regexp.Regexp
}

// Class patterns are applied in this order. ID numbers run before bank
// cards because an 18-digit ID also fits the card length range.
var classPatterns = []classPattern{
	{key: KeyPhone, regex: regexp.MustCompile(`\b1[3-9]\d{9}\b`)},
	{key: KeyIDCard, regex: regexp.MustCompile(`\b\d{17}[\dXx]\b`)},
	{key: KeyEmail, regex: regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`)},
	{key: KeyBankCard, regex: regexp.MustCompile(`\b\d{16,19}\b`)},
}

// keyPatterns holds the two generic expressions compiled for one key.
type keyPatterns struct {
	json *regexp.Regexp
	kv   *regexp.Regexp
}

// Filter redacts text using a cache of compiled per-key patterns.
// The zero value is ready to use and safe for concurrent use.
type Filter struct {
	cache sync.Map // map[lowercased key]*keyPatterns
}

var defaultFilter Filter

// Redact masks sensitive substrings of text for the given keys using a
// shared package-level Filter.
func Redact(text string, keys []string) string {
	return defaultFilter.Redact(text, keys)
}

// Redact masks sensitive substrings of text. Built-in classes run first,
// followed by the JSON and key=value patterns of every key. Passes repeat
// until the text is stable, so masked output never matches again.
func (f *Filter) Redact(text string, keys []string) string {
	if text == "" || len(keys) == 0 {
		return text
	}

	// Every changing pass masks at least one more rune or pads a short
	// masked value to four stars, so the bound is never reached.
	result := text
	for pass := 0; pass <= 2*len(text)+2; pass++ {
		next := f.redactOnce(result, keys)
		if next == result {
			break
		}
		result = next
	}
	return result
}

func (f *Filter) redactOnce(text string, keys []string) string {
	result := text
	for _, class := range classPatterns {
		if !hasKey(keys, class.key) {
			continue
		}
		result = class.regex.ReplaceAllStringFunc(result, Mask)
	}

	for _, key := range keys {
		if key == "" {
			continue
		}
		p := f.patternsFor(key)

		result = replaceGroup(p.json, result, 3)
		result = replaceGroup(p.kv, result, 3)
	}

	return result
}

// patternsFor returns the cached patterns for key, compiling them on first use.
func (f *Filter) patternsFor(key string) *keyPatterns {
	lower := strings.ToLower(key)
	if cached, ok := f.cache.Load(lower); ok {
		return cached.(*keyPatterns)
	}

	quoted := regexp.QuoteMeta(key)
	p := &keyPatterns{
		json: regexp.MustCompile(`(?i)("(` + quoted + `)"\s*:\s*")([^"]+)"`),
		kv:   regexp.MustCompile(`(?i)(^|[?&\s])(` + quoted + `)=([^&\s]+)`),
	}
	actual, _ := f.cache.LoadOrStore(lower, p)
	return actual.(*keyPatterns)
}

// replaceGroup masks submatch group in every match of re, leaving the rest
// of each match untouched.
func replaceGroup(re *regexp.Regexp, text string, group int) string {
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[2*group], m[2*group+1]
		if start < 0 {
			continue
		}
		sb.WriteString(text[last:start])
		sb.WriteString(Mask(text[start:end]))
		last = end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// Mask hides the interior of v. Values of four runes or fewer become
// "****"; longer values keep their first two and last two runes.
//
// Example: "abcdefghij" -> "ab******ij", "abc" -> "****".
func Mask(v string) string {
	runes := []rune(v)
	if len(runes) <= 4 {
		return shortMask
	}
	var sb strings.Builder
	sb.Grow(len(v))
	sb.WriteString(string(runes[:2]))
	sb.WriteString(strings.Repeat(string(MaskChar), len(runes)-4))
	sb.WriteString(string(runes[len(runes)-2:]))
	return sb.String()
}

// hasKey reports whether keys contains want, ignoring case.
func hasKey(keys []string, want string) bool {
	for _, k := range keys {
		if strings.EqualFold(k, want) {
			return true
		}
	}
	return false
}
