package sink

import (
	"fmt"
	"time"
)

// Event is one APM record. Treat it as immutable once constructed.
type Event struct {
	// Timestamp is the creation time in epoch milliseconds.
	Timestamp int64 `json:"ts"`

	// Type is an open tag such as "low_fps" or "memory".
	Type string `json:"type"`

	// Data holds scalar attributes.
	Data map[string]any `json:"data"`

	// Page is the current page label, if any.
	Page string `json:"page,omitempty"`
}

// NewEvent builds an Event at now, copying data and reducing every value to
// a scalar: strings, bools and numbers are kept, durations become
// milliseconds, errors and Stringers their text, anything else its %v form.
func NewEvent(now time.Time, typ string, data map[string]any, page string) *Event {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = scalar(v)
	}
	return &Event{
		Timestamp: now.UnixMilli(),
		Type:      typ,
		Data:      cp,
		Page:      page,
	}
}

// Time returns the event timestamp.
func (e *Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

func scalar(v any) any {
	switch x := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x
	case time.Duration:
		return x.Milliseconds()
	case time.Time:
		return x.UnixMilli()
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}
