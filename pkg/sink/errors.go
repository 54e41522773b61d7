package sink

import "fmt"

// WriteError describes a failed event write.
type WriteError struct {
	Type  string // Event type
	Path  string // Day file, if one was selected
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("write %s event: %v", e.Type, e.Cause)
	}
	return fmt.Sprintf("write %s event to %s: %v", e.Type, e.Path, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *WriteError) Unwrap() error {
	return e.Cause
}
