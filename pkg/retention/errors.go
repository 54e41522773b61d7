package retention

import "fmt"

// SweepError describes a file the sweep failed to inspect or delete.
type SweepError struct {
	Op    string // Failed operation, e.g. "remove"
	Path  string // Affected path
	Cause error  // Underlying error
}

// Error implements the error interface.
func (e *SweepError) Error() string {
	return fmt.Sprintf("retention %s %s: %v", e.Op, e.Path, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *SweepError) Unwrap() error {
	return e.Cause
}
