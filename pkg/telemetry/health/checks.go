package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"k8s.io/utils/clock"
)

// WritableDir checks that a file can be created in dir.
func WritableDir(dir string) CheckFunc {
	return func(_ context.Context) error {
		f, err := os.CreateTemp(dir, ".healthz-*")
		if err != nil {
			return fmt.Errorf("storage not writable: %w", err)
		}
		name := f.Name()
		f.Close()
		return os.Remove(name)
	}
}

// FreeSpace checks that allow reports true. It is meant for a disk gate's
// Allow method.
func FreeSpace(allow func() bool) CheckFunc {
	return func(_ context.Context) error {
		if !allow() {
			return fmt.Errorf("free disk space below floor")
		}
		return nil
	}
}

// Fresh checks that last returned a time no older than maxAge. A zero time
// counts as fresh until grace has passed since the check was created.
func Fresh(what string, last func() time.Time, maxAge, grace time.Duration, clk clock.PassiveClock) CheckFunc {
	if clk == nil {
		clk = clock.RealClock{}
	}
	created := clk.Now()
	return func(_ context.Context) error {
		t := last()
		now := clk.Now()
		if t.IsZero() {
			if now.Sub(created) > grace {
				return fmt.Errorf("%s has never run", what)
			}
			return nil
		}
		if age := now.Sub(t); age > maxAge {
			return fmt.Errorf("%s last ran %s ago", what, age.Truncate(time.Second))
		}
		return nil
	}
}
