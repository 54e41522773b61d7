package retention

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"mercator-hq/beacon/pkg/config"
)

// DefaultGrace protects files written within the last write interval.
const DefaultGrace = time.Minute

// TrimRatio is the fraction of the size budget a size pass trims down to.
const TrimRatio = 0.8

// Area is one managed storage directory.
type Area struct {
	// Name labels the area in logs and results ("logs", "apm", "crash").
	Name string

	// Dir is the area root.
	Dir string

	// Exclude lists directories under Dir that are never touched.
	Exclude []string

	// SizeBudget includes the area in the size pass.
	SizeBudget bool
}

// Policy is the retention snapshot for one sweep.
type Policy struct {
	// Cutoff is the oldest modification time kept by the age pass.
	Cutoff time.Time

	// MaxTotalBytes is the size pass budget.
	MaxTotalBytes int64
}

// PolicyFor derives the sweep policy from cfg at now.
func PolicyFor(cfg *config.Config, now time.Time) Policy {
	return Policy{
		Cutoff:        now.Add(-cfg.MaxAge()),
		MaxTotalBytes: cfg.MaxTotalBytes(),
	}
}

// Result summarizes one sweep.
type Result struct {
	AgeDeleted  int
	SizeDeleted int
	BytesFreed  int64

	// SizeBefore and SizeAfter cover the size-budgeted areas.
	SizeBefore int64
	SizeAfter  int64
}

// Deleted returns the number of files removed by both passes.
func (r Result) Deleted() int {
	return r.AgeDeleted + r.SizeDeleted
}

// Options configures a Manager.
type Options struct {
	Areas []Area

	// Config returns the live configuration. Required.
	Config func() *config.Config

	// Grace is the minimum file age eligible for deletion.
	// Default: 1 minute
	Grace time.Duration

	Clock clock.PassiveClock
}

// Manager runs retention sweeps over a fixed set of areas.
type Manager struct {
	areas  []Area
	config func() *config.Config
	grace  time.Duration
	clock  clock.PassiveClock
	logger *slog.Logger

	// mu serializes sweeps so concurrent triggers do not double count.
	mu sync.Mutex
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Manager{
		areas:  opts.Areas,
		config: opts.Config,
		grace:  opts.Grace,
		clock:  opts.Clock,
		logger: slog.Default().With("component", "retention"),
	}
}

// Areas returns the managed areas.
func (m *Manager) Areas() []Area {
	out := make([]Area, len(m.areas))
	copy(out, m.areas)
	return out
}

type fileEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// Sweep runs the age pass then the size pass. Failed deletions are logged,
// joined into the returned error as *SweepError values and never stop the
// sweep. Only ctx cancellation ends it early.
func (m *Manager) Sweep(ctx context.Context) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	policy := PolicyFor(m.config(), now)
	graceLimit := now.Add(-m.grace)

	var (
		res  Result
		errs []error
	)

	// Phase 1: age
	for _, area := range m.areas {
		for _, f := range m.list(area) {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if !f.modTime.Before(policy.Cutoff) || !f.modTime.Before(graceLimit) {
				continue
			}
			if err := m.remove(f.path); err != nil {
				errs = append(errs, err)
				continue
			}
			res.AgeDeleted++
			res.BytesFreed += f.size
		}
	}

	// Phase 2: size
	var budgeted []fileEntry
	for _, area := range m.areas {
		if !area.SizeBudget {
			continue
		}
		budgeted = append(budgeted, m.list(area)...)
	}

	sort.Slice(budgeted, func(i, j int) bool {
		if budgeted[i].modTime.Equal(budgeted[j].modTime) {
			return budgeted[i].path < budgeted[j].path
		}
		return budgeted[i].modTime.Before(budgeted[j].modTime)
	})

	var total int64
	for _, f := range budgeted {
		total += f.size
	}
	res.SizeBefore = total

	if total > policy.MaxTotalBytes {
		target := int64(float64(policy.MaxTotalBytes) * TrimRatio)
		for _, f := range budgeted {
			if total <= target {
				break
			}
			if err := ctx.Err(); err != nil {
				res.SizeAfter = total
				return res, err
			}
			// Sorted oldest first: everything after this is newer still.
			if !f.modTime.Before(graceLimit) {
				break
			}
			if err := m.remove(f.path); err != nil {
				errs = append(errs, err)
				continue
			}
			total -= f.size
			res.SizeDeleted++
			res.BytesFreed += f.size
		}
	}
	res.SizeAfter = total

	if res.Deleted() > 0 {
		m.logger.Info("retention sweep completed",
			"age_deleted", res.AgeDeleted,
			"size_deleted", res.SizeDeleted,
			"bytes_freed", res.BytesFreed,
			"size_after", res.SizeAfter,
			"max_total_bytes", policy.MaxTotalBytes,
		)
	} else {
		m.logger.Debug("retention sweep completed, nothing deleted",
			"size", res.SizeAfter,
			"max_total_bytes", policy.MaxTotalBytes,
		)
	}

	return res, errors.Join(errs...)
}

// list returns the regular files of area, skipping excluded directories.
// A missing or unreadable directory contributes no files and no error.
func (m *Manager) list(area Area) []fileEntry {
	var files []fileEntry

	exclude := make(map[string]bool, len(area.Exclude))
	for _, dir := range area.Exclude {
		exclude[filepath.Clean(dir)] = true
	}

	_ = filepath.WalkDir(area.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				m.logger.Debug("retention skipped unreadable path", "area", area.Name, "path", path, "error", err)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if exclude[filepath.Clean(path)] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Vanished between readdir and stat.
			return nil
		}

		files = append(files, fileEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})

	return files
}

// remove deletes path. A file that is already gone counts as removed.
func (m *Manager) remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return m.logFailure(&SweepError{Op: "remove", Path: path, Cause: err})
	}
	return nil
}

func (m *Manager) logFailure(err *SweepError) error {
	m.logger.Warn("retention sweep skipped a file", "op", err.Op, "path", err.Path, "error", err.Cause)
	return err
}
