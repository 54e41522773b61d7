package sink

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"k8s.io/utils/clock"
)

// Default disk gate settings.
const (
	DefaultMinFreeBytes  = 50 * 1024 * 1024
	DefaultCheckInterval = 60 * time.Second
)

// FreeSpaceFunc returns the free bytes of the volume holding path.
type FreeSpaceFunc func(path string) (uint64, error)

// VolumeFree reports free space with gopsutil.
func VolumeFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// DiskGate caches a free-space verdict so writers do not pay a syscall per
// event. The volume is re-probed at most once per interval.
type DiskGate struct {
	path     string
	minFree  uint64
	interval time.Duration
	clock    clock.PassiveClock
	probe    FreeSpaceFunc
	logger   *slog.Logger

	mu        sync.Mutex
	checked   bool
	lastCheck time.Time
	lastFree  uint64
	allowed   bool
}

// NewDiskGate returns a gate for the volume holding path. A negative
// minFree or a non-positive interval falls back to the default. A nil
// clock uses the real clock and a nil probe uses VolumeFree.
func NewDiskGate(path string, minFree int64, interval time.Duration, clk clock.PassiveClock, probe FreeSpaceFunc) *DiskGate {
	minFree, interval = gateLimits(minFree, interval)
	if clk == nil {
		clk = clock.RealClock{}
	}
	if probe == nil {
		probe = VolumeFree
	}
	return &DiskGate{
		path:     path,
		minFree:  uint64(minFree),
		interval: interval,
		clock:    clk,
		probe:    probe,
		logger:   slog.Default().With("component", "sink.diskgate"),
		allowed:  true,
	}
}

// SetLimits changes the free-space floor and the probe interval. The next
// Allow probes again under the new floor.
func (g *DiskGate) SetLimits(minFree int64, interval time.Duration) {
	minFree, interval = gateLimits(minFree, interval)
	g.mu.Lock()
	defer g.mu.Unlock()
	if uint64(minFree) == g.minFree && interval == g.interval {
		return
	}
	g.minFree = uint64(minFree)
	g.interval = interval
	g.checked = false
}

func gateLimits(minFree int64, interval time.Duration) (int64, time.Duration) {
	if minFree < 0 {
		minFree = DefaultMinFreeBytes
	}
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return minFree, interval
}

// Allow reports whether a write may proceed. A failing probe allows the
// write: an unknown volume is not a full one.
func (g *DiskGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if g.checked && now.Sub(g.lastCheck) < g.interval {
		return g.allowed
	}

	g.checked = true
	g.lastCheck = now

	free, err := g.probe(g.path)
	if err != nil {
		g.logger.Debug("free space probe failed", "path", g.path, "error", err)
		g.allowed = true
		return true
	}

	wasAllowed := g.allowed
	g.lastFree = free
	g.allowed = free >= g.minFree
	if wasAllowed && !g.allowed {
		g.logger.Warn("free space below floor, dropping events",
			"path", g.path, "free_bytes", free, "min_free_bytes", g.minFree)
	}
	return g.allowed
}

// LastFree returns the free bytes seen by the latest successful probe.
func (g *DiskGate) LastFree() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastFree
}
