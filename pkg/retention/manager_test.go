package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"mercator-hq/beacon/pkg/config"
)

const mb = 1024 * 1024

var sweepNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func writeFile(t *testing.T, path string, size int, mod time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newManager(t *testing.T, root string, mutate func(*config.Config)) *Manager {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	logs := filepath.Join(root, "logs")
	return NewManager(Options{
		Areas: []Area{
			{Name: "logs", Dir: logs, Exclude: []string{filepath.Join(logs, "cache")}, SizeBudget: true},
			{Name: "apm", Dir: filepath.Join(root, "apm")},
			{Name: "crash", Dir: filepath.Join(root, "crash")},
		},
		Config: func() *config.Config { return cfg },
		Clock:  clocktesting.NewFakePassiveClock(sweepNow),
	})
}

func TestSweep_AgePass(t *testing.T) {
	for _, days := range []int{1, 3, 7, 30} {
		t.Run(fmt.Sprintf("max_age_days=%d", days), func(t *testing.T) {
			root := t.TempDir()
			m := newManager(t, root, func(c *config.Config) { c.Retention.MaxAgeDays = days })

			cutoff := sweepNow.Add(-time.Duration(days) * 24 * time.Hour)
			t1 := filepath.Join(root, "logs", "app_1.log")
			t2 := filepath.Join(root, "apm", "perf_2.jsonl")
			t3 := filepath.Join(root, "crash", "crash_3.log")
			writeFile(t, t1, 10, cutoff.Add(-2*time.Hour))
			writeFile(t, t2, 10, cutoff.Add(-time.Second))
			writeFile(t, t3, 10, cutoff.Add(time.Hour))

			res, err := m.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}

			if exists(t1) || exists(t2) {
				t.Error("files older than the cutoff were kept")
			}
			if !exists(t3) {
				t.Error("file newer than the cutoff was deleted")
			}
			if res.AgeDeleted != 2 {
				t.Errorf("AgeDeleted = %d, want 2", res.AgeDeleted)
			}
		})
	}
}

func TestSweep_SkipsCacheDir(t *testing.T) {
	root := t.TempDir()
	m := newManager(t, root, func(c *config.Config) { c.Retention.MaxTotalSizeMB = 1 })

	old := sweepNow.Add(-30 * 24 * time.Hour)
	cached := filepath.Join(root, "logs", "cache", "staging.log")
	writeFile(t, cached, 2*mb, old)

	res, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if !exists(cached) {
		t.Error("engine cache file was deleted")
	}
	if res.SizeBefore != 0 {
		t.Errorf("SizeBefore = %d, cache must not count toward the budget", res.SizeBefore)
	}
}

func TestSweep_SizePass(t *testing.T) {
	root := t.TempDir()
	m := newManager(t, root, func(c *config.Config) { c.Retention.MaxTotalSizeMB = 100 })

	// 15 files of 10MB = 150MB, ages one hour apart, all inside max age.
	var paths []string
	for i := 0; i < 15; i++ {
		p := filepath.Join(root, "logs", fmt.Sprintf("app_%02d.log", i))
		writeFile(t, p, 10*mb, sweepNow.Add(-time.Duration(20-i)*time.Hour))
		paths = append(paths, p)
	}
	// APM files are outside the size budget.
	apm := filepath.Join(root, "apm", "perf_1.jsonl")
	writeFile(t, apm, 50*mb, sweepNow.Add(-30*time.Hour))

	res, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	if res.SizeBefore != 150*mb {
		t.Errorf("SizeBefore = %d, want %d", res.SizeBefore, 150*mb)
	}
	if res.SizeAfter > 80*mb {
		t.Errorf("SizeAfter = %d, want <= %d", res.SizeAfter, 80*mb)
	}
	if res.SizeDeleted != 7 {
		t.Errorf("SizeDeleted = %d, want 7", res.SizeDeleted)
	}

	// Oldest first: no survivor is older than a deleted file.
	for i, p := range paths {
		if i < 7 && exists(p) {
			t.Errorf("%s kept, want deleted", filepath.Base(p))
		}
		if i >= 7 && !exists(p) {
			t.Errorf("%s deleted, want kept", filepath.Base(p))
		}
	}
	if !exists(apm) {
		t.Error("apm file deleted by the size pass")
	}
}

func TestSweep_SizeInvariantAcrossDistributions(t *testing.T) {
	sizes := [][]int{
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15},
		{40, 40, 40, 30},
		{99, 1, 1, 1},
		{5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5},
	}

	for n, dist := range sizes {
		t.Run(fmt.Sprintf("dist%d", n), func(t *testing.T) {
			root := t.TempDir()
			m := newManager(t, root, func(c *config.Config) { c.Retention.MaxTotalSizeMB = 100 })

			for i, size := range dist {
				p := filepath.Join(root, "logs", fmt.Sprintf("app_%02d.log", i))
				writeFile(t, p, size*mb, sweepNow.Add(-time.Duration(len(dist)-i)*time.Hour))
			}

			res, err := m.Sweep(context.Background())
			if err != nil {
				t.Fatalf("Sweep() error = %v", err)
			}
			if res.SizeBefore > 100*mb && res.SizeAfter > 80*mb {
				t.Errorf("SizeAfter = %d, want <= %d", res.SizeAfter, 80*mb)
			}
			if res.SizeBefore <= 100*mb && res.SizeDeleted != 0 {
				t.Errorf("SizeDeleted = %d under budget, want 0", res.SizeDeleted)
			}
		})
	}
}

func TestSweep_GraceProtectsFreshFiles(t *testing.T) {
	root := t.TempDir()
	m := newManager(t, root, func(c *config.Config) { c.Retention.MaxTotalSizeMB = 1 })

	fresh := filepath.Join(root, "logs", "app_now.log")
	writeFile(t, fresh, 2*mb, sweepNow.Add(-10*time.Second))

	if _, err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if !exists(fresh) {
		t.Error("file inside the grace window was deleted")
	}
}

func TestSweep_MissingDirsAndIdempotence(t *testing.T) {
	root := t.TempDir()
	m := newManager(t, filepath.Join(root, "never-created"), nil)

	res, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() on missing dirs error = %v", err)
	}
	if res.Deleted() != 0 {
		t.Errorf("Deleted() = %d, want 0", res.Deleted())
	}

	m = newManager(t, root, nil)
	writeFile(t, filepath.Join(root, "logs", "old.log"), 1, sweepNow.Add(-365*24*time.Hour))

	first, _ := m.Sweep(context.Background())
	second, err := m.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep() error = %v", err)
	}
	if first.AgeDeleted != 1 || second.Deleted() != 0 {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
}

func TestSweep_PolicyReadEverySweep(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	m := NewManager(Options{
		Areas:  []Area{{Name: "apm", Dir: filepath.Join(root, "apm")}},
		Config: func() *config.Config { return cfg },
		Clock:  clocktesting.NewFakePassiveClock(sweepNow),
	})

	p := filepath.Join(root, "apm", "perf.jsonl")
	writeFile(t, p, 1, sweepNow.Add(-3*24*time.Hour))

	m.Sweep(context.Background())
	if !exists(p) {
		t.Fatal("file within 7 days deleted")
	}

	next := cfg.Clone()
	next.Retention.MaxAgeDays = 2
	cfg = next

	m.Sweep(context.Background())
	if exists(p) {
		t.Error("reloaded max age not applied on the next sweep")
	}
}

func TestSweep_ContextCancelled(t *testing.T) {
	root := t.TempDir()
	m := newManager(t, root, nil)
	writeFile(t, filepath.Join(root, "logs", "old.log"), 1, sweepNow.Add(-365*24*time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Sweep(ctx); err != context.Canceled {
		t.Errorf("Sweep() error = %v, want context.Canceled", err)
	}
}

func TestPolicyFor(t *testing.T) {
	cfg := config.Default()
	p := PolicyFor(cfg, sweepNow)

	if want := sweepNow.Add(-7 * 24 * time.Hour); !p.Cutoff.Equal(want) {
		t.Errorf("Cutoff = %v, want %v", p.Cutoff, want)
	}
	if p.MaxTotalBytes != 100*mb {
		t.Errorf("MaxTotalBytes = %d, want %d", p.MaxTotalBytes, 100*mb)
	}
}
