package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/beacon/pkg/config"
)

// writeTestConfig writes a config file whose store and storage live in a
// temp dir and returns its path and the storage root.
func writeTestConfig(t *testing.T) (path, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "data")
	content := "storage:\n  dir: " + root + "\n" +
		"store:\n  driver: sqlite\n  path: " + filepath.Join(dir, "config.db") + "\n"

	path = filepath.Join(dir, "beacon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path, root
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	clearFlags.yes = false
	runFlags.dryRun = false
	dataDir = ""
	cfgFile = ""
	outputFmt = "text"

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigToggleAndShow(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "--config", cfgPath, "config", "toggle", "apm.fps", "off")
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !strings.Contains(out, "apm.fps = false") {
		t.Errorf("toggle output = %q", out)
	}

	out, err = execute(t, "--config", cfgPath, "--output", "text", "config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	cfg, err := config.Parse([]byte(out))
	if err != nil {
		t.Fatalf("show output is not a valid config: %v\n%s", err, out)
	}
	if cfg.APM.FPS {
		t.Error("apm.fps should be off after toggle")
	}
	if !cfg.APM.Memory {
		t.Error("apm.memory should be untouched")
	}
}

func TestConfigToggleRejectsUnknownKey(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	if _, err := execute(t, "--config", cfgPath, "config", "toggle", "apm.nope", "on"); err == nil {
		t.Error("expected error for unknown key")
	}
	if _, err := execute(t, "--config", cfgPath, "config", "toggle", "apm.fps", "maybe"); err == nil {
		t.Error("expected error for bad switch value")
	}
}

func TestConfigSetLevelAndReset(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	if _, err := execute(t, "--config", cfgPath, "config", "set-level", "debug"); err != nil {
		t.Fatalf("set-level: %v", err)
	}
	if _, err := execute(t, "--config", cfgPath, "config", "set-level", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}

	out, err := execute(t, "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "level: debug") {
		t.Errorf("show after set-level = %q", out)
	}

	if _, err := execute(t, "--config", cfgPath, "config", "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, err = execute(t, "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "level: info") {
		t.Errorf("show after reset = %q", out)
	}
}

func TestSweepJSON(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "--config", cfgPath, "--output", "json", "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}

	var report sweepReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("sweep output is not JSON: %v\n%s", err, out)
	}
	if report.AgeDeleted != 0 || report.SizeDeleted != 0 {
		t.Errorf("empty storage sweep deleted files: %+v", report)
	}
}

func TestFilesAndClear(t *testing.T) {
	cfgPath, root := writeTestConfig(t)

	apmDir := filepath.Join(root, "apm")
	if err := os.MkdirAll(apmDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(apmDir, "perf_20260101.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfgPath, "--output", "text", "files")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if !strings.Contains(out, "perf_20260101.jsonl") {
		t.Errorf("files output = %q", out)
	}

	if _, err := execute(t, "--config", cfgPath, "clear"); err == nil {
		t.Error("clear without --yes should fail")
	}
	if _, err := os.Stat(filepath.Join(apmDir, "perf_20260101.jsonl")); err != nil {
		t.Error("clear without --yes must not delete files")
	}

	if _, err := execute(t, "--config", cfgPath, "clear", "--yes"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := os.Stat(apmDir); !os.IsNotExist(err) {
		t.Error("clear should remove stored files")
	}
	if _, err := os.Stat(root); err != nil {
		t.Error("clear should recreate the storage root")
	}
}

func TestRunDryRun(t *testing.T) {
	cfgPath, _ := writeTestConfig(t)

	out, err := execute(t, "--config", cfgPath, "run", "--dry-run")
	if err != nil {
		t.Fatalf("run --dry-run: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("dry-run output = %q", out)
	}
}

func TestInvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "--output", "csv", "version")
	if err == nil {
		t.Fatal("expected error for unknown output format")
	}
}
