package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beacon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeFile(t, `
enabled: true
logging:
  level: debug
retention:
  max_age_days: 3
apm:
  fps: false
  sample_interval: 10s
  hang_cooldown: 2m
sensitive_keys: [password, email]
storage:
  dir: /tmp/beacon-test
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Retention.MaxAgeDays != 3 {
		t.Errorf("Retention.MaxAgeDays = %d, want 3", cfg.Retention.MaxAgeDays)
	}
	if cfg.APM.FPS {
		t.Error("APM.FPS = true, want false")
	}
	if cfg.APM.SampleInterval != 10*time.Second {
		t.Errorf("APM.SampleInterval = %v, want 10s", cfg.APM.SampleInterval)
	}
	if cfg.APM.HangCooldown != 2*time.Minute {
		t.Errorf("APM.HangCooldown = %v, want 2m", cfg.APM.HangCooldown)
	}
	if len(cfg.SensitiveKeys) != 2 || cfg.SensitiveKeys[1] != "email" {
		t.Errorf("SensitiveKeys = %v, want [password email]", cfg.SensitiveKeys)
	}

	// Untouched fields keep their defaults.
	if cfg.Retention.MaxTotalSizeMB != DefaultRetentionMaxTotalSizeMB {
		t.Errorf("Retention.MaxTotalSizeMB = %d, want default", cfg.Retention.MaxTotalSizeMB)
	}
	if !cfg.APM.Memory {
		t.Error("APM.Memory = false, want default true")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadConfig(missing) error = nil, want error")
	}

	if _, err := LoadConfig(writeFile(t, "apm: [not, a, map]")); err == nil {
		t.Error("LoadConfig(bad yaml) error = nil, want error")
	}

	_, err := LoadConfig(writeFile(t, "apm:\n  fps_warn_threshold: 500\n"))
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("LoadConfig(invalid) error = %v, want ValidationError", err)
	}
}

func TestMarshal_RoundTripsDurations(t *testing.T) {
	cfg := Default()
	cfg.APM.SampleInterval = 45 * time.Second

	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.APM.SampleInterval != 45*time.Second {
		t.Errorf("APM.SampleInterval = %v, want 45s", got.APM.SampleInterval)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeFile(t, "logging:\n  level: info\napm:\n  fps: true\n")

	t.Setenv("BEACON_LOGGING_LEVEL", "ERROR")
	t.Setenv("BEACON_APM_FPS", "false")
	t.Setenv("BEACON_APM_SAMPLE_INTERVAL", "5s")
	t.Setenv("BEACON_RETENTION_MAX_AGE_DAYS", "2")
	t.Setenv("BEACON_SENSITIVE_KEYS", "token, secret ,")
	t.Setenv("BEACON_STORE_DRIVER", "memory")
	t.Setenv("BEACON_APM_MEMORY_WARN_RATIO", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() error = %v", err)
	}

	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want error", cfg.Logging.Level)
	}
	if cfg.APM.FPS {
		t.Error("APM.FPS = true, want false")
	}
	if cfg.APM.SampleInterval != 5*time.Second {
		t.Errorf("APM.SampleInterval = %v, want 5s", cfg.APM.SampleInterval)
	}
	if cfg.Retention.MaxAgeDays != 2 {
		t.Errorf("Retention.MaxAgeDays = %d, want 2", cfg.Retention.MaxAgeDays)
	}
	if len(cfg.SensitiveKeys) != 2 || cfg.SensitiveKeys[0] != "token" || cfg.SensitiveKeys[1] != "secret" {
		t.Errorf("SensitiveKeys = %v, want [token secret]", cfg.SensitiveKeys)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.APM.MemoryWarnRatio != DefaultMemoryWarnRatio {
		t.Errorf("APM.MemoryWarnRatio = %v, want default for unparseable override", cfg.APM.MemoryWarnRatio)
	}
}

func TestLoadConfigWithEnvOverrides_NoFile(t *testing.T) {
	t.Setenv("BEACON_ENABLED", "false")

	cfg, err := LoadConfigWithEnvOverrides("")
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides(\"\") error = %v", err)
	}
	if cfg.Enabled {
		t.Error("Enabled = true, want false")
	}
}

func TestLoadConfigWithEnvOverrides_Invalid(t *testing.T) {
	t.Setenv("BEACON_APM_FPS_WARN_THRESHOLD", "0")

	if _, err := LoadConfigWithEnvOverrides(""); err == nil {
		t.Error("LoadConfigWithEnvOverrides() error = nil, want validation error")
	}
}
