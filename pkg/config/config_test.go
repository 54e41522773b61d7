package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("Validate(Default()) error = %v, want nil", err)
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()

	if !cfg.Enabled {
		t.Error("Enabled = false, want true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Retention.MaxAgeDays != 7 {
		t.Errorf("Retention.MaxAgeDays = %d, want 7", cfg.Retention.MaxAgeDays)
	}
	if cfg.MaxTotalBytes() != 100*1024*1024 {
		t.Errorf("MaxTotalBytes() = %d, want %d", cfg.MaxTotalBytes(), 100*1024*1024)
	}
	if cfg.MaxAge() != 7*24*time.Hour {
		t.Errorf("MaxAge() = %v, want 168h", cfg.MaxAge())
	}
	if cfg.APM.FPSWarnThreshold != 45 {
		t.Errorf("APM.FPSWarnThreshold = %d, want 45", cfg.APM.FPSWarnThreshold)
	}
	if cfg.APM.HangCheckInterval != 5*time.Second {
		t.Errorf("APM.HangCheckInterval = %v, want 5s", cfg.APM.HangCheckInterval)
	}
	if cfg.APM.HangCooldown != time.Minute {
		t.Errorf("APM.HangCooldown = %v, want 1m", cfg.APM.HangCooldown)
	}
	if len(cfg.SensitiveKeys) != 5 {
		t.Errorf("len(SensitiveKeys) = %d, want 5", len(cfg.SensitiveKeys))
	}
}

func TestClone_IsDeep(t *testing.T) {
	orig := Default()
	clone := orig.Clone()

	clone.SensitiveKeys[0] = "changed"
	clone.APM.FPS = false

	if orig.SensitiveKeys[0] == "changed" {
		t.Error("modifying clone.SensitiveKeys changed the original")
	}
	if !orig.APM.FPS {
		t.Error("modifying clone.APM changed the original")
	}

	var nilCfg *Config
	if nilCfg.Clone() != nil {
		t.Error("nil.Clone() != nil")
	}
}

func TestNew(t *testing.T) {
	cfg, err := New(func(c *Config) {
		c.APM.FPS = false
		c.Retention.MaxAgeDays = 3
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.APM.FPS {
		t.Error("APM.FPS = true, want false")
	}
	if cfg.Retention.MaxAgeDays != 3 {
		t.Errorf("Retention.MaxAgeDays = %d, want 3", cfg.Retention.MaxAgeDays)
	}

	if _, err := New(nil); err != nil {
		t.Errorf("New(nil) error = %v", err)
	}
}

func TestNew_RejectsOutOfRange(t *testing.T) {
	_, err := New(func(c *Config) {
		c.APM.FPSWarnThreshold = 0
		c.APM.SampleInterval = 500 * time.Millisecond
	})
	if err == nil {
		t.Fatal("New() error = nil, want ValidationError")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("New() error type = %T, want ValidationError", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2: %v", len(verr.Errors), verr)
	}
	if !verr.HasField("apm.fps_warn_threshold") || !verr.HasField("apm.sample_interval") {
		t.Errorf("missing expected fields: %v", verr)
	}
}
