package config

import (
	"slices"
	"time"
)

// Config is the root configuration structure for the Beacon pipeline.
// A Config is an immutable snapshot: the pipeline replaces it wholesale on
// every reload and never mutates a published instance. Use Clone to derive
// a modified copy.
type Config struct {
	// Enabled is the global kill switch. When false every producer is
	// stopped, but the event sink stays open so pending writes can flush.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Logging contains configuration for the business log facade.
	Logging LoggingConfig `yaml:"logging"`

	// Retention contains the disk retention policy for all storage areas.
	Retention RetentionConfig `yaml:"retention"`

	// APM contains per-producer enable flags and sampling thresholds.
	APM APMConfig `yaml:"apm"`

	// SensitiveKeys lists the keys whose values are masked before any
	// text is persisted. The built-in pattern classes "phone", "idCard",
	// "email" and "bankCard" are only active when listed here.
	// Default: ["password", "token", "secret", "phone", "idCard"]
	SensitiveKeys []string `yaml:"sensitive_keys"`

	// Storage contains the on-disk layout and disk-space floor.
	Storage StorageConfig `yaml:"storage"`

	// Store selects the key-value backend that persists this configuration.
	Store StoreConfig `yaml:"store"`

	// Telemetry contains the pipeline's own metrics and health endpoints.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig contains configuration for the business log facade.
type LoggingConfig struct {
	// Level is the minimum level written ("debug", "info", "warn", "error").
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the console output format ("text", "json").
	// Default: "text"
	Format string `yaml:"format"`

	// Console enables writing log lines to stderr.
	// Default: true
	Console bool `yaml:"console"`

	// File enables writing log lines to the durable log engine.
	// Default: true
	File bool `yaml:"file"`
}

// RetentionConfig contains the retention policy applied by every sweep.
type RetentionConfig struct {
	// MaxAgeDays is the maximum age of any retained file. Must be > 0.
	// Default: 7
	MaxAgeDays int `yaml:"max_age_days"`

	// MaxTotalSizeMB is the total size budget of the log area. When
	// exceeded, the oldest files are removed until the area is at or below
	// 80% of the budget. Must be > 0.
	// Default: 100
	MaxTotalSizeMB int `yaml:"max_total_size_mb"`

	// Schedule is the cron expression for periodic sweeps.
	// Default: "@every 1h"
	Schedule string `yaml:"schedule"`
}

// APMConfig contains producer enable flags and thresholds. Thresholds are
// read on every sample, so a reload takes effect on the next sample.
type APMConfig struct {
	// Crash enables panic capture and the hang watchdog.
	// Default: true
	Crash bool `yaml:"crash"`

	// Startup enables cold-start timing.
	// Default: true
	Startup bool `yaml:"startup"`

	// FPS enables frame timing and jank detection.
	// Default: true
	FPS bool `yaml:"fps"`

	// Memory enables periodic memory sampling.
	// Default: true
	Memory bool `yaml:"memory"`

	// FPSWarnThreshold is the frame rate below which a low-fps event is
	// emitted. Must be in 1..120.
	// Default: 45
	FPSWarnThreshold int `yaml:"fps_warn_threshold"`

	// MemoryWarnRatio is the heap usage ratio above which listeners are
	// notified. Must be in 0..1.
	// Default: 0.85
	MemoryWarnRatio float64 `yaml:"memory_warn_ratio"`

	// SampleInterval is the memory sampling interval. Must be >= 1s.
	// Default: 30s
	SampleInterval time.Duration `yaml:"sample_interval"`

	// HangCheckInterval is the watchdog probe interval.
	// Default: 5s
	HangCheckInterval time.Duration `yaml:"hang_check_interval"`

	// HangCooldown is the minimum time between two hang reports.
	// Default: 60s
	HangCooldown time.Duration `yaml:"hang_cooldown"`
}

// StorageConfig contains the on-disk layout of the pipeline.
type StorageConfig struct {
	// Dir is the root directory. Logs, APM events and crash reports live
	// in its "logs", "apm" and "crash" subdirectories.
	// Default: "data/beacon"
	Dir string `yaml:"dir"`

	// MinFreeBytes is the free-space floor below which writes are dropped.
	// Default: 52428800 (50MB)
	MinFreeBytes int64 `yaml:"min_free_bytes"`

	// DiskCheckInterval bounds how often free space is probed.
	// Default: 60s
	DiskCheckInterval time.Duration `yaml:"disk_check_interval"`
}

// StoreConfig selects the configuration persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" (pure Go), "sqlite3" (cgo), "file" (YAML) or
	// "memory".
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// Path is the database or YAML file path. Ignored for "memory".
	// Default: "data/beacon/config.db"
	Path string `yaml:"path"`
}

// TelemetryConfig contains the pipeline's own observability endpoints.
type TelemetryConfig struct {
	// ListenAddress is the address for /metrics and /healthz when running
	// the beacon binary. Empty disables the listener.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Metrics contains Prometheus metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled controls whether pipeline metrics are recorded.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path of the metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the Prometheus metric namespace.
	// Default: "beacon"
	Namespace string `yaml:"namespace"`
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.SensitiveKeys = slices.Clone(c.SensitiveKeys)
	return &out
}

// MaxTotalBytes returns the retention size budget in bytes.
func (c *Config) MaxTotalBytes() int64 {
	return int64(c.Retention.MaxTotalSizeMB) * 1024 * 1024
}

// MaxAge returns the retention age limit as a duration.
func (c *Config) MaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeDays) * 24 * time.Hour
}
