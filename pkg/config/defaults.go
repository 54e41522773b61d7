package config

import "time"

// Default values for configuration fields.
const (
	DefaultEnabled = true

	// Logging defaults
	DefaultLoggingLevel   = "info"
	DefaultLoggingFormat  = "text"
	DefaultLoggingConsole = true
	DefaultLoggingFile    = true

	// Retention defaults
	DefaultRetentionMaxAgeDays     = 7
	DefaultRetentionMaxTotalSizeMB = 100
	DefaultRetentionSchedule       = "@every 1h"

	// APM defaults
	DefaultAPMCrash          = true
	DefaultAPMStartup        = true
	DefaultAPMFPS            = true
	DefaultAPMMemory         = true
	DefaultFPSWarnThreshold  = 45
	DefaultMemoryWarnRatio   = 0.85
	DefaultSampleInterval    = 30 * time.Second
	DefaultHangCheckInterval = 5 * time.Second
	DefaultHangCooldown      = 60 * time.Second
	MinSampleInterval        = time.Second
	MinFPSWarnThreshold      = 1
	MaxFPSWarnThreshold      = 120

	// Storage defaults
	DefaultStorageDir        = "data/beacon"
	DefaultMinFreeBytes      = int64(50 * 1024 * 1024) // 50MB
	DefaultDiskCheckInterval = 60 * time.Second

	// Store defaults
	DefaultStoreDriver = "sqlite"
	DefaultStorePath   = "data/beacon/config.db"

	// Telemetry defaults
	DefaultListenAddress    = "127.0.0.1:9464"
	DefaultMetricsEnabled   = true
	DefaultMetricsPath      = "/metrics"
	DefaultMetricsNamespace = "beacon"
)

// DefaultSensitiveKeys returns the default redaction key list.
func DefaultSensitiveKeys() []string {
	return []string{"password", "token", "secret", "phone", "idCard"}
}

// Default returns a new Config populated with default values. The result
// is valid and can be used as-is.
func Default() *Config {
	return &Config{
		Enabled: DefaultEnabled,
		Logging: LoggingConfig{
			Level:   DefaultLoggingLevel,
			Format:  DefaultLoggingFormat,
			Console: DefaultLoggingConsole,
			File:    DefaultLoggingFile,
		},
		Retention: RetentionConfig{
			MaxAgeDays:     DefaultRetentionMaxAgeDays,
			MaxTotalSizeMB: DefaultRetentionMaxTotalSizeMB,
			Schedule:       DefaultRetentionSchedule,
		},
		APM: APMConfig{
			Crash:             DefaultAPMCrash,
			Startup:           DefaultAPMStartup,
			FPS:               DefaultAPMFPS,
			Memory:            DefaultAPMMemory,
			FPSWarnThreshold:  DefaultFPSWarnThreshold,
			MemoryWarnRatio:   DefaultMemoryWarnRatio,
			SampleInterval:    DefaultSampleInterval,
			HangCheckInterval: DefaultHangCheckInterval,
			HangCooldown:      DefaultHangCooldown,
		},
		SensitiveKeys: DefaultSensitiveKeys(),
		Storage: StorageConfig{
			Dir:               DefaultStorageDir,
			MinFreeBytes:      DefaultMinFreeBytes,
			DiskCheckInterval: DefaultDiskCheckInterval,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
			Path:   DefaultStorePath,
		},
		Telemetry: TelemetryConfig{
			ListenAddress: DefaultListenAddress,
			Metrics: MetricsConfig{
				Enabled:   DefaultMetricsEnabled,
				Path:      DefaultMetricsPath,
				Namespace: DefaultMetricsNamespace,
			},
		},
	}
}

// New returns a validated Config built from the defaults with mutate
// applied. It fails rather than clamping any out-of-range field.
//
// Example:
//
//	cfg, err := config.New(func(c *config.Config) {
//		c.APM.FPS = false
//		c.Retention.MaxAgeDays = 3
//	})
func New(mutate func(*Config)) (*Config, error) {
	cfg := Default()
	if mutate != nil {
		mutate(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
