package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// Fields absent from the file keep their default values; the result is
// validated before it is returned.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as a YAML document.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return data, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention BEACON_SECTION_FIELD (e.g., BEACON_APM_FPS).
// Environment variables always take precedence over file-based configuration.
//
// An empty path skips the file and starts from the defaults.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	var cfg *Config
	if path == "" {
		cfg = Default()
	} else {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyEnvOverrides(cfg)

	// Re-validate after overrides
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format BEACON_SECTION_FIELD. Unparseable
// values are ignored.
func applyEnvOverrides(cfg *Config) {
	envBool("BEACON_ENABLED", &cfg.Enabled)

	// Logging overrides
	if val := os.Getenv("BEACON_LOGGING_LEVEL"); val != "" {
		cfg.Logging.Level = strings.ToLower(val)
	}
	if val := os.Getenv("BEACON_LOGGING_FORMAT"); val != "" {
		cfg.Logging.Format = strings.ToLower(val)
	}
	envBool("BEACON_LOGGING_CONSOLE", &cfg.Logging.Console)
	envBool("BEACON_LOGGING_FILE", &cfg.Logging.File)

	// Retention overrides
	envInt("BEACON_RETENTION_MAX_AGE_DAYS", &cfg.Retention.MaxAgeDays)
	envInt("BEACON_RETENTION_MAX_TOTAL_SIZE_MB", &cfg.Retention.MaxTotalSizeMB)
	if val := os.Getenv("BEACON_RETENTION_SCHEDULE"); val != "" {
		cfg.Retention.Schedule = val
	}

	// APM overrides
	envBool("BEACON_APM_CRASH", &cfg.APM.Crash)
	envBool("BEACON_APM_STARTUP", &cfg.APM.Startup)
	envBool("BEACON_APM_FPS", &cfg.APM.FPS)
	envBool("BEACON_APM_MEMORY", &cfg.APM.Memory)
	envInt("BEACON_APM_FPS_WARN_THRESHOLD", &cfg.APM.FPSWarnThreshold)
	if val := os.Getenv("BEACON_APM_MEMORY_WARN_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.APM.MemoryWarnRatio = f
		}
	}
	envDuration("BEACON_APM_SAMPLE_INTERVAL", &cfg.APM.SampleInterval)
	envDuration("BEACON_APM_HANG_CHECK_INTERVAL", &cfg.APM.HangCheckInterval)
	envDuration("BEACON_APM_HANG_COOLDOWN", &cfg.APM.HangCooldown)

	if val := os.Getenv("BEACON_SENSITIVE_KEYS"); val != "" {
		var keys []string
		for _, k := range strings.Split(val, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.SensitiveKeys = keys
	}

	// Storage overrides
	if val := os.Getenv("BEACON_STORAGE_DIR"); val != "" {
		cfg.Storage.Dir = val
	}
	if val := os.Getenv("BEACON_STORAGE_MIN_FREE_BYTES"); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Storage.MinFreeBytes = i
		}
	}

	// Store overrides
	if val := os.Getenv("BEACON_STORE_DRIVER"); val != "" {
		cfg.Store.Driver = val
	}
	if val := os.Getenv("BEACON_STORE_PATH"); val != "" {
		cfg.Store.Path = val
	}

	// Telemetry overrides
	if val, ok := os.LookupEnv("BEACON_TELEMETRY_LISTEN_ADDRESS"); ok {
		cfg.Telemetry.ListenAddress = val
	}
	envBool("BEACON_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
