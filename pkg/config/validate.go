package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "apm.sample_interval").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// HasField reports whether the validation error contains an error for field.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together. Out-of-range
// values are reported, never clamped.
func Validate(cfg *Config) error {
	if cfg == nil {
		return ValidationError{Errors: []FieldError{{Field: "config", Message: "configuration is nil"}}}
	}

	var errs []FieldError

	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateRetention(&cfg.Retention)...)
	errs = append(errs, validateAPM(&cfg.APM)...)
	errs = append(errs, validateSensitiveKeys(cfg.SensitiveKeys)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateStore(&cfg.Store)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateLogging validates logging configuration.
func validateLogging(cfg *LoggingConfig) []FieldError {
	var errs []FieldError

	if !IsValidLogLevel(cfg.Level) {
		errs = append(errs, FieldError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn or error)", cfg.Level),
		})
	}

	switch cfg.Format {
	case "text", "json":
	default:
		errs = append(errs, FieldError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be text or json)", cfg.Format),
		})
	}

	return errs
}

// validateRetention validates the retention policy.
func validateRetention(cfg *RetentionConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxAgeDays <= 0 {
		errs = append(errs, FieldError{
			Field:   "retention.max_age_days",
			Message: fmt.Sprintf("must be > 0, got %d", cfg.MaxAgeDays),
		})
	}
	if cfg.MaxTotalSizeMB <= 0 {
		errs = append(errs, FieldError{
			Field:   "retention.max_total_size_mb",
			Message: fmt.Sprintf("must be > 0, got %d", cfg.MaxTotalSizeMB),
		})
	}
	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "retention.schedule",
				Message: fmt.Sprintf("invalid cron expression %q: %v", cfg.Schedule, err),
			})
		}
	}

	return errs
}

// validateAPM validates producer thresholds.
func validateAPM(cfg *APMConfig) []FieldError {
	var errs []FieldError

	if cfg.FPSWarnThreshold < MinFPSWarnThreshold || cfg.FPSWarnThreshold > MaxFPSWarnThreshold {
		errs = append(errs, FieldError{
			Field: "apm.fps_warn_threshold",
			Message: fmt.Sprintf("must be in %d..%d, got %d",
				MinFPSWarnThreshold, MaxFPSWarnThreshold, cfg.FPSWarnThreshold),
		})
	}
	if cfg.MemoryWarnRatio < 0 || cfg.MemoryWarnRatio > 1 {
		errs = append(errs, FieldError{
			Field:   "apm.memory_warn_ratio",
			Message: fmt.Sprintf("must be in 0..1, got %g", cfg.MemoryWarnRatio),
		})
	}
	if cfg.SampleInterval < MinSampleInterval {
		errs = append(errs, FieldError{
			Field:   "apm.sample_interval",
			Message: fmt.Sprintf("must be >= %s, got %s", MinSampleInterval, cfg.SampleInterval),
		})
	}
	if cfg.HangCheckInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "apm.hang_check_interval",
			Message: "must be positive",
		})
	}
	if cfg.HangCooldown < 0 {
		errs = append(errs, FieldError{
			Field:   "apm.hang_cooldown",
			Message: "must be non-negative",
		})
	}

	return errs
}

// validateSensitiveKeys rejects blank keys, which would match every
// separator in the key=value pattern.
func validateSensitiveKeys(keys []string) []FieldError {
	var errs []FieldError
	for i, k := range keys {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("sensitive_keys[%d]", i),
				Message: "key must not be blank",
			})
		}
	}
	return errs
}

// validateStorage validates the storage layout.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	if cfg.Dir == "" {
		errs = append(errs, FieldError{
			Field:   "storage.dir",
			Message: "storage directory is required",
		})
	}
	if cfg.MinFreeBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "storage.min_free_bytes",
			Message: "must be non-negative",
		})
	}
	if cfg.DiskCheckInterval <= 0 {
		errs = append(errs, FieldError{
			Field:   "storage.disk_check_interval",
			Message: "must be positive",
		})
	}

	return errs
}

// validateStore validates the persistence backend selection.
func validateStore(cfg *StoreConfig) []FieldError {
	var errs []FieldError

	switch cfg.Driver {
	case StoreDriverSQLite, StoreDriverSQLite3, StoreDriverFile:
		if cfg.Path == "" {
			errs = append(errs, FieldError{
				Field:   "store.path",
				Message: fmt.Sprintf("path is required for driver %q", cfg.Driver),
			})
		}
	case StoreDriverMemory:
	default:
		errs = append(errs, FieldError{
			Field:   "store.driver",
			Message: fmt.Sprintf("invalid driver %q (must be sqlite, sqlite3, file or memory)", cfg.Driver),
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with /",
			})
		}
		if cfg.Metrics.Namespace == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.namespace",
				Message: "namespace is required when metrics are enabled",
			})
		}
	}

	return errs
}

// IsValidLogLevel reports whether level is a recognised log level name.
func IsValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
