// Package config provides configuration management for Beacon.
//
// This package handles loading, validating and persisting the pipeline
// configuration. A Config is an immutable snapshot: callers derive changes
// with Clone and hand the result to the pipeline, which swaps it in whole.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("beacon.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("beacon.yaml")
//
// Fields missing from the file keep their defaults. Environment variables
// follow the naming convention BEACON_SECTION_FIELD:
//
//   - BEACON_ENABLED overrides enabled
//   - BEACON_LOGGING_LEVEL overrides logging.level
//   - BEACON_APM_SAMPLE_INTERVAL overrides apm.sample_interval
//   - BEACON_STORAGE_DIR overrides storage.dir
//
// # Validation
//
// Validate collects every rule violation into a ValidationError. Values
// out of range are rejected, never clamped:
//
//	configuration validation failed with 2 errors:
//	  - apm.fps_warn_threshold: must be in 1..120, got 0
//	  - apm.sample_interval: must be >= 1s, got 500ms
//
// # Persistence
//
// A Store keeps the active configuration across restarts and notifies
// subscribers on change. Open selects the backend from StoreConfig:
//
//   - "sqlite": modernc.org/sqlite, pure Go
//   - "sqlite3": github.com/mattn/go-sqlite3, cgo
//   - "file": a YAML file watched with fsnotify, so external edits fire
//     OnChanged after a short debounce
//   - "memory": process lifetime only
//
// Stored data that fails to parse or validate is cleared and Load returns
// the defaults. Toggle accepts only the keys returned by ToggleKeys.
//
// # Example Configuration
//
//	enabled: true
//	logging:
//	  level: info
//	  console: true
//	  file: true
//	retention:
//	  max_age_days: 7
//	  max_total_size_mb: 100
//	apm:
//	  fps_warn_threshold: 45
//	  sample_interval: 30s
//	sensitive_keys: [password, token, phone]
//	storage:
//	  dir: /var/lib/beacon
package config
