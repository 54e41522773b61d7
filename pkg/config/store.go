package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidToggleKey is returned by Store.Toggle for a key outside ToggleKeys.
var ErrInvalidToggleKey = errors.New("invalid toggle key")

// Store driver names accepted in StoreConfig.Driver.
const (
	StoreDriverSQLite  = "sqlite"
	StoreDriverSQLite3 = "sqlite3"
	StoreDriverFile    = "file"
	StoreDriverMemory  = "memory"
)

// Store persists the active configuration and notifies subscribers when it
// changes. Implementations are safe for concurrent use.
type Store interface {
	// Load returns the persisted configuration, or the defaults when
	// nothing is stored. Corrupt data is cleared and the defaults returned.
	Load() *Config

	// Save persists cfg and notifies subscribers.
	Save(cfg *Config) error

	// Reset clears the persisted configuration and notifies subscribers.
	Reset() error

	// Toggle flips one boolean flag. key must be one of ToggleKeys.
	Toggle(key string, on bool) error

	// SetLogLevel changes the persisted log level.
	SetLogLevel(level string) error

	// OnChanged registers fn to run after every change, including
	// external edits for backends that can observe them.
	OnChanged(fn func())

	// Close releases the backend.
	Close() error
}

// Backend is the raw document storage under a Store.
type Backend interface {
	// Read returns the stored document, or nil when none is stored.
	Read() ([]byte, error)
	Write(data []byte) error
	Clear() error
	Close() error
}

var toggles = map[string]func(*Config, bool){
	"enabled":         func(c *Config, on bool) { c.Enabled = on },
	"logging.console": func(c *Config, on bool) { c.Logging.Console = on },
	"logging.file":    func(c *Config, on bool) { c.Logging.File = on },
	"apm.crash":       func(c *Config, on bool) { c.APM.Crash = on },
	"apm.startup":     func(c *Config, on bool) { c.APM.Startup = on },
	"apm.fps":         func(c *Config, on bool) { c.APM.FPS = on },
	"apm.memory":      func(c *Config, on bool) { c.APM.Memory = on },
}

// ToggleKeys returns the keys accepted by Store.Toggle, sorted.
func ToggleKeys() []string {
	keys := make([]string, 0, len(toggles))
	for k := range toggles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DocStore implements Store on top of a Backend holding the configuration
// as a single YAML document.
type DocStore struct {
	backend Backend
	logger  *slog.Logger

	// mu serializes read-modify-write cycles.
	mu sync.Mutex

	subMu       sync.RWMutex
	subscribers []func()
}

// NewDocStore wraps backend in a Store.
func NewDocStore(backend Backend, logger *slog.Logger) *DocStore {
	if logger == nil {
		logger = slog.Default().With("component", "config.store")
	}
	return &DocStore{backend: backend, logger: logger}
}

// Open creates the Store selected by cfg.Driver.
func Open(cfg StoreConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default().With("component", "config.store")
	}

	switch cfg.Driver {
	case StoreDriverSQLite, StoreDriverSQLite3:
		backend, err := NewSQLiteBackend(cfg.Driver, cfg.Path)
		if err != nil {
			return nil, err
		}
		return NewDocStore(backend, logger), nil
	case StoreDriverFile:
		return NewFileStore(cfg.Path, logger)
	case StoreDriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Load implements Store.
func (s *DocStore) Load() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *DocStore) loadLocked() *Config {
	data, err := s.backend.Read()
	if err != nil {
		s.logger.Warn("failed to read stored configuration, using defaults", "error", err)
		return Default()
	}
	if len(data) == 0 {
		return Default()
	}

	cfg, err := Parse(data)
	if err != nil {
		s.logger.Warn("stored configuration is corrupt, clearing", "error", err)
		if cerr := s.backend.Clear(); cerr != nil {
			s.logger.Error("failed to clear corrupt configuration", "error", cerr)
		}
		return Default()
	}
	return cfg
}

// Save implements Store.
func (s *DocStore) Save(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.writeLocked(cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

// Reset implements Store.
func (s *DocStore) Reset() error {
	s.mu.Lock()
	err := s.backend.Clear()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to reset configuration: %w", err)
	}

	s.notify()
	return nil
}

// Toggle implements Store.
func (s *DocStore) Toggle(key string, on bool) error {
	apply, ok := toggles[key]
	if !ok {
		return fmt.Errorf("%w %q (valid: %s)", ErrInvalidToggleKey, key, strings.Join(ToggleKeys(), ", "))
	}
	return s.update(func(c *Config) { apply(c, on) })
}

// SetLogLevel implements Store.
func (s *DocStore) SetLogLevel(level string) error {
	if !IsValidLogLevel(level) {
		return FieldError{Field: "logging.level", Message: fmt.Sprintf("invalid log level %q", level)}
	}
	return s.update(func(c *Config) { c.Logging.Level = strings.ToLower(level) })
}

func (s *DocStore) update(mutate func(*Config)) error {
	s.mu.Lock()
	cfg := s.loadLocked().Clone()
	mutate(cfg)
	if err := Validate(cfg); err != nil {
		s.mu.Unlock()
		return err
	}
	err := s.writeLocked(cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify()
	return nil
}

func (s *DocStore) writeLocked(cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := s.backend.Write(data); err != nil {
		return fmt.Errorf("failed to persist configuration: %w", err)
	}
	return nil
}

// OnChanged implements Store.
func (s *DocStore) OnChanged(fn func()) {
	if fn == nil {
		return
	}
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

func (s *DocStore) notify() {
	s.subMu.RLock()
	subs := make([]func(), len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.RUnlock()

	for _, fn := range subs {
		s.safeCall(fn)
	}
}

func (s *DocStore) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("configuration change subscriber panicked", "panic", r)
		}
	}()
	fn()
}

// Close implements Store.
func (s *DocStore) Close() error {
	return s.backend.Close()
}

// MemoryBackend keeps the document in memory.
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore returns a Store that keeps the configuration in memory.
func NewMemoryStore() *DocStore {
	return NewDocStore(&MemoryBackend{}, nil)
}

func (m *MemoryBackend) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

func (m *MemoryBackend) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *MemoryBackend) Clear() error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
