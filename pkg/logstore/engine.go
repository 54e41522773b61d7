package logstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"k8s.io/utils/clock"
)

const (
	// CacheDirName is the engine-owned staging directory under the log dir.
	CacheDirName = "cache"

	stagingName = "staging.log"
	filePrefix  = "app_"
	fileSuffix  = ".log"

	// autoFlushBytes bounds how much is staged before an implicit flush.
	autoFlushBytes = 64 * 1024
)

// ErrNotOpen is returned by operations that need an open engine.
var ErrNotOpen = errors.New("log engine not open")

// Engine is durable log storage.
type Engine interface {
	Open(dir string, level slog.Level) error
	Write(level slog.Level, tag, msg string)
	Flush() error
	SetLevel(level slog.Level)
	Close() error
	Dir() string
	CacheDir() string
}

// FileEngine is an Engine writing plain text day files.
type FileEngine struct {
	clock  clock.PassiveClock
	logger *slog.Logger

	mu      sync.Mutex
	dir     string
	level   slog.Level
	staging *os.File
	buf     *bufio.Writer
	staged  int
}

// NewFileEngine returns a closed engine. A nil clock uses the real clock.
func NewFileEngine(clk clock.PassiveClock) *FileEngine {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &FileEngine{
		clock:  clk,
		logger: slog.Default().With("component", "logstore.engine"),
	}
}

// Open prepares dir and recovers lines staged by a previous process.
// Opening an open engine reopens it on the new directory.
func (e *FileEngine) Open(dir string, level slog.Level) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.staging != nil {
		if err := e.closeLocked(); err != nil {
			e.logger.Warn("failed to close previous log engine", "error", err)
		}
	}

	cache := filepath.Join(dir, CacheDirName)
	if err := os.MkdirAll(cache, 0o755); err != nil {
		return fmt.Errorf("failed to create log directories: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(cache, stagingName), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open staging file: %w", err)
	}

	e.dir = dir
	e.level = level
	e.staging = f
	e.buf = bufio.NewWriter(f)
	e.staged = 0

	if err := e.promoteLocked(); err != nil {
		e.logger.Warn("failed to recover staged log lines", "error", err)
	}
	return nil
}

// Write stages one line. Lines below the engine level and writes to a
// closed engine are dropped.
func (e *FileEngine) Write(level slog.Level, tag, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.staging == nil || level < e.level {
		return
	}

	now := e.clock.Now()
	line := fmt.Sprintf("%s %s/%s: %s\n",
		now.Format("2006-01-02 15:04:05.000"), levelLetter(level), tag,
		strings.ReplaceAll(msg, "\n", "\n\t"))

	n, err := e.buf.WriteString(line)
	if err != nil {
		e.logger.Warn("failed to stage log line", "error", err)
		return
	}
	e.staged += n

	if e.staged >= autoFlushBytes {
		if err := e.promoteLocked(); err != nil {
			e.logger.Warn("failed to flush log lines", "error", err)
		}
	}
}

// Flush moves every staged line into the current day file and fsyncs it.
func (e *FileEngine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.staging == nil {
		return ErrNotOpen
	}
	return e.promoteLocked()
}

func (e *FileEngine) promoteLocked() error {
	if err := e.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush staging buffer: %w", err)
	}

	if _, err := e.staging.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind staging file: %w", err)
	}

	info, err := e.staging.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat staging file: %w", err)
	}
	if info.Size() == 0 {
		e.staged = 0
		return nil
	}

	path := filepath.Join(e.dir, DayFileName(e.clock.Now().Format("20060102")))
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open day file: %w", err)
	}

	if _, err := io.Copy(out, e.staging); err != nil {
		out.Close()
		return fmt.Errorf("failed to append day file: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("failed to sync day file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close day file: %w", err)
	}

	if err := e.staging.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate staging file: %w", err)
	}
	e.staged = 0
	return nil
}

// SetLevel changes the minimum stored level.
func (e *FileEngine) SetLevel(level slog.Level) {
	e.mu.Lock()
	e.level = level
	e.mu.Unlock()
}

// Close flushes and releases the staging file. Closing a closed engine is
// a no-op.
func (e *FileEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *FileEngine) closeLocked() error {
	if e.staging == nil {
		return nil
	}
	err := e.promoteLocked()
	if cerr := e.staging.Close(); cerr != nil && err == nil {
		err = cerr
	}
	e.staging = nil
	e.buf = nil
	return err
}

// Dir returns the log directory, or "" before Open.
func (e *FileEngine) Dir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir
}

// CacheDir returns the engine-owned staging directory.
func (e *FileEngine) CacheDir() string {
	dir := e.Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, CacheDirName)
}

// Files returns the day files in dir, oldest first.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type().IsRegular() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// DayFileName returns the file name for a yyyyMMdd day stamp.
func DayFileName(day string) string {
	return filePrefix + day + fileSuffix
}

func levelLetter(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "E"
	case level >= slog.LevelWarn:
		return "W"
	case level >= slog.LevelInfo:
		return "I"
	default:
		return "D"
	}
}
