package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

const (
	// DefaultBufferSize is the capacity of the async event queue.
	DefaultBufferSize = 1024

	filePrefix = "perf_"
	fileSuffix = ".jsonl"
)

// Drop reasons reported to the Observer.
const (
	DropBufferFull = "buffer_full"
	DropDiskLow    = "disk_low"
	DropWriteError = "write_error"
)

// ErrClosed is returned by Flush on a closed sink.
var ErrClosed = errors.New("sink closed")

// Redactor masks sensitive substrings in attribute values.
type Redactor interface {
	RedactString(s string) string
}

// Observer receives write outcomes, typically to feed pipeline metrics.
type Observer interface {
	EventWritten(typ string)
	EventDropped(reason string)
}

// Options configures a Sink.
type Options struct {
	// Dir receives the day files. Required.
	Dir string

	// BufferSize is the async queue capacity.
	// Default: 1024
	BufferSize int

	// Gate drops writes while disk space is low. nil allows every write.
	Gate *DiskGate

	// Redactor is applied to string attribute values. nil disables it.
	Redactor Redactor

	// Observer is notified of every write and drop. Optional.
	Observer Observer

	// Clock drives timestamps and day partitioning.
	Clock clock.PassiveClock
}

type request struct {
	event   *Event
	flushed chan struct{}
}

// Sink appends events to per-day JSONL files.
type Sink struct {
	dir      string
	gate     *DiskGate
	redactor Redactor
	observer Observer
	clock    clock.PassiveClock
	logger   *slog.Logger
	failures *rate.Limiter

	queue chan request
	done  chan struct{}
	wg    sync.WaitGroup

	// state guards closed against concurrent enqueue.
	state     sync.RWMutex
	closed    bool
	emergency atomic.Bool

	// mu serializes every file write and the day-file decision.
	mu   sync.Mutex
	file *os.File
	day  string

	written atomic.Int64
	dropped atomic.Int64
}

// New creates a Sink and starts its writer goroutine.
func New(opts Options) (*Sink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("sink directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	s := &Sink{
		dir:      opts.Dir,
		gate:     opts.Gate,
		redactor: opts.Redactor,
		observer: opts.Observer,
		clock:    opts.Clock,
		logger:   slog.Default().With("component", "sink"),
		failures: rate.NewLimiter(rate.Every(10*time.Second), 3),
		queue:    make(chan request, opts.BufferSize),
		done:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.worker()

	return s, nil
}

// Dir returns the directory holding the day files.
func (s *Sink) Dir() string {
	return s.dir
}

// Record enqueues an event for asynchronous write. It never blocks beyond
// the enqueue and never fails; when the queue is full the event is dropped.
// In emergency mode it writes synchronously instead.
func (s *Sink) Record(typ string, data map[string]any, page string) {
	defer s.recoverPanic(typ)

	ev := NewEvent(s.clock.Now(), typ, data, page)

	s.state.RLock()
	if s.closed || s.emergency.Load() {
		s.state.RUnlock()
		s.writeSync(ev)
		return
	}

	select {
	case s.queue <- request{event: ev}:
		s.state.RUnlock()
	default:
		s.state.RUnlock()
		s.drop(typ, DropBufferFull, nil)
	}
}

// RecordSync writes an event directly under the file mutex. It is meant
// for the crash path: no goroutines, no channels, and every failure
// including a panic is swallowed.
func (s *Sink) RecordSync(typ string, data map[string]any, page string) {
	defer s.recoverPanic(typ)
	s.writeSync(NewEvent(s.clock.Now(), typ, data, page))
}

func (s *Sink) writeSync(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLocked(ev)

	if err := s.syncLocked(); err != nil {
		s.logFailure(&WriteError{Type: ev.Type, Path: s.pathFor(s.day), Cause: err})
	}

	s.state.RLock()
	closed := s.closed
	s.state.RUnlock()
	if closed {
		s.closeFileLocked()
	}
}

// EnterEmergency switches Record to the synchronous path for the rest of
// the sink's life.
func (s *Sink) EnterEmergency() {
	s.emergency.Store(true)
}

// Emergency reports whether the sink is in emergency mode.
func (s *Sink) Emergency() bool {
	return s.emergency.Load()
}

// Flush blocks until every event enqueued before the call is written and
// synced to disk, or ctx is done.
func (s *Sink) Flush(ctx context.Context) error {
	s.state.RLock()
	if s.closed {
		s.state.RUnlock()
		return ErrClosed
	}

	marker := request{flushed: make(chan struct{})}
	select {
	case s.queue <- marker:
		s.state.RUnlock()
	case <-ctx.Done():
		s.state.RUnlock()
		return ctx.Err()
	}

	select {
	case <-marker.flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, syncs and closes the open day file. Later
// Record calls write synchronously. Close is idempotent.
func (s *Sink) Close() error {
	s.state.Lock()
	if s.closed {
		s.state.Unlock()
		return nil
	}
	s.closed = true
	s.state.Unlock()

	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.syncLocked()
	s.closeFileLocked()
	return err
}

// Written returns the number of events written.
func (s *Sink) Written() int64 { return s.written.Load() }

// Dropped returns the number of events dropped for any reason.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Files returns the sink's day files, oldest first.
func (s *Sink) Files() ([]string, error) {
	return Files(s.dir)
}

// Files returns the day files in dir, oldest first. A missing directory
// yields no files.
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

// worker drains the queue until Close, then drains what is left.
func (s *Sink) worker() {
	defer s.wg.Done()

	for {
		select {
		case req := <-s.queue:
			s.handle(req)

		case <-s.done:
			for {
				select {
				case req := <-s.queue:
					s.handle(req)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) handle(req request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.flushed != nil {
		if err := s.syncLocked(); err != nil {
			s.logFailure(&WriteError{Type: "flush", Path: s.pathFor(s.day), Cause: err})
		}
		close(req.flushed)
		return
	}
	s.writeLocked(req.event)
}

// writeLocked encodes and appends one event. Callers hold s.mu.
func (s *Sink) writeLocked(ev *Event) {
	defer s.recoverPanic(ev.Type)

	if s.gate != nil && !s.gate.Allow() {
		s.drop(ev.Type, DropDiskLow, nil)
		return
	}

	line, err := s.encode(ev)
	if err != nil {
		s.drop(ev.Type, DropWriteError, &WriteError{Type: ev.Type, Cause: err})
		return
	}

	f, err := s.fileForLocked(s.clock.Now())
	if err != nil {
		s.drop(ev.Type, DropWriteError, &WriteError{Type: ev.Type, Path: s.pathFor(s.day), Cause: err})
		return
	}

	if _, err := f.Write(line); err != nil {
		s.drop(ev.Type, DropWriteError, &WriteError{Type: ev.Type, Path: f.Name(), Cause: err})
		return
	}

	s.written.Add(1)
	if s.observer != nil {
		s.observer.EventWritten(ev.Type)
	}
}

func (s *Sink) encode(ev *Event) ([]byte, error) {
	out := *ev
	if s.redactor != nil {
		out.Data = make(map[string]any, len(ev.Data))
		for k, v := range ev.Data {
			if str, ok := v.(string); ok {
				v = s.redactor.RedactString(str)
			}
			out.Data[k] = v
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fileForLocked returns the file for now's local day, rolling over at
// midnight.
func (s *Sink) fileForLocked(now time.Time) (*os.File, error) {
	day := now.Local().Format("20060102")
	if s.file != nil && s.day == day {
		return s.file, nil
	}

	s.closeFileLocked()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.pathFor(day), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	s.file = f
	s.day = day
	return f, nil
}

func (s *Sink) syncLocked() error {
	if s.file == nil {
		return nil
	}
	return s.file.Sync()
}

func (s *Sink) closeFileLocked() {
	if s.file == nil {
		return
	}
	if err := s.file.Close(); err != nil {
		s.logFailure(&WriteError{Type: "close", Path: s.file.Name(), Cause: err})
	}
	s.file = nil
}

func (s *Sink) pathFor(day string) string {
	if day == "" {
		return ""
	}
	return filepath.Join(s.dir, filePrefix+day+fileSuffix)
}

func (s *Sink) drop(typ, reason string, err error) {
	s.dropped.Add(1)
	if s.observer != nil {
		s.observer.EventDropped(reason)
	}
	if err != nil {
		s.logFailure(err)
	}
}

// logFailure logs on the internal channel, at most a few lines per window.
func (s *Sink) logFailure(err error) {
	if s.failures.Allow() {
		s.logger.Warn("event write failed", "error", err)
	}
}

func (s *Sink) recoverPanic(typ string) {
	if r := recover(); r != nil {
		s.dropped.Add(1)
		s.logFailure(&WriteError{Type: typ, Cause: fmt.Errorf("panic: %v", r)})
	}
}
