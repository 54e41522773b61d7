package looper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the task queue capacity.
const DefaultQueueSize = 256

// ErrRunning is returned by Run when the looper is already running.
var ErrRunning = errors.New("looper already running")

// Looper runs posted tasks sequentially on a single goroutine.
type Looper struct {
	tasks  chan func()
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	gid atomic.Uint64
}

// New creates a stopped Looper. queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Looper {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Looper{
		tasks:  make(chan func(), queueSize),
		logger: slog.Default().With("component", "looper"),
	}
}

// Run executes tasks on the calling goroutine until ctx is cancelled or
// Stop is called. Tasks still queued at that point are discarded.
func (l *Looper) Run(ctx context.Context) error {
	stop, done, err := l.claim()
	if err != nil {
		return err
	}
	return l.loop(ctx, stop, done)
}

// Start runs the looper on a new goroutine. It returns once the looper is
// marked running.
func (l *Looper) Start(ctx context.Context) error {
	stop, done, err := l.claim()
	if err != nil {
		return err
	}
	go func() {
		if err := l.loop(ctx, stop, done); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Debug("looper exited", "error", err)
		}
	}()
	return nil
}

func (l *Looper) claim() (stop, done chan struct{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil, nil, ErrRunning
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	return l.stop, l.done, nil
}

func (l *Looper) loop(ctx context.Context, stop, done chan struct{}) error {
	l.gid.Store(currentGoroutineID())

	defer func() {
		l.gid.Store(0)
		l.mu.Lock()
		if l.done == done {
			l.running = false
		}
		l.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case task := <-l.tasks:
			l.execute(task)
		}
	}
}

// Stop ends Run and waits for the current task to finish. It must not be
// called from a task.
func (l *Looper) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	stop, done := l.stop, l.done
	select {
	case <-stop:
	default:
		close(stop)
	}
	l.mu.Unlock()

	<-done
}

// Running reports whether Run is active.
func (l *Looper) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Post queues fn without blocking. It returns false when the queue is full.
func (l *Looper) Post(fn func()) bool {
	select {
	case l.tasks <- fn:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued tasks.
func (l *Looper) Pending() int {
	return len(l.tasks)
}

func (l *Looper) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("looper task panicked", "panic", r)
		}
	}()
	task()
}

// Stack returns the looper goroutine's stack, or "" when it is not
// running.
func (l *Looper) Stack() string {
	gid := l.gid.Load()
	if gid == 0 {
		return ""
	}
	return GoroutineStack(gid)
}

// GoroutineStack returns the stack trace of goroutine id, or "" if it has
// exited.
func GoroutineStack(id uint64) string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, len(buf)*2)
	}

	header := []byte("goroutine " + strconv.FormatUint(id, 10) + " [")
	for _, block := range bytes.Split(buf, []byte("\n\n")) {
		if bytes.HasPrefix(block, header) {
			return string(block)
		}
	}
	return ""
}

func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 18 [running]:..."
	field := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(field, ' '); i > 0 {
		if id, err := strconv.ParseUint(string(field[:i]), 10, 64); err == nil {
			return id
		}
	}
	return 0
}
