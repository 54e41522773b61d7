package crash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// Report types.
const (
	TypePanic = "panic"
	TypeHang  = "hang"
)

const fileSuffix = ".log"

// ErrNotInitialized is returned when reporting before Init.
var ErrNotInitialized = errors.New("crash captor not initialized")

// Callback is invoked after a report is written.
type Callback func(typ, logPath string, isRepeat bool)

// Captor writes crash and hang reports.
type Captor struct {
	clock  clock.PassiveClock
	build  string
	logger *slog.Logger

	dir      atomic.Pointer[string]
	callback atomic.Pointer[Callback]

	mu   sync.Mutex
	seen map[string]bool
}

// New creates a Captor. build labels reports; empty uses the main module
// version from the binary's build info. A nil clock uses the real clock.
func New(build string, clk clock.PassiveClock) *Captor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if build == "" {
		build = buildVersion()
	}
	return &Captor{
		clock:  clk,
		build:  build,
		logger: slog.Default().With("component", "crash"),
		seen:   make(map[string]bool),
	}
}

// Init creates dir and directs future reports into it.
func (c *Captor) Init(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create crash directory: %w", err)
	}
	c.dir.Store(&dir)
	return nil
}

// Dir returns the report directory, or "" before Init.
func (c *Captor) Dir() string {
	if p := c.dir.Load(); p != nil {
		return *p
	}
	return ""
}

// SetCallback registers the post-report callback. nil removes it.
func (c *Captor) SetCallback(cb Callback) {
	if cb == nil {
		c.callback.Store(nil)
		return
	}
	c.callback.Store(&cb)
}

// Recover reports a panic in progress and re-panics with the same value.
// It must be called directly by a deferred statement.
func (c *Captor) Recover() {
	r := recover()
	if r == nil {
		return
	}
	c.ReportPanic(r, debug.Stack())
	panic(r)
}

// Go runs fn on a new goroutine with panic capture installed.
func (c *Captor) Go(fn func()) {
	go func() {
		defer c.Recover()
		fn()
	}()
}

// ReportPanic writes a panic report. It never panics; failures are logged
// and returned.
func (c *Captor) ReportPanic(value any, stack []byte) (path string, err error) {
	return c.report(TypePanic, fmt.Sprintf("%v", value), string(stack))
}

// ReportHang writes a hang report for the primary context stack.
func (c *Captor) ReportHang(stack string) (string, error) {
	return c.report(TypeHang, "primary context unresponsive", stack)
}

func (c *Captor) report(typ, summary, stack string) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("crash report panicked: %v", r)
			c.logger.Error("failed to write crash report", "type", typ, "error", err)
		}
	}()

	dir := c.Dir()
	if dir == "" {
		return "", ErrNotInitialized
	}

	now := c.clock.Now()
	id := uuid.New().String()
	host, _ := os.Hostname()

	var sb strings.Builder
	fmt.Fprintf(&sb, "*** Beacon %s report ***\n", typ)
	fmt.Fprintf(&sb, "id: %s\n", id)
	fmt.Fprintf(&sb, "type: %s\n", typ)
	fmt.Fprintf(&sb, "time: %s\n", now.Format("2006-01-02 15:04:05.000 -0700"))
	fmt.Fprintf(&sb, "host: %s\n", host)
	fmt.Fprintf(&sb, "build: %s (%s %s/%s)\n", c.build, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "pid: %d\n", os.Getpid())
	fmt.Fprintf(&sb, "summary: %s\n\n", summary)
	sb.WriteString(stack)
	if !strings.HasSuffix(stack, "\n") {
		sb.WriteByte('\n')
	}

	base := fmt.Sprintf("%s_%s_%03d", typ, now.Format("20060102_150405"), now.Nanosecond()/1e6)
	path, err = writeExclusive(dir, base, []byte(sb.String()))
	if err != nil {
		c.logger.Error("failed to write crash report", "type", typ, "error", err)
		return "", err
	}

	repeat := c.markSeen(typ, summary, stack)
	c.notify(typ, path, repeat)
	return path, nil
}

// writeExclusive writes data to a new file named base and syncs it. On
// collision it appends _01, _02 and so on, which sort after the plain name.
func writeExclusive(dir, base string, data []byte) (string, error) {
	for i := 0; i < 100; i++ {
		name := base + fileSuffix
		if i > 0 {
			name = fmt.Sprintf("%s_%02d%s", base, i, fileSuffix)
		}
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		_, werr := f.Write(data)
		serr := f.Sync()
		cerr := f.Close()
		if err := errors.Join(werr, serr, cerr); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", fmt.Errorf("no free report name for %s", base)
}

// markSeen records the failure signature and reports whether it was
// already seen. The signature ignores goroutine ids and addresses.
func (c *Captor) markSeen(typ, summary, stack string) bool {
	h := sha256.New()
	h.Write([]byte(typ))
	h.Write([]byte(summary))
	for _, line := range strings.Split(stack, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "goroutine ") {
			continue
		}
		if i := strings.Index(line, " +0x"); i > 0 {
			line = line[:i]
		}
		if i := strings.IndexByte(line, '('); i > 0 {
			line = line[:i]
		}
		h.Write([]byte(line))
	}
	sig := hex.EncodeToString(h.Sum(nil))

	c.mu.Lock()
	defer c.mu.Unlock()
	repeat := c.seen[sig]
	c.seen[sig] = true
	return repeat
}

func (c *Captor) notify(typ, path string, repeat bool) {
	p := c.callback.Load()
	if p == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("crash callback panicked", "panic", r)
		}
	}()
	(*p)(typ, path, repeat)
}

// Reports returns the report files in the crash directory, oldest first.
func (c *Captor) Reports() ([]string, error) {
	dir := c.Dir()
	if dir == "" {
		return nil, ErrNotInitialized
	}
	return Files(dir)
}

// Files returns the report files in dir, oldest first. A missing directory
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
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), fileSuffix) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return reportStamp(files[i]) < reportStamp(files[j])
	})
	return files, nil
}

// reportStamp returns the sortable time part of a report file name.
func reportStamp(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "unknown"
}
