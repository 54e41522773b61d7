package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"mercator-hq/beacon/pkg/config"
	"mercator-hq/beacon/pkg/logstore"
)

// LogFormat represents the console output format.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in plain text format.
	FormatText LogFormat = "text"
)

// DefaultTag is the tag used for file lines written without one.
const DefaultTag = "app"

// Logger is the business log facade. Every line is filtered by a runtime
// adjustable level, redacted, then fanned out to the console and to the
// durable log engine according to the live sink switches.
type Logger struct {
	// slog is the underlying structured logger
	slog *slog.Logger

	// redactor masks sensitive values in messages and fields
	redactor *Redactor

	// sinks is shared by every logger derived with With or Named
	sinks *sinks
}

// sinks holds the switches shared across derived loggers.
type sinks struct {
	level   slog.LevelVar
	console atomic.Bool
	file    atomic.Bool
	engine  atomic.Pointer[engineRef]
}

type engineRef struct {
	engine logstore.Engine
}

// Config contains configuration for the Logger.
type Config struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string

	// Format is the console output format ("json", "text")
	Format string

	// Console enables the console output
	Console bool

	// File enables the durable log engine output
	File bool

	// SensitiveKeys lists keys whose values are masked
	SensitiveKeys []string

	// Engine is the durable log engine; nil disables file output
	Engine logstore.Engine

	// Writer is the console writer (defaults to os.Stderr)
	Writer io.Writer
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}

	s := &sinks{}
	s.level.Set(level)
	s.console.Store(cfg.Console)
	s.file.Store(cfg.File)
	s.engine.Store(&engineRef{engine: cfg.Engine})

	opts := &slog.HandlerOptions{Level: &s.level}
	var console slog.Handler
	switch format {
	case FormatJSON:
		console = slog.NewJSONHandler(writer, opts)
	default:
		console = slog.NewTextHandler(writer, opts)
	}

	return &Logger{
		slog:     slog.New(&fanoutHandler{sinks: s, console: console, tag: DefaultTag}),
		redactor: NewRedactor(cfg.SensitiveKeys),
		sinks:    s,
	}, nil
}

// FromConfig builds a Logger from the pipeline configuration.
func FromConfig(cfg *config.Config, engine logstore.Engine, writer io.Writer) (*Logger, error) {
	return New(Config{
		Level:         cfg.Logging.Level,
		Format:        cfg.Logging.Format,
		Console:       cfg.Logging.Console,
		File:          cfg.Logging.File,
		SensitiveKeys: cfg.SensitiveKeys,
		Engine:        engine,
		Writer:        writer,
	})
}

// Apply updates level, sink switches and sensitive keys in place. Loggers
// derived from this one observe the change immediately.
func (l *Logger) Apply(cfg *config.Config) {
	if level, err := ParseLevel(cfg.Logging.Level); err == nil {
		l.sinks.level.Set(level)
		if ref := l.sinks.engine.Load(); ref != nil && ref.engine != nil {
			ref.engine.SetLevel(level)
		}
	}
	l.sinks.console.Store(cfg.Logging.Console)
	l.sinks.file.Store(cfg.Logging.File)
	l.redactor.SetKeys(cfg.SensitiveKeys)
}

// SetEngine replaces the durable log engine. nil detaches file output.
func (l *Logger) SetEngine(engine logstore.Engine) {
	l.sinks.engine.Store(&engineRef{engine: engine})
}

// SetLevel changes the minimum level.
func (l *Logger) SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.sinks.level.Set(lvl)
	if ref := l.sinks.engine.Load(); ref != nil && ref.engine != nil {
		ref.engine.SetLevel(lvl)
	}
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.sinks.level.Level()
}

// Flush makes file output durable.
func (l *Logger) Flush() error {
	if ref := l.sinks.engine.Load(); ref != nil && ref.engine != nil {
		return ref.engine.Flush()
	}
	return nil
}

// Slog returns the underlying slog.Logger. Records logged through it
// bypass redaction.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(context.Background(), slog.LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(context.Background(), slog.LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(context.Background(), slog.LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(context.Background(), slog.LevelError, msg, args...)
}

// InfoContext logs an info message with session and page fields from ctx.
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, append(extractContextFields(ctx), args...)...)
}

// ErrorContext logs an error message with session and page fields from ctx.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, append(extractContextFields(ctx), args...)...)
}

// log is the internal logging method that handles redaction.
func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	// Fast path: if level is disabled, return immediately
	if !l.slog.Enabled(ctx, level) {
		return
	}

	msg = l.redactor.RedactString(msg)
	args = l.redactor.RedactArgs(args...)

	l.slog.Log(ctx, level, msg, args...)
}

// With creates a new logger with additional fields.
func (l *Logger) With(args ...any) *Logger {
	args = l.redactor.RedactArgs(args...)

	return &Logger{
		slog:     l.slog.With(args...),
		redactor: l.redactor,
		sinks:    l.sinks,
	}
}

// Named returns a logger whose file lines carry tag.
func (l *Logger) Named(tag string) *Logger {
	return l.With(tagKey, tag)
}

const tagKey = "tag"

// fanoutHandler writes each record to the console handler and to the log
// engine, as switched on in sinks.
type fanoutHandler struct {
	sinks   *sinks
	console slog.Handler
	tag     string
	prefix  string
	attrs   []slog.Attr
}

func (h *fanoutHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.sinks.level.Level()
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.sinks.console.Load() {
		err = h.console.Handle(ctx, r)
	}

	if h.sinks.file.Load() {
		if ref := h.sinks.engine.Load(); ref != nil && ref.engine != nil {
			ref.engine.Write(r.Level, h.tag, h.formatLine(r))
		}
	}
	return err
}

func (h *fanoutHandler) formatLine(r slog.Record) string {
	var sb strings.Builder
	sb.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&sb, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.prefix, a)
		return true
	})
	return sb.String()
}

func writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(sb, prefix+a.Key+".", ga)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(prefix)
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(a.Value.String())
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &fanoutHandler{
		sinks:   h.sinks,
		console: h.console.WithAttrs(attrs),
		tag:     h.tag,
		prefix:  h.prefix,
		attrs:   append([]slog.Attr(nil), h.attrs...),
	}
	for _, a := range attrs {
		if h.prefix == "" && a.Key == tagKey {
			next.tag = a.Value.String()
			continue
		}
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return next
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &fanoutHandler{
		sinks:   h.sinks,
		console: h.console.WithGroup(name),
		tag:     h.tag,
		prefix:  h.prefix + name + ".",
		attrs:   h.attrs,
	}
}

// ParseLevel parses a log level string into slog.Level.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseFormat parses a log format string into LogFormat.
func parseFormat(formatStr string) (LogFormat, error) {
	switch strings.ToLower(formatStr) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", formatStr)
	}
}
