// Package log provides structured logging utilities for the snapminer engine.
// It wraps the standard library's slog package with additional convenience methods.
package log

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bardlex/snapminer/pkg/errors"
)

// Logger wraps slog.Logger with additional context and convenience methods
type Logger struct {
	*slog.Logger
	service string
	version string
}

// Options configures where and how log lines are written.
type Options struct {
	Level  string
	Format string
	// File, when set, receives a copy of every line through a rotating writer.
	File string
	// Output overrides stdout, mostly for tests.
	Output io.Writer
}

// New creates a new logger with the specified configuration
func New(service, version, level, format string) *Logger {
	return NewWithOptions(service, version, Options{Level: level, Format: format})
}

// NewWithOptions creates a logger that can also write to a rotating file.
func NewWithOptions(service, version string, opts Options) *Logger {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}

	if opts.File != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}

	logLevel := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	baseLogger := slog.New(handler).With(
		"service", service,
		"version", version,
	)

	return &Logger{
		Logger:  baseLogger,
		service: service,
		version: version,
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

type ctxKey string

// EventIDKey is the context key under which an event id is carried.
const EventIDKey ctxKey = "event_id"

// WithContext returns a logger with additional context fields
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := ctx.Value(EventIDKey); id != nil {
		return l.WithFields("event_id", id)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithWorker returns a logger scoped to one mining worker
func (l *Logger) WithWorker(id int) *Logger {
	return l.WithFields("worker", id)
}

// WithError returns a logger with the error and the context attached to it
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	fields := []any{"error", err.Error()}
	errCtx := errors.Context(err)
	for _, k := range slices.Sorted(maps.Keys(errCtx)) {
		fields = append(fields, k, errCtx[k])
	}
	return l.WithFields(fields...)
}

// LogDuration logs the duration of an operation
func (l *Logger) LogDuration(operation string, duration time.Duration) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ms", float64(duration)/float64(time.Millisecond),
	)
}

// LogHashrate logs the periodic attempts-per-second line
func (l *Logger) LogHashrate(hashes uint64, interval time.Duration, rate float64) {
	l.Info("hashrate",
		"hashes", hashes,
		"interval_s", interval.Seconds(),
		"hashes_per_sec", rate,
	)
}

// LogBlockAccepted logs an accepted submission with the time since the previous one
func (l *Logger) LogBlockAccepted(blockHash string, height int64, worker int, sinceLast time.Duration) {
	l.Info("block accepted",
		"block_hash", blockHash,
		"block_height", height,
		"worker", worker,
		"since_last_s", sinceLast.Seconds(),
	)
}
