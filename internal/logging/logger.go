package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var level = new(slog.LevelVar)

// SetLevel sets the process-wide minimum level ("debug", "info", "warn", "error").
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// Logger provides structured key/value logging for one component
type Logger struct {
	prefix string
	logger *slog.Logger
}

var defaultLogger atomic.Pointer[Logger]

// NewLogger creates a new logger with a prefix
func NewLogger(prefix string) *Logger {
	return newLogger(os.Stdout, prefix)
}

// NewTestLogger writes to w at debug level, for assertions in tests.
func NewTestLogger(w io.Writer) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &Logger{prefix: "test", logger: slog.New(h)}
}

func newLogger(w io.Writer, prefix string) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{
		prefix: prefix,
		logger: slog.New(h).With("component", prefix),
	}
}

// Default returns the shared engine logger.
func Default() *Logger {
	if l := defaultLogger.Load(); l != nil {
		return l
	}
	l := NewLogger("extraction-engine")
	defaultLogger.CompareAndSwap(nil, l)
	return defaultLogger.Load()
}

// OrDefault lets constructors accept a nil logger.
func OrDefault(l *Logger) *Logger {
	if l == nil {
		return Default()
	}
	return l
}

// Named derives a logger for a sub-component sharing the same sink.
func (l *Logger) Named(prefix string) *Logger {
	return &Logger{
		prefix: l.prefix + "." + prefix,
		logger: l.logger.With("subcomponent", prefix),
	}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelInfo, msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelWarn, msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelError, msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(slog.LevelDebug, msg, keysAndValues...)
}

func (l *Logger) logWithKV(lvl slog.Level, msg string, keysAndValues ...interface{}) {
	// odd trailing key is dropped, same as before the slog move
	if len(keysAndValues)%2 == 1 {
		keysAndValues = keysAndValues[:len(keysAndValues)-1]
	}
	l.logger.Log(context.Background(), lvl, msg, keysAndValues...)
}
