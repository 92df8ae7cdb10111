// Package logging writes the structured JSON run log (.docgen/logs/docgen.log).
// Terminal output is the job of package ux; this log is for post-hoc
// debugging of retries, timings and failures.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the log file created inside the log directory.
const FileName = "docgen.log"

// Logger is safe for concurrent use. A nil *Logger discards everything.
type Logger struct {
	logger *slog.Logger
	file   *os.File
	mu     *sync.Mutex
}

// New opens (appending) dir/docgen.log. An empty dir logs to stderr.
func New(dir, level string) (*Logger, error) {
	if dir == "" {
		return NewWriter(os.Stderr, level), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	l := NewWriter(f, level)
	l.file = f
	return l, nil
}

// NewWriter logs JSON lines to w.
func NewWriter(w io.Writer, level string) *Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{logger: slog.New(h), mu: &sync.Mutex{}}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return NewWriter(io.Discard, "error")
}

// ParseLevel maps debug/info/warn/error (any case) to a slog level,
// defaulting to info.
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

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	if l == nil || len(args) == 0 {
		return l
	}
	return &Logger{logger: l.logger.With(args...), file: l.file, mu: l.mu}
}

func (l *Logger) WithRun(runID string) *Logger { return l.With("run_id", runID) }

func (l *Logger) WithDocument(doc string) *Logger { return l.With("document", doc) }

func (l *Logger) Debug(msg string, args ...any) {
	if l != nil {
		l.logger.Debug(msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...any) {
	if l != nil {
		l.logger.Info(msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...any) {
	if l != nil {
		l.logger.Warn(msg, args...)
	}
}

func (l *Logger) Error(msg string, args ...any) {
	if l != nil {
		l.logger.Error(msg, args...)
	}
}

// Close syncs and closes the log file. Child loggers share the file, so
// close only the root.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		l.file = nil
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}
