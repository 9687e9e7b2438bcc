// Package shared holds configuration, logging, keyring, history database and
// error helpers used by every embysync command.
package shared

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger returns a [log.Logger] writing to w, or [os.Stderr] when w is nil.
//
// Entries carry a timestamp and the calling file so sync failures can be
// traced back to the server call that produced them.
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		ReportCaller:    true,
		Prefix:          "embysync",
	})
}

// NewFileLogger appends log entries to path, creating missing parent
// directories. Close the returned file when the logger is no longer needed.
func NewFileLogger(path string) (*log.Logger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger := NewLogger(f)
	logger.SetFormatter(log.LogfmtFormatter)
	return logger, f, nil
}

// WithLogger returns a child of l that adds kv to every entry.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel changes the minimum level l emits.
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// ParseLogLevel maps a config or flag value ("debug", "info", ...) to a [log.Level].
func ParseLogLevel(s string) (log.Level, error) {
	level, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("%w: log level %q", ErrInvalidFlag, s)
	}
	return level, nil
}

// GenerateID returns a random v4 UUID for run and write records.
func GenerateID() string {
	return uuid.NewString()
}
