package common

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger provides logging functionality
type Logger struct {
	logger *slog.Logger
}

var defaultBackend = slog.New(slog.NewTextHandler(os.Stdout, nil))

// SetLogging overrides the *slog.Logger every subsequently created
// Logger wraps. The pool calls GetLogger rather than holding its own
// *slog.Logger; internal/thread and internal/workerrt do not log
// through this package.
func SetLogging(logger *slog.Logger) {
	if logger != nil {
		defaultBackend = logger
	}
}

// GetLogger returns a logger instance wrapping the current default
// backend (a text handler writing to stdout unless SetLogging
// overrode it).
func GetLogger() *Logger {
	return &Logger{logger: defaultBackend}
}

// Info logs an informational message
func (l *Logger) Info(msg string) {
	l.logger.Info(msg)
}

// Success logs a success message
func (l *Logger) Success(msg string) {
	fmt.Printf("✅ %s\n", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) {
	l.logger.Error(msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) {
	l.logger.Warn(msg)
}
