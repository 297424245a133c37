// Package logger provides the structured logger shared by every senave
// package. It wraps a process-wide slog.Logger that commands reconfigure
// once flags are parsed.
package logger

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// TimeLayout is the timestamp layout used by the text handler.
const TimeLayout = "2006/01/02 03:04:05 PM"

var (
	defaultLogger *slog.Logger
	mu            sync.RWMutex
)

func init() {
	defaultLogger = slog.New(newHandler(Options{}, slog.LevelInfo))
}

// Options configures the logger.
type Options struct {
	Debug  bool         // Enable debug level logging
	Quiet  bool         // Only show errors
	JSON   bool         // Output as JSON
	Output io.Writer    // Output destination (default: stderr)
	Logger *slog.Logger // Custom logger (overrides all other options)
}

// Init replaces the process logger according to opts.
func Init(opts Options) {
	mu.Lock()
	defer mu.Unlock()

	if opts.Logger != nil {
		defaultLogger = opts.Logger
		return
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	if opts.Quiet {
		level = slog.LevelError
	}

	defaultLogger = slog.New(newHandler(opts, level))
}

func newHandler(opts Options, level slog.Level) slog.Handler {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	if opts.JSON {
		return slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	}
	return slog.NewTextHandler(output, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(slog.TimeKey, a.Value.Time().Format(TimeLayout))
			}
			return a
		},
	})
}

// Logger returns the current process logger.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// With returns a logger with the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}
