// Package logging provides the driver's process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Log is the process-wide logger. Init must be called once at startup before
// any component logs; until then Log falls back to a discard handler so
// package init order never panics on a nil logger.
var Log = slog.New(slog.NewTextHandler(io.Discard, nil))

// Init configures the global logger to write to stdout and, if logFile is
// non-empty, to an append-only file as well.
func Init(level string, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}

// With returns a logger tagged with the given component name, the way every
// subsystem in the driver identifies its log lines.
func With(component string) *slog.Logger {
	return Log.With("component", component)
}
