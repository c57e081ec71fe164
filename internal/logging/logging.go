// Package logging builds the process-wide structured logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a JSON logger at the given level. The LOG_LEVEL environment
// variable (debug/info/warn/error) overrides it when set.
func New(level slog.Level, w io.Writer) *slog.Logger {
	if override, ok := LevelFromEnv(); ok {
		level = override
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// Init installs New(level, os.Stdout) as the default logger and returns it
func Init(level slog.Level) *slog.Logger {
	logger := New(level, os.Stdout)
	slog.SetDefault(logger)
	logger.Info("logger initialized", "level", effectiveLevel(logger).String())
	return logger
}

// LevelFromEnv parses LOG_LEVEL
func LevelFromEnv() (slog.Level, bool) {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func effectiveLevel(logger *slog.Logger) slog.Level {
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn} {
		if logger.Enabled(context.Background(), l) {
			return l
		}
	}
	return slog.LevelError
}
