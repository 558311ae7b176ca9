// Package log builds the process-wide structured logger. Every binary
// calls New once and hands component-scoped children to its subsystems.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// New returns a text logger writing to stdout at the given level.
// Unknown level strings fall back to info.
func New(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lv})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// WithComponent tags a child logger with the subsystem it belongs to.
func WithComponent(l *slog.Logger, component string) *slog.Logger {
	return l.With("component", component)
}
