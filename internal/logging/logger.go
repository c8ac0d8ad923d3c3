// Package logging builds the structured loggers used by all binaries.
package logging

import (
	"log/slog"
	"os"
)

// New creates a text slog logger tagged with the application name and pid.
// level is one of "debug", "info", "warn", "error"; anything else means info.
func New(app string, level string) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(handler).With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
