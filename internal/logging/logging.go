// Package logging sets up the process-wide structured logger. spec.md §1
// treats logging as external to the core; this is the ambient
// implementation every component takes a *slog.Logger from.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON-handler slog.Logger at the given level ("debug",
// "info", "warn", "error"; unrecognized values fall back to "info").
func New(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
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
