package slogutil

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates a new slog.Logger with SDX's text format.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewFileLogger creates a logger that appends to a file, creating it if
// needed. The caller owns the returned file handle.
func NewFileLogger(path string, level slog.Level) (*slog.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return NewLogger(f, level), f, nil
}

// NewDiscardLogger creates a logger that discards all output.
// Useful for tests or when logging should be completely suppressed.
func NewDiscardLogger() *slog.Logger {
	return slog.New(NewHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(100)}))
}

// LevelFromString converts a string to a slog.Level.
// Supports: debug, info, warn, error (case-insensitive).
// Returns slog.LevelInfo for unrecognized strings.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
