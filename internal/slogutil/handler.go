// Package slogutil provides the slog handler and logger constructors used
// across SDX. Log lines are formatted as:
// TIMESTAMP [level] Message | key=value, key=value
package slogutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Handler is a custom slog handler producing SDX's text format.
type Handler struct {
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
	mu    *sync.Mutex
}

// NewHandler creates a new SDX log handler.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) *Handler {
	level := slog.Leveler(slog.LevelInfo)
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &Handler{
		w:     w,
		level: level,
		mu:    &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the log record.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	buf.WriteString(r.Time.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(levelString(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	if len(attrs) > 0 {
		buf.WriteString(" | ")
		for i, a := range attrs {
			if i > 0 {
				buf.WriteString(", ")
			}
			fmt.Fprintf(&buf, "%s=%v", a.Key, a.Value.Any())
		}
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a handler whose output includes the given attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{
		w:     h.w,
		level: h.level,
		attrs: merged,
		mu:    h.mu,
	}
}

// WithGroup is accepted but groups are flattened into plain keys.
func (h *Handler) WithGroup(name string) slog.Handler {
	return h
}

func levelString(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "error"
	case l >= slog.LevelWarn:
		return "warn"
	case l >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}
