// Package logging is the structured logging facade used throughout this
// module: a thin wrapper over log/slog, grounded on the pack's own
// slog-based facades (rzbill-flo/pkg/log, sevenDatabase-SevenDB/internal/logging)
// rather than a bespoke logging system.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New builds a JSON-handler slog.Logger writing to w at the given level.
// A nil w defaults to os.Stderr.
func New(level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Nop returns a logger that discards everything; safe default for
// collaborators that accept an optional *slog.Logger.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Component tags every record the returned logger emits with a
// "component" attribute, mirroring the pack's WithComponent convention.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = Nop()
	}
	return base.With(slog.String("component", name))
}

// OrNop returns logger unchanged, or a discarding logger if logger is nil.
// Selectors and drivers that take an optional logger call this once at
// construction so call sites never need a nil check.
func OrNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Nop()
	}
	return logger
}
