// Package logging builds the slog logger used across the gateway.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls handler format and verbosity. Writer defaults to
// stderr.
type Options struct {
	Level  string
	JSON   bool
	Writer io.Writer
}

// ParseLevel maps a level string to slog.Level, defaulting to info for
// empty or unknown values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func New(opt Options) *slog.Logger {
	w := opt.Writer
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(opt.Level)}

	var h slog.Handler
	if opt.JSON {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	return slog.New(h)
}
