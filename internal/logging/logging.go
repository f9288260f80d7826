package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phillip-england/clubadmin/internal/config"
)

// NewLogger creates a *slog.Logger writing to stderr and installs it as the
// default logger.
//
// Format "json" produces structured output; anything else produces text with
// source locations. Level is one of debug, info, warn, error.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	logger := New(cfg, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

// New builds a logger writing to w without touching the default logger.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: !strings.EqualFold(cfg.Format, "json"),
	}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Discard is a logger for tests and quiet commands.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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
