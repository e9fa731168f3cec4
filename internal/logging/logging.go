// Package logging builds the structured logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/neil-agrawal1/react-native-nitro-sound-sub000/internal/config"
)

// ParseLevel maps a configured level name to a slog level; unknown names map to info
func ParseLevel(name string) slog.Level {
	switch name {
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

// New creates a logger from configuration. The returned close function releases the
// log file when output is a path and is a no-op otherwise.
func New(cfg config.LoggingConfig) (*slog.Logger, func() error, error) {
	level := ParseLevel(cfg.Level)

	var (
		output  io.Writer
		closeFn = func() error { return nil }
	)

	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		output = file
		closeFn = file.Close
	}

	return slog.New(newHandler(output, cfg.Format, level)), closeFn, nil
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
