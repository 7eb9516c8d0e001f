package app

import (
	"io"
	"log/slog"

	"github.com/lmittmann/tint"

	"github.com/vk/rigrunner/internal/masker"
)

// newLogger creates a configured slog.Logger. It does not set the global
// logger, allowing for isolated logger instances. Every handler is wrapped
// in the masker so a registered secret can never reach the output, whatever
// the format.
func newLogger(levelStr, formatStr string, outW io.Writer, m *masker.Masker) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(outW, &tint.Options{Level: level})
	}

	return slog.New(masker.NewHandler(handler, m))
}
