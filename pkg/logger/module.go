package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/alex-galey/mission-mcp/pkg/config"
	"go.uber.org/fx"
)

// ParseLevel maps a configured level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewBufferFromConfig creates the ring buffer holding recent log lines.
func NewBufferFromConfig(cfg *config.ServerConfig) *RingBuffer {
	return NewRingBuffer(cfg.LogBufferSize)
}

// NewSlogLogger writes to stderr, stdout being reserved for the stdio transport.
func NewSlogLogger(cfg *config.ServerConfig, buffer *RingBuffer) *slog.Logger {
	return newLogger(os.Stderr, cfg, buffer)
}

func newLogger(w io.Writer, cfg *config.ServerConfig, buffer *RingBuffer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.LogLevel),
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	if buffer != nil {
		handler = newBufferingHandler(handler, buffer)
	}

	return slog.New(handler)
}

var Module = fx.Module("logger",
	fx.Provide(NewBufferFromConfig),
	fx.Provide(NewSlogLogger),
)
