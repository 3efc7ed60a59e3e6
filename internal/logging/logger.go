package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/mfafarm/internal/config"
)

// NewLogger creates a structured JSON logger on stdout carrying the service
// and node names.
func NewLogger(cfg *config.Config) zerolog.Logger {
	return newLogger(cfg, os.Stdout)
}

// NewConsoleLogger creates a human-readable logger on w, for interactive
// tools whose stdout carries command output.
func NewConsoleLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return newLogger(cfg, zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.TimeOnly})
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.NodeName != "" {
		ctx = ctx.Str("node", cfg.NodeName)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return ctx.Logger().Level(level)
}
