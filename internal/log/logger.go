// Package log configures the zerolog base logger of the prowl binary.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the base logger.
type Config struct {
	Level   string    // "debug", "info", ...; defaults to info
	Format  string    // "json" or "console"
	Output  io.Writer // defaults to os.Stderr
	Service string    // attached to every entry; defaults to "prowl"
}

var (
	once sync.Once
	base zerolog.Logger
)

// Configure initialises the base logger exactly once. Later calls are
// ignored.
func Configure(cfg Config) {
	once.Do(func() {
		level := zerolog.InfoLevel
		if cfg.Level != "" {
			if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
				level = parsed
			}
		}
		zerolog.TimeFieldFormat = time.RFC3339

		writer := cfg.Output
		if writer == nil {
			writer = os.Stderr
		}
		if cfg.Format == "console" {
			writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
		}

		service := cfg.Service
		if service == "" {
			service = "prowl"
		}

		base = zerolog.New(writer).Level(level).With().
			Timestamp().
			Str("service", service).
			Logger()
	})
}

func logger() zerolog.Logger {
	Configure(Config{})
	return base
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the component name.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str("component", component).Logger()
}

// Derive attaches arbitrary fields to a child logger.
func Derive(build func(*zerolog.Context)) zerolog.Logger {
	ctx := logger().With()
	if build != nil {
		build(&ctx)
	}
	return ctx.Logger()
}
