// Package logger configures the process-wide zerolog logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Level is one of zerolog's level names
// ("debug", "info", ...); unknown values fall back to info. When console is
// true the human-readable writer is used instead of JSON.
func Init(level string, console bool) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	var writer io.Writer = os.Stderr
	if console {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	log.Logger = zerolog.New(writer).
		Level(parsed).
		With().
		Timestamp().
		Str("service", "newsbrief").
		Logger()
}

// With returns a child logger carrying the given component name.
func With(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
