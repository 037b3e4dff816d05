package config

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NewLogger builds the process logger from LoggingConfig and installs it
// as the zerolog global so early startup failures share the same sink.
// An unrecognized level falls back to info rather than failing boot.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	// JSON to stdout is the default; "console" is for humans at a terminal.
	var sink io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		sink = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	logger := zerolog.New(sink).
		Level(level).
		With().
		Timestamp().
		Str("service", "entrant").
		Logger()
	log.Logger = logger
	return logger
}
