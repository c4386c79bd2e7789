// Package logger provides a structured zerolog logger for grimoire.
package logger

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Init creates and returns a zerolog.Logger configured with the given log level.
// Supported levels: debug, info, warn, error. Defaults to info.
func Init(level string) zerolog.Logger {
	return zerolog.New(
		zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		},
	).Level(parseLevel(level)).With().Timestamp().Logger()
}

// InitFile returns a logger writing JSON lines to the given file, appending
// if it exists. The interactive console uses this so structured output does
// not interleave with the terminal UI.
func InitFile(level, path string) (zerolog.Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("opening log file %s: %w", path, err)
	}
	return zerolog.New(f).Level(parseLevel(level)).With().Timestamp().Logger(), nil
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
