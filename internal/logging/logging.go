// Package logging builds the zerolog logger used by the replay tool.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. Format is "console" or "json".
func New(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var out io.Writer
	switch format {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json":
		out = w
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(out).
		With().Timestamp().Logger().
		Level(lvl), nil
}

// Stderr is New writing to os.Stderr. Replay output goes to stdout, so
// diagnostics never mix with it.
func Stderr(level, format string) (zerolog.Logger, error) {
	return New(os.Stderr, level, format)
}

// ParseLevel maps a level name to a zerolog level. The empty string means info.
func ParseLevel(level string) (zerolog.Level, error) {
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return lvl, nil
}
