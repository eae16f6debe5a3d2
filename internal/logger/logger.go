// Package logger builds the zerolog loggers used across the module
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Log formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Config selects the level and format of a logger
type Config struct {
	Level   string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format  string `mapstructure:"format" validate:"omitempty,oneof=console json"`
	NoColor bool   `mapstructure:"no_color"`
}

// ParseLevel converts a level name into a zerolog level. The empty string is info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disabled", "off":
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("invalid log level %q", level)
}

// New creates a logger writing to w, or to stderr when w is nil
func New(cfg Config, w io.Writer) (zerolog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, NoColor: cfg.NoColor, TimeFormat: time.TimeOnly}
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", cfg.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
