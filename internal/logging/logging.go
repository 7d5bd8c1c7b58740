package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel   = "VISAGE_LOG_LEVEL"
	EnvLogNoColor = "VISAGE_LOG_NOCOLOR"
)

// Options configures New.
type Options struct {
	App     string
	Level   string // overridden by VISAGE_LOG_LEVEL
	Out     io.Writer
	NoColor bool
}

// New builds a console logger and installs it as the global zerolog logger.
func New(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogNoColor)); v != "" && v != "0" && v != "false" {
		opts.NoColor = true
	}

	level := ParseLevel(opts.Level)
	if env, ok := lookupLevel(os.Getenv(EnvLogLevel)); ok {
		level = env
	}

	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}
	logger := zerolog.New(output).Level(level).With().Timestamp().Str("app", opts.App).Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(raw string) zerolog.Level {
	if lvl, ok := lookupLevel(raw); ok {
		return lvl
	}
	return zerolog.InfoLevel
}

func lookupLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
