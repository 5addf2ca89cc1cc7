package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var log = newLogger(os.Stderr, "console", zerolog.InfoLevel)

func newLogger(w io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Init reconfigures the process logger.
// level is a zerolog level name (debug, info, warn, error); unknown values fall back to info.
// format is "json" or "console".
func Init(level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	log = newLogger(os.Stderr, format, lvl)
	if err != nil && level != "" {
		Warn("unknown log_level=%q, using info", level)
	}
}

// SetOutput redirects the process logger, mainly for tests
func SetOutput(w io.Writer) {
	log = log.Output(w)
}

// Zerolog exposes the underlying logger for components that log structured fields
func Zerolog() zerolog.Logger {
	return log
}

// Debug logs verbose diagnostics
func Debug(format string, v ...interface{}) {
	log.Debug().Msgf(format, v...)
}

// Info logs informational messages
func Info(format string, v ...interface{}) {
	log.Info().Msgf(format, v...)
}

// Warn logs warning messages
func Warn(format string, v ...interface{}) {
	log.Warn().Msgf(format, v...)
}

// Error logs error messages
func Error(format string, v ...interface{}) {
	log.Error().Msgf(format, v...)
}

// Fatal logs fatal error messages and exits with status 1
func Fatal(format string, v ...interface{}) {
	log.WithLevel(zerolog.FatalLevel).Msgf(format, v...)
	os.Exit(1)
}
