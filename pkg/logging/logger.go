// Package logging provides structured logging for assetsync using zerolog.
// Console output is used when stderr is a terminal and JSON everywhere else.
//
// Example usage:
//
//	logging.Info().Str("source", "http://aas:8080").Msg("Reconciling")
//
//	// Carry cycle fields through a context
//	ctx := logging.WithSource(context.Background(), "http://aas:8080")
//	ctx = logging.WithCycle(ctx, cycleID)
//	logging.FromContext(ctx).Warn().Msg("Submodel lookup returned 404")
package logging

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by the logger installed at init. Unprefixed
// names are accepted as a fallback.
const (
	envLevel  = "ASSETSYNC_LOG_LEVEL"
	envFormat = "ASSETSYNC_LOG_FORMAT"
)

// defaultLogger is the global logger instance.
var defaultLogger zerolog.Logger

func init() {
	durationField()
	defaultLogger = createDefaultLogger()
}

// createDefaultLogger builds the logger used before any configuration is
// loaded, e.g. by library users that never call Configure.
func createDefaultLogger() zerolog.Logger {
	cfg := DefaultConfig()
	cfg.Level = getLogLevel()
	if format := getenv(envFormat, "LOG_FORMAT"); format != "" {
		cfg.Format = format
	}
	return NewLoggerFromConfig(cfg)
}

// Default returns the default global logger.
func Default() *zerolog.Logger {
	return &defaultLogger
}

// SetDefault sets the default global logger.
func SetDefault(logger zerolog.Logger) {
	defaultLogger = logger
	log.Logger = logger
}

// Debug starts a new debug level log event.
func Debug() *zerolog.Event {
	return defaultLogger.Debug()
}

// Info starts a new info level log event.
func Info() *zerolog.Event {
	return defaultLogger.Info()
}

// Warn starts a new warning level log event.
func Warn() *zerolog.Event {
	return defaultLogger.Warn()
}

// Error starts a new error level log event.
func Error() *zerolog.Event {
	return defaultLogger.Error()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// getLogLevel returns the log level from environment or defaults.
func getLogLevel() string {
	if level := getenv(envLevel, "LOG_LEVEL"); level != "" {
		return level
	}
	if os.Getenv("DEBUG") != "" {
		return zerolog.DebugLevel.String()
	}
	return zerolog.InfoLevel.String()
}

func getenv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// durationField renders durations in milliseconds, the unit cycle timings
// are reported in.
func durationField() {
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true
}
