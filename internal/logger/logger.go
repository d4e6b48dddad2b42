package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Global logger instance
var (
	Log zerolog.Logger
)

// Initialize sets up the global logger with configuration
func Initialize(level string, pretty bool) {
	// Parse log level
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	// Configure output format
	if pretty {
		// Pretty console output for development
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		// JSON output for production
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	// Set global logger
	Log = log.With().
		Str("service", "relaygate").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("Logger initialized")
}

// GetLogger returns the global logger instance
func GetLogger() *zerolog.Logger {
	return &Log
}

// Security creates a logger for auth/permission events
func Security() *zerolog.Logger {
	l := Log.With().Str("component", "security").Logger()
	return &l
}

// Connection creates a logger for per-connection actor events
func Connection() *zerolog.Logger {
	l := Log.With().Str("component", "connection").Logger()
	return &l
}

// Subscription creates a logger for subscription manager events
func Subscription() *zerolog.Logger {
	l := Log.With().Str("component", "subscription").Logger()
	return &l
}

// RateLimit creates a logger for rate limiter events
func RateLimit() *zerolog.Logger {
	l := Log.With().Str("component", "ratelimit").Logger()
	return &l
}

// Rules creates a logger for rule engine adapter events
func Rules() *zerolog.Logger {
	l := Log.With().Str("component", "rules").Logger()
	return &l
}

// Store creates a logger for store adapter events
func Store() *zerolog.Logger {
	l := Log.With().Str("component", "store").Logger()
	return &l
}

// Audit creates a logger for the audit log writer
func Audit() *zerolog.Logger {
	l := Log.With().Str("component", "audit").Logger()
	return &l
}

// HTTP creates a logger for HTTP request events
func HTTP() *zerolog.Logger {
	l := Log.With().Str("component", "http").Logger()
	return &l
}
