// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Stream events as they arrive (verification ID, step, check token)
//   - Poll attempts and token rotation
//   - Batch failure counts below the warning threshold
//
// Info: Normal operation events
//   - Anti-forgery token acquisition
//   - Batch completion and job summaries
//   - Verifications reaching a terminal step
//   - Cancellation results
//
// Warn: Warning conditions that don't prevent operation
//   - Token refresh after an authorization rejection
//   - Verified-hook failures (result unaffected)
//   - Failure streaks approaching the stop threshold
//
// Error: Error conditions requiring attention
//   - Token acquisition failures (job aborts)
//   - Failure budget exhausted (job stops)
//   - Service rejections of whole batches
//
// Context Fields:
//   - component: emitting component (session, verification-client, runner)
//   - job_id: batch job identifier
//   - verification_id: single verification being processed
//   - step: verification step (pending, success, error)
//   - attempt: status poll attempt number
//   - batch_size: number of IDs in a submission
//   - token_prefix: leading characters of the anti-forgery token
//   - status: HTTP status code or job outcome
//   - consecutive_failures: current failure streak
