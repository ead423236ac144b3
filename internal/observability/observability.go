// Package observability provides the structured logger and request
// correlation helpers shared by the edge packages.
//
// Log lines never include token text or key material; the gateway logs
// decision reasons and token ids only.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// contextKey is a custom type to avoid context key collisions.
type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
)

// LogConfig configures the structured logger.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string

	// Format is the output format (json, text)
	Format string

	// Output is where logs are written (defaults to stdout)
	Output io.Writer

	// AddSource adds source file/line to log entries
	AddSource bool
}

// DefaultLogConfig returns defaults for production.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:     "info",
		Format:    "json",
		Output:    os.Stdout,
		AddSource: false,
	}
}

// ParseLevel maps a level name to a slog.Level. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a configured slog.Logger: JSON for aggregation, text
// for local development.
func NewLogger(cfg LogConfig) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(cfg.Output, opts)
	default:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}

	return slog.New(handler)
}

// RequestID generates a new request correlation id (UUID v4).
func RequestID() string {
	return uuid.NewString()
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext extracts the logger from context.
// Returns the default logger if not present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if v, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return v
	}
	return slog.Default()
}
