package observability

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := LogConfig{
		Level:  "info",
		Format: "json",
		Output: &buf,
	}

	logger := NewLogger(cfg)
	logger.Info("test message", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("expected log to contain message, got: %s", output)
	}
	if !strings.Contains(output, `"key":"value"`) {
		t.Errorf("expected log to contain key-value, got: %s", output)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	cfg := LogConfig{
		Level:  "debug",
		Format: "text",
		Output: &buf,
	}

	logger := NewLogger(cfg)
	logger.Debug("debug message")

	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected log to contain message, got: %s", output)
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := LogConfig{
		Level:  "warn",
		Format: "json",
		Output: &buf,
	}

	logger := NewLogger(cfg)
	logger.Info("info message")  // Should be filtered
	logger.Warn("warn message")  // Should appear

	output := buf.String()
	if strings.Contains(output, "info message") {
		t.Errorf("info should be filtered at warn level, got: %s", output)
	}
	if !strings.Contains(output, "warn message") {
		t.Errorf("warn should appear, got: %s", output)
	}
}

func TestRequestID(t *testing.T) {
	id1 := RequestID()
	id2 := RequestID()

	if id1 == id2 {
		t.Error("request IDs should be unique")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("RequestID %q is not a UUID: %v", id1, err)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()

	// No ID initially
	if id := RequestIDFromContext(ctx); id != "" {
		t.Errorf("expected empty ID, got: %s", id)
	}

	// Add ID
	ctx = WithRequestID(ctx, "test-request-id")
	if id := RequestIDFromContext(ctx); id != "test-request-id" {
		t.Errorf("expected 'test-request-id', got: %s", id)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerContext(t *testing.T) {
	ctx := context.Background()

	// Default logger if not in context
	logger := LoggerFromContext(ctx)
	if logger == nil {
		t.Error("expected default logger")
	}

	// Custom logger
	var buf bytes.Buffer
	custom := NewLogger(LogConfig{Output: &buf})
	ctx = WithLogger(ctx, custom)

	got := LoggerFromContext(ctx)
	got.Info("test")

	if buf.Len() == 0 {
		t.Error("expected log from custom logger")
	}
}
