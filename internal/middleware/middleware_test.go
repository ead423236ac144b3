package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tyrauber/sst-maps/internal/observability"
)

func TestChain(t *testing.T) {
	// Track execution order
	order := []string{}

	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-before")
			next.ServeHTTP(w, r)
			order = append(order, "m1-after")
		})
	}

	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-before")
			next.ServeHTTP(w, r)
			order = append(order, "m2-after")
		})
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	chained := Chain(handler, m1, m2)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	chained.ServeHTTP(rec, req)

	expected := []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %s, got %s", i, v, order[i])
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Unauthorized"))
	})

	logged := Chain(handler, RequestID(func() string { return "req-1" }), Logging(logger))

	req := httptest.NewRequest("GET", "/v1/tiles/a.pbf?token=secret-token", nil)
	req.Header.Set("User-Agent", "test-agent")
	rec := httptest.NewRecorder()

	logged.ServeHTTP(rec, req)

	logOutput := buf.String()
	expectedFields := []string{
		`"request_id":"req-1"`,
		`"method":"GET"`,
		`"path":"/v1/tiles/a.pbf"`,
		`"status":401`,
		`"bytes":12`,
		`"user_agent":"test-agent"`,
	}
	for _, field := range expectedFields {
		if !strings.Contains(logOutput, field) {
			t.Errorf("log missing field: %s\nlog: %s", field, logOutput)
		}
	}
	if strings.Contains(logOutput, "secret-token") {
		t.Errorf("query credentials leaked into log: %s", logOutput)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	recovered := Recovery(logger)(handler)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	recovered.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "panic recovered") {
		t.Errorf("expected panic log, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "test panic") {
		t.Errorf("expected panic message in log, got: %s", logOutput)
	}
}

func TestHeadersMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Forwarded-For"); got != "192.168.1.100" {
			t.Errorf("X-Forwarded-For = %q", got)
		}
		if got := r.Header.Get("X-Real-IP"); got != "192.168.1.100" {
			t.Errorf("X-Real-IP = %q", got)
		}
		if got := r.Header.Get("X-Forwarded-Host"); got != "maps.example.com" {
			t.Errorf("X-Forwarded-Host = %q", got)
		}
		if got := r.Header.Get("X-Forwarded-Proto"); got != "http" {
			t.Errorf("X-Forwarded-Proto = %q", got)
		}
		w.WriteHeader(http.StatusOK)
	})

	withHeaders := Headers()(handler)

	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "maps.example.com"
	req.RemoteAddr = "192.168.1.100:12345"
	rec := httptest.NewRecorder()

	withHeaders.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHeadersMiddlewareAppends(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		xff := r.Header.Get("X-Forwarded-For")
		if xff != "10.0.0.1, 192.168.1.100" {
			t.Errorf("X-Forwarded-For = %q", xff)
		}
		w.WriteHeader(http.StatusOK)
	})

	withHeaders := Headers()(handler)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	req.RemoteAddr = "192.168.1.100:12345"
	rec := httptest.NewRecorder()

	withHeaders.ServeHTTP(rec, req)
}

func TestRequestIDMiddleware(t *testing.T) {
	generated := "test-uuid-123"
	generator := func() string { return generated }

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") != generated {
			t.Errorf("expected request ID %s, got %s", generated, r.Header.Get("X-Request-ID"))
		}
		if got := observability.RequestIDFromContext(r.Context()); got != generated {
			t.Errorf("context request ID = %q, want %q", got, generated)
		}
		w.WriteHeader(http.StatusOK)
	})

	withRequestID := RequestID(generator)(handler)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	withRequestID.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-ID") != generated {
		t.Errorf("expected response ID %s, got %s", generated, rec.Header().Get("X-Request-ID"))
	}

	// Existing ID is preserved
	existingID := "existing-id"
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", existingID)
	rec = httptest.NewRecorder()

	preserveHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") != existingID {
			t.Errorf("expected preserved ID %s, got %s", existingID, r.Header.Get("X-Request-ID"))
		}
	})

	RequestID(generator)(preserveHandler).ServeHTTP(rec, req)
}

func TestRequestIDDefaultGenerator(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.RequestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	RequestID(nil)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if len(seen) != 36 {
		t.Errorf("generated request ID = %q, want a UUID", seen)
	}
}

func TestResponseWriterCapture(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusTeapot) // ignored
		w.Write([]byte("created"))
	})

	var captured *responseWriter
	wrapper := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = wrapResponseWriter(w)
			next.ServeHTTP(captured, r)
		})
	}

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	wrapper(handler).ServeHTTP(rec, req)

	if captured.status != http.StatusCreated {
		t.Errorf("expected status 201, got %d", captured.status)
	}
	if captured.bytes != 7 {
		t.Errorf("expected 7 bytes, got %d", captured.bytes)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "1.1.1.1,2.2.2.2"}, "3.3.3.3:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "4.4.4.4"}, "3.3.3.3:1", "4.4.4.4"},
		{"remote addr", nil, "3.3.3.3:1", "3.3.3.3:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
