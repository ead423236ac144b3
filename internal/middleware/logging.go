package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tyrauber/sst-maps/internal/observability"
)

// responseWriter wraps http.ResponseWriter to capture status code and bytes.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int64
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Unwrap returns the original ResponseWriter.
// Required for http.Flusher, http.Hijacker compatibility.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Logging returns a middleware that logs HTTP requests.
//
// The query string is not logged: the token and api_key parameters carry
// credentials.
//
//	{
//	    "level": "INFO",
//	    "msg": "http request",
//	    "request_id": "0b6f...",
//	    "method": "GET",
//	    "path": "/v1/tiles/world/3/4/2.pbf",
//	    "status": 200,
//	    "duration_ms": 12.5,
//	    "bytes": 1234,
//	    "client_ip": "192.168.1.1"
//	}
func Logging(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			logger.Info("http request",
				"request_id", observability.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", float64(duration.Microseconds())/1000,
				"bytes", wrapped.bytes,
				"client_ip", clientIP(r),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// clientIP extracts the client IP from the request.
//
// Priority:
// 1. X-Forwarded-For header (first IP in list)
// 2. X-Real-IP header
// 3. RemoteAddr
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for i := 0; i < len(xff); i++ {
			if xff[i] == ',' {
				return xff[:i]
			}
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
