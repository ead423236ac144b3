package middleware

import (
	"net"
	"net/http"

	"github.com/tyrauber/sst-maps/internal/observability"
)

// Headers returns a middleware that sets proxy headers for the origin.
//
// Headers set:
// - X-Forwarded-For: Client IP (appends to existing if present)
// - X-Forwarded-Proto: http or https
// - X-Forwarded-Host: Original Host header
// - X-Real-IP: Client IP (only if not already set)
func Headers() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractClientIP(r)

			forwarded := ip
			if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
				forwarded = prior + ", " + ip
			}
			r.Header.Set("X-Forwarded-For", forwarded)

			if r.Header.Get("X-Real-IP") == "" {
				r.Header.Set("X-Real-IP", ip)
			}

			if r.Header.Get("X-Forwarded-Host") == "" {
				r.Header.Set("X-Forwarded-Host", r.Host)
			}

			proto := "http"
			if r.TLS != nil {
				proto = "https"
			}
			if r.Header.Get("X-Forwarded-Proto") == "" {
				r.Header.Set("X-Forwarded-Proto", proto)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractClientIP strips the port from RemoteAddr.
func extractClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// RequestID returns a middleware that ensures X-Request-ID exists, echoes
// it on the response and stores it in the request context.
//
// A nil generator uses observability.RequestID.
func RequestID(generator func() string) Middleware {
	if generator == nil {
		generator = observability.RequestID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = generator()
				r.Header.Set("X-Request-ID", requestID)
			}

			w.Header().Set("X-Request-ID", requestID)

			ctx := observability.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
