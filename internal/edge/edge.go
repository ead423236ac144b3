// Package edge hosts the gateway in front of a single origin over plain
// HTTP, playing the part of the CDN: it runs the request leg, forwards
// admitted requests, then runs the response leg on what the origin sends
// back.
//
// Flow for a path under the protected prefix:
//
//	client ──▶ ServeHTTP ──▶ gateway.HandleRequest ──reject──▶ 401
//	                               │ forward / bypass
//	                               ▼
//	                          origin RoundTrip
//	                               │
//	client ◀── write ◀── gateway.HandleResponse
//
// Paths outside the prefix are proxied without touching either leg.
package edge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tyrauber/sst-maps/internal/gateway"
	"github.com/tyrauber/sst-maps/internal/observability"
)

// DefaultProtectedPrefix is the path prefix both legs apply to.
const DefaultProtectedPrefix = "/v1/"

var ErrInvalidOrigin = errors.New("invalid origin URL")

// OriginRecorder receives one call per origin round trip.
type OriginRecorder interface {
	RecordOrigin(failed bool, latency time.Duration)
}

// Handler is the edge http.Handler.
//
// Thread safety: All methods are safe for concurrent use.
type Handler struct {
	gw        *gateway.Gateway
	origin    *url.URL
	logger    *slog.Logger
	transport http.RoundTripper
	recorder  OriginRecorder
	prefix    string
	host      string

	activeRequests atomic.Int64
}

// Option configures optional Handler features.
type Option func(*Handler)

// WithTransport sets a custom http.RoundTripper for origin requests.
func WithTransport(transport http.RoundTripper) Option {
	return func(h *Handler) {
		h.transport = transport
	}
}

// WithTransportConfig builds a transport from cfg and sets it.
func WithTransportConfig(cfg TransportConfig) Option {
	return func(h *Handler) {
		h.transport = NewTransport(cfg)
	}
}

// WithOriginRecorder enables origin round trip metrics.
func WithOriginRecorder(r OriginRecorder) Option {
	return func(h *Handler) {
		h.recorder = r
	}
}

// WithProtectedPrefix sets the path prefix both legs apply to. An empty
// prefix protects every path.
func WithProtectedPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = prefix
	}
}

// WithDistributionHost fixes the edge host name. Without it the request's
// Host header is used.
func WithDistributionHost(host string) Option {
	return func(h *Handler) {
		h.host = host
	}
}

// New creates an edge handler forwarding to origin.
//
// Example:
//
//	h, err := edge.New(gw, "http://127.0.0.1:9000", logger,
//	    edge.WithOriginRecorder(collector),
//	    edge.WithProtectedPrefix("/v1/"),
//	)
func New(gw *gateway.Gateway, origin string, logger *slog.Logger, opts ...Option) (*Handler, error) {
	if gw == nil {
		return nil, errors.New("edge: nil gateway")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrigin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOrigin, origin)
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		gw:        gw,
		origin:    u,
		logger:    logger,
		transport: NewTransport(DefaultTransportConfig()),
		prefix:    DefaultProtectedPrefix,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.activeRequests.Add(1)
	defer h.activeRequests.Add(-1)

	if !strings.HasPrefix(r.URL.Path, h.prefix) {
		resp, ok := h.roundTrip(w, r, r.Header.Clone(), r.URL.RawQuery)
		if !ok {
			return
		}
		defer resp.Body.Close()
		copyHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	ctx := r.Context()
	ec := gateway.EventContext{
		DistributionDomainName: h.distributionHost(r),
		RequestID:              observability.RequestIDFromContext(ctx),
	}

	// Request leg
	res := h.gw.HandleRequest(ctx, ec, fromHTTPRequest(r))
	if res.Outcome == gateway.OutcomeReject {
		writeRejection(w, res.Response)
		return
	}

	rawQuery := r.URL.RawQuery
	if res.Outcome == gateway.OutcomeForward {
		rawQuery = stripQueryParam(rawQuery, gateway.StrippedQueryParam)
	}
	resp, ok := h.roundTrip(w, r, outboundHeader(res.Request), rawQuery)
	if !ok {
		return
	}
	defer resp.Body.Close()

	// Response leg
	out := h.gw.HandleResponse(ctx, ec, fromHTTPResponse(resp))
	applyResponse(w.Header(), out.Response)
	w.WriteHeader(resp.StatusCode)

	bytesCopied, _ := io.Copy(w, resp.Body)
	h.logger.DebugContext(ctx, "edge request",
		"request_id", ec.RequestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", resp.StatusCode,
		"outcome", out.Outcome.String(),
		"bytes", bytesCopied,
	)
}

// ActiveRequests returns the number of requests currently being processed.
func (h *Handler) ActiveRequests() int64 {
	return h.activeRequests.Load()
}

// roundTrip sends the request to the origin. On failure it has already
// written a 502 or 504 and returns false.
func (h *Handler) roundTrip(w http.ResponseWriter, r *http.Request, header http.Header, rawQuery string) (*http.Response, bool) {
	start := time.Now()
	resp, err := h.transport.RoundTrip(h.cloneRequest(r, header, rawQuery))
	if h.recorder != nil {
		h.recorder.RecordOrigin(err != nil, time.Since(start))
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "origin request failed",
			"origin", h.origin.Host,
			"path", r.URL.Path,
			"error", err,
		)
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "Gateway Timeout", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		}
		return nil, false
	}
	return resp, true
}

// cloneRequest creates the outbound copy of r for the origin.
//
// Modifications made:
// - URL scheme and host point at the origin, query replaced by rawQuery
// - Host set to the origin host
// - Headers replaced by header, minus hop-by-hop headers
// - RequestURI cleared (required by http.RoundTripper)
func (h *Handler) cloneRequest(r *http.Request, header http.Header, rawQuery string) *http.Request {
	outReq := r.Clone(r.Context())

	outReq.URL = &url.URL{
		Scheme:   h.origin.Scheme,
		Host:     h.origin.Host,
		Path:     singleJoiningSlash(h.origin.Path, r.URL.Path),
		RawQuery: rawQuery,
	}
	outReq.Host = h.origin.Host
	outReq.RequestURI = ""
	outReq.Header = header
	removeHopByHopHeaders(outReq.Header)
	outReq.Close = false

	return outReq
}

func (h *Handler) distributionHost(r *http.Request) string {
	if h.host != "" {
		return h.host
	}
	return r.Host
}

// fromHTTPRequest converts r to the gateway's view. Cookies are split out
// of the header so the gateway sees each one once.
func fromHTTPRequest(r *http.Request) *gateway.Request {
	header := r.Header.Clone()
	header.Del("Cookie")
	return &gateway.Request{
		Method:  r.Method,
		URI:     r.URL.Path,
		Headers: header,
		Cookies: r.Cookies(),
		Query:   r.URL.Query(),
	}
}

// outboundHeader rebuilds the header sent to the origin, folding the
// request's cookies back into a single Cookie header.
func outboundHeader(req *gateway.Request) http.Header {
	header := req.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if len(req.Cookies) > 0 {
		parts := make([]string, 0, len(req.Cookies))
		for _, c := range req.Cookies {
			if c == nil {
				continue
			}
			parts = append(parts, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
		}
		header.Set("Cookie", strings.Join(parts, "; "))
	}
	return header
}

// fromHTTPResponse converts the origin response to the gateway's view. The
// status description is the reason phrase the origin actually sent. Origin
// Set-Cookie lines stay raw in the headers so they are relayed unchanged.
func fromHTTPResponse(resp *http.Response) *gateway.Response {
	return &gateway.Response{
		StatusCode:        resp.StatusCode,
		StatusDescription: reasonPhrase(resp),
		Headers:           resp.Header.Clone(),
	}
}

// reasonPhrase extracts "OK" from a status such as "200 OK".
func reasonPhrase(resp *http.Response) string {
	code := strconv.Itoa(resp.StatusCode)
	if phrase, ok := strings.CutPrefix(resp.Status, code); ok {
		return strings.TrimSpace(phrase)
	}
	return strings.TrimSpace(resp.Status)
}

// applyResponse writes the gateway's response headers and cookies into dst.
func applyResponse(dst http.Header, resp *gateway.Response) {
	if resp == nil {
		return
	}
	copyHeaders(dst, resp.Headers)
	for _, c := range resp.Cookies {
		if c == nil {
			continue
		}
		if v := c.String(); v != "" {
			dst.Add("Set-Cookie", v)
		}
	}
}

// writeRejection writes the fixed 401 response.
func writeRejection(w http.ResponseWriter, resp *gateway.Response) {
	copyHeaders(w.Header(), resp.Headers)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.StatusDescription)
}

// stripQueryParam removes every name=value pair for name from raw and keeps
// the remaining pairs in their original order and encoding.
func stripQueryParam(raw, name string) string {
	if raw == "" {
		return raw
	}
	pairs := strings.Split(raw, "&")
	kept := pairs[:0]
	for _, p := range pairs {
		key, _, _ := strings.Cut(p, "=")
		if k, err := url.QueryUnescape(key); err == nil && k == name {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, "&")
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

// copyHeaders copies headers from src to dst, skipping hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// Hop-by-hop headers are connection-specific and shouldn't be forwarded.
// https://developer.mozilla.org/en-US/docs/Web/HTTP/Headers#hop-by-hop_headers
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func isHopByHopHeader(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(header, h) {
			return true
		}
	}
	return false
}

func removeHopByHopHeaders(header http.Header) {
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
}
