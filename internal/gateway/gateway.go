// Package gateway decides, at the edge, whether a request may reach the
// origin and mints a session token when the origin reports a successful
// login.
//
// The gateway runs on two legs of every request/response cycle:
//
//	viewer ──request──▶ [HandleRequest] ──▶ origin
//	viewer ◀─response── [HandleResponse] ◀── origin
//
// Request leg:
//  1. Same-origin bypass: a Referer containing the edge host passes through
//  2. Extract one token (bearer header, then cookie, then query parameter)
//  3. Verify signature and time claims
//  4. Forward with any "jwt" query parameter removed
//
// Every failure in steps 2-3 yields the same 401 response. The reason is
// logged and counted, never returned to the caller.
//
// Response leg: an "OK" origin response gets a freshly minted token as a
// cookie and as an authorization header. Nothing else is touched and this
// leg never rejects.
//
// A Gateway holds only immutable configuration and is safe for concurrent
// use.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tyrauber/sst-maps/internal/token"
)

var (
	ErrNoTokenPresent = errors.New("no token present")
	ErrConfiguration  = errors.New("invalid gateway configuration")
	ErrUnknownLeg     = errors.New("unknown event leg")
)

const (
	// DefaultSessionCookie is the cookie name used when none is configured.
	DefaultSessionCookie = "_sst_maps_session_id"

	// DefaultLifetime is the minted token lifetime when none is configured.
	DefaultLifetime = time.Hour

	// DefaultRole is the role claim of every minted token unless overridden
	// by the configured default claims.
	DefaultRole = "guest"

	// AuthorizationScheme prefixes the minted token in the response header.
	AuthorizationScheme = "BEARER"

	// StrippedQueryParam is removed from every forwarded request.
	StrippedQueryParam = "jwt"
)

// Config is the process-wide gateway configuration. It is copied by New
// and never modified afterwards.
type Config struct {
	// SigningKey is the shared HMAC secret. Required.
	SigningKey []byte

	// SessionCookie names the cookie carrying the token.
	SessionCookie string

	// Lifetime is written to the exp claim in whole seconds.
	Lifetime time.Duration

	// DefaultClaims are merged over the built-in claims of every minted
	// token.
	DefaultClaims token.Claims

	// DistributionHost is used when an event does not carry the edge host.
	DistributionHost string

	// SameOriginBypass lets requests whose Referer contains the edge host
	// through without a token. The Referer header is client controlled, so
	// this only keeps same-site page loads working; it is not
	// authentication.
	SameOriginBypass bool
}

// Outcome is the decision taken for one invocation.
type Outcome int

const (
	OutcomeForward Outcome = iota + 1
	OutcomeBypass
	OutcomeReject
	OutcomeMint
	OutcomePassThrough
)

func (o Outcome) String() string {
	switch o {
	case OutcomeForward:
		return "forward"
	case OutcomeBypass:
		return "bypass"
	case OutcomeReject:
		return "reject"
	case OutcomeMint:
		return "mint"
	case OutcomePassThrough:
		return "pass_through"
	default:
		return "unknown"
	}
}

// Observer receives one call per decision. reason is empty unless the
// outcome is a rejection or a failed mint.
type Observer interface {
	ObserveDecision(leg Leg, outcome Outcome, reason string)
}

// Gateway implements both legs.
type Gateway struct {
	cfg      Config
	signer   *token.Signer
	logger   *slog.Logger
	clock    token.Clock
	newID    func() string
	observer Observer
}

// Option configures optional Gateway features.
type Option func(*Gateway)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock token.Clock) Option {
	return func(g *Gateway) {
		g.clock = clock
	}
}

// WithIDGenerator replaces the jti generator. Defaults to random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) {
		g.newID = fn
	}
}

// WithObserver registers a decision observer such as a metrics collector.
func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		g.observer = o
	}
}

// New validates cfg and returns a Gateway. Any error wraps ErrConfiguration
// and should stop startup.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	signer, err := token.NewSigner(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	if cfg.Lifetime == 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.Lifetime < time.Second {
		return nil, fmt.Errorf("%w: lifetime must be at least 1s, got %v", ErrConfiguration, cfg.Lifetime)
	}
	if !validCookieName(cfg.SessionCookie) {
		return nil, fmt.Errorf("%w: invalid session cookie name %q", ErrConfiguration, cfg.SessionCookie)
	}
	if _, ok := cfg.DefaultClaims[token.ClaimID]; ok {
		return nil, fmt.Errorf("%w: default claims may not set %q", ErrConfiguration, token.ClaimID)
	}

	cfg.SigningKey = nil // held by the signer
	cfg.DefaultClaims = cfg.DefaultClaims.Clone()

	g := &Gateway{
		cfg:    cfg,
		signer: signer,
		logger: slog.Default(),
		clock:  token.SystemClock,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(g)
	}

	// Mint once so that unusable default claims fail here rather than on
	// every login.
	if _, _, err := g.mint("config.check.invalid", time.Unix(0, 0)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	return g, nil
}

// SessionCookie returns the configured cookie name.
func (g *Gateway) SessionCookie() string {
	return g.cfg.SessionCookie
}

// Handle dispatches ev to the leg it names.
func (g *Gateway) Handle(ctx context.Context, ev Event) (Result, error) {
	switch ev.Leg {
	case LegRequest:
		return g.HandleRequest(ctx, ev.Context, ev.Request), nil
	case LegResponse:
		return g.HandleResponse(ctx, ev.Context, ev.Response), nil
	default:
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownLeg, ev.Leg)
	}
}

// HandleRequest runs the request leg. req is not modified; a forwarded
// request is always a copy.
func (g *Gateway) HandleRequest(ctx context.Context, ec EventContext, req *Request) Result {
	logger := g.logger.With("request_id", ec.RequestID, "leg", LegRequest.String())
	host := g.host(ec)

	if req == nil {
		return g.reject(ctx, logger, ErrNoTokenPresent, SourceNone)
	}

	if g.sameOrigin(req, host) {
		g.logBypass(ctx, logger, req, host)
		g.observe(LegRequest, OutcomeBypass, "")
		return Result{Outcome: OutcomeBypass, Request: req.Clone()}
	}

	raw, source, err := Extract(req, g.cfg.SessionCookie)
	if err != nil {
		return g.reject(ctx, logger, err, source)
	}

	tok, err := token.Decode(raw, g.signer, g.clock)
	if err != nil {
		return g.reject(ctx, logger, err, source)
	}

	fwd := req.Clone()
	if fwd.Query != nil {
		fwd.Query.Del(StrippedQueryParam)
	}

	logger.DebugContext(ctx, "token verified",
		"source", source.String(),
		"role", tok.Claims.String(token.ClaimRole),
		"jti", tok.Claims.String(token.ClaimID),
	)
	g.observe(LegRequest, OutcomeForward, "")
	return Result{Outcome: OutcomeForward, Request: fwd}
}

// HandleResponse runs the response leg. Responses that are not "OK" are
// returned unchanged (as a copy); successful ones carry a new token.
func (g *Gateway) HandleResponse(ctx context.Context, ec EventContext, resp *Response) Result {
	logger := g.logger.With("request_id", ec.RequestID, "leg", LegResponse.String())

	if resp == nil || !resp.Succeeded() {
		g.observe(LegResponse, OutcomePassThrough, "")
		return Result{Outcome: OutcomePassThrough, Response: resp.Clone()}
	}

	host := g.host(ec)
	text, claims, err := g.mint(host, g.clock())
	if err != nil {
		// New has already minted once with the same configuration, so this
		// is not expected; the response still goes out untouched.
		logger.ErrorContext(ctx, "token mint failed", "error", err)
		g.observe(LegResponse, OutcomePassThrough, "mint_failed")
		return Result{Outcome: OutcomePassThrough, Response: resp.Clone()}
	}

	out := resp.Clone()
	if out.Headers == nil {
		out.Headers = make(http.Header)
	}
	dropSetCookie(out.Headers, g.cfg.SessionCookie)
	out.Cookies = setCookie(out.Cookies, g.sessionCookie(text, host, claims))
	out.Headers.Set("Authorization", AuthorizationScheme+" "+text)

	logger.DebugContext(ctx, "token minted",
		"host", host,
		"role", claims.String(token.ClaimRole),
		"jti", claims.String(token.ClaimID),
	)
	g.observe(LegResponse, OutcomeMint, "")
	return Result{Outcome: OutcomeMint, Response: out}
}

// Unauthorized returns the fixed rejection response. It is identical for
// every failure reason.
func Unauthorized() *Response {
	return &Response{
		StatusCode:        http.StatusUnauthorized,
		StatusDescription: "Unauthorized",
		Headers:           http.Header{"Www-Authenticate": {"Bearer"}},
	}
}

// Reason maps a request-leg error to a stable label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoTokenPresent):
		return "no_token"
	case errors.Is(err, token.ErrMalformedToken):
		return "malformed"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "signature"
	case errors.Is(err, token.ErrTokenNotYetActive):
		return "not_yet_active"
	case errors.Is(err, token.ErrTokenExpired):
		return "expired"
	default:
		return "other"
	}
}

func (g *Gateway) reject(ctx context.Context, logger *slog.Logger, err error, source Source) Result {
	reason := Reason(err)
	logger.InfoContext(ctx, "request rejected",
		"reason", reason,
		"source", source.String(),
		"error", err,
	)
	g.observe(LegRequest, OutcomeReject, reason)
	return Result{Outcome: OutcomeReject, Response: Unauthorized()}
}

// mint builds and signs the claims for a new session.
//
// Built-in claims come first and the configured default claims override
// them. jti is always generated here.
func (g *Gateway) mint(host string, now time.Time) (string, token.Claims, error) {
	builtin := token.Claims{
		token.ClaimRole:      DefaultRole,
		token.ClaimIssuedAt:  now.Unix(),
		token.ClaimExpiresIn: int64(g.cfg.Lifetime / time.Second),
		token.ClaimIssuer:    host,
		token.ClaimAudience:  host,
	}
	claims := builtin.Merge(g.cfg.DefaultClaims)
	claims[token.ClaimID] = g.newID()

	text, err := token.Encode(token.DefaultHeader(), claims, g.signer)
	if err != nil {
		return "", nil, err
	}
	// Reject default claims that would produce a token the request leg
	// cannot read back.
	if _, _, err := claims.ExpiresAt(); err != nil {
		return "", nil, err
	}
	if _, _, err := claims.NotBefore(); err != nil {
		return "", nil, err
	}
	return text, claims, nil
}

// sessionCookie builds the cookie carrying a minted token. Expires follows
// the token's own iat+exp so cookie and token age out together.
func (g *Gateway) sessionCookie(text, host string, claims token.Claims) *http.Cookie {
	c := &http.Cookie{
		Name:  g.cfg.SessionCookie,
		Value: text,
		Path:  "/",
	}
	if d := cookieDomain(host); d != "" {
		c.Domain = d
	}
	if exp, ok, err := claims.ExpiresAt(); err == nil && ok {
		c.Expires = exp.UTC()
	}
	return c
}

// setCookie replaces any cookie with the same name, or appends.
func setCookie(cookies []*http.Cookie, c *http.Cookie) []*http.Cookie {
	for i, existing := range cookies {
		if existing != nil && existing.Name == c.Name {
			cookies[i] = c
			return cookies
		}
	}
	return append(cookies, c)
}

// dropSetCookie removes raw Set-Cookie lines that set the named cookie.
// Other lines are kept byte for byte.
func dropSetCookie(h http.Header, name string) {
	lines := h.Values("Set-Cookie")
	if len(lines) == 0 {
		return
	}
	kept := lines[:0:0]
	for _, line := range lines {
		if n, _, ok := strings.Cut(line, "="); ok && strings.TrimSpace(n) == name {
			continue
		}
		kept = append(kept, line)
	}
	h.Del("Set-Cookie")
	for _, line := range kept {
		h.Add("Set-Cookie", line)
	}
}

func (g *Gateway) host(ec EventContext) string {
	if ec.DistributionDomainName != "" {
		return ec.DistributionDomainName
	}
	return g.cfg.DistributionHost
}

// sameOrigin reports whether the Referer names the edge host. An empty host
// never matches.
func (g *Gateway) sameOrigin(req *Request, host string) bool {
	if !g.cfg.SameOriginBypass || host == "" {
		return false
	}
	referer := req.Headers.Get("Referer")
	return referer != "" && strings.Contains(referer, host)
}

// logBypass annotates the bypass with claims of any presented token. The
// token is decoded without verification and has no effect on the decision.
func (g *Gateway) logBypass(ctx context.Context, logger *slog.Logger, req *Request, host string) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	attrs := []any{"host", host}
	if raw, source, err := Extract(req, g.cfg.SessionCookie); err == nil {
		attrs = append(attrs, "source", source.String())
		if tok, err := token.DecodeUnverified(raw); err == nil {
			attrs = append(attrs, "unverified_role", tok.Claims.String(token.ClaimRole))
		}
	}
	logger.DebugContext(ctx, "same-origin bypass", attrs...)
}

func (g *Gateway) observe(leg Leg, outcome Outcome, reason string) {
	if g.observer != nil {
		g.observer.ObserveDecision(leg, outcome, reason)
	}
}

// cookieDomain drops any port from host.
func cookieDomain(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func validCookieName(name string) bool {
	c := &http.Cookie{Name: name, Value: "x"}
	return c.Valid() == nil
}
