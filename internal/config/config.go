// Package config loads the edge configuration from YAML and the
// environment.
//
// Example file:
//
//	server:
//	  listen: ":8080"
//	  origin: "http://127.0.0.1:9000"
//	gateway:
//	  secret_key: "change-me"
//	  session_cookie: "_sst_maps_session_id"
//	  lifetime: 3600
//	  default_claims:
//	    role: viewer
//	admin:
//	  enabled: true
//	  listen: ":9090"
//
// JWT_SECRET_KEY, JWT_SESSION_ID and JWT_PAYLOAD override the gateway
// section when set.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tyrauber/sst-maps/internal/edge"
	"github.com/tyrauber/sst-maps/internal/gateway"
	"github.com/tyrauber/sst-maps/internal/observability"
	"github.com/tyrauber/sst-maps/internal/token"
)

// Environment variables read by Load.
const (
	EnvSecretKey = "JWT_SECRET_KEY"
	EnvSessionID = "JWT_SESSION_ID"
	EnvPayload   = "JWT_PAYLOAD"
)

// Config represents the edge configuration.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Gateway         GatewayConfig         `yaml:"gateway"`
	Logging         LoggingConfig         `yaml:"logging"`
	Admin           AdminConfig           `yaml:"admin"`
	OriginTransport OriginTransportConfig `yaml:"origin_transport"`
}

type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string `yaml:"listen"`

	// Origin is the URL requests are forwarded to
	Origin string `yaml:"origin"`
}

// GatewayConfig mirrors gateway.Config in file form.
type GatewayConfig struct {
	SecretKey        string         `yaml:"secret_key"`
	SessionCookie    string         `yaml:"session_cookie"`
	Lifetime         int64          `yaml:"lifetime"` // seconds
	DefaultClaims    map[string]any `yaml:"default_claims"`
	DistributionHost string         `yaml:"distribution_host"`
	SameOriginBypass *bool          `yaml:"same_origin_bypass"` // default true
	ProtectedPrefix  string         `yaml:"protected_prefix"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level"`      // Log level: debug, info, warn, error (default: info)
	Format    string `yaml:"format"`     // Log format: json, text (default: json)
	AddSource bool   `yaml:"add_source"` // Include source file:line in logs (default: false)
}

// AdminConfig controls the admin HTTP endpoint.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable admin endpoint
	Listen  string `yaml:"listen"`  // Address for admin server (e.g., ":9090")
}

// OriginTransportConfig controls HTTP client pooling/timeouts for the origin.
type OriginTransportConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost       int           `yaml:"max_conns_per_host"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	DialKeepAlive         time.Duration `yaml:"dial_keepalive"`
	EnableCompression     bool          `yaml:"enable_compression"`
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}

	if c.Gateway.SessionCookie == "" {
		c.Gateway.SessionCookie = gateway.DefaultSessionCookie
	}
	if c.Gateway.Lifetime == 0 {
		c.Gateway.Lifetime = int64(gateway.DefaultLifetime / time.Second)
	}
	if c.Gateway.SameOriginBypass == nil {
		enabled := true
		c.Gateway.SameOriginBypass = &enabled
	}
	if c.Gateway.ProtectedPrefix == "" {
		c.Gateway.ProtectedPrefix = edge.DefaultProtectedPrefix
	}

	if c.Admin.Enabled && c.Admin.Listen == "" {
		c.Admin.Listen = ":9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Load reads configuration from a YAML file and applies environment
// overrides. An empty path loads from the environment alone.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSecretKey); ok && v != "" {
		c.Gateway.SecretKey = v
	}
	if v, ok := lookup(EnvSessionID); ok && v != "" {
		c.Gateway.SessionCookie = v
	}
	if v, ok := lookup(EnvPayload); ok && strings.TrimSpace(v) != "" {
		claims, err := ParsePayload(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", gateway.ErrConfiguration, EnvPayload, err)
		}
		c.Gateway.DefaultClaims = claims
	}
	return nil
}

// ParsePayload parses a default-claims object. JSON is accepted, and so
// is the single-quoted form used by older deployments:
//
//	{"exp": 3600}
//	{'exp': '3600', 'role': 'viewer'}
func ParsePayload(s string) (map[string]any, error) {
	var claims map[string]any
	if err := yaml.Unmarshal([]byte(s), &claims); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if claims == nil {
		return nil, fmt.Errorf("parse payload: not an object")
	}
	return claims, nil
}

// Validate checks that the configuration is valid. Errors wrap
// gateway.ErrConfiguration.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("%w: server.listen is required", gateway.ErrConfiguration)
	}
	if c.Server.Origin == "" {
		return fmt.Errorf("%w: server.origin is required", gateway.ErrConfiguration)
	}
	u, err := url.Parse(c.Server.Origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server.origin must be an http(s) URL, got %q", gateway.ErrConfiguration, c.Server.Origin)
	}
	if c.Gateway.SecretKey == "" {
		return fmt.Errorf("%w: gateway.secret_key (or %s) is required", gateway.ErrConfiguration, EnvSecretKey)
	}
	if c.Gateway.Lifetime < 1 {
		return fmt.Errorf("%w: gateway.lifetime must be >= 1 second", gateway.ErrConfiguration)
	}
	if _, ok := c.Gateway.DefaultClaims[token.ClaimID]; ok {
		return fmt.Errorf("%w: gateway.default_claims may not set %q", gateway.ErrConfiguration, token.ClaimID)
	}
	if c.Gateway.ProtectedPrefix != "" && !strings.HasPrefix(c.Gateway.ProtectedPrefix, "/") {
		return fmt.Errorf("%w: gateway.protected_prefix must start with /", gateway.ErrConfiguration)
	}
	if c.Admin.Enabled && c.Admin.Listen == c.Server.ListenAddr {
		return fmt.Errorf("%w: admin.listen must differ from server.listen", gateway.ErrConfiguration)
	}
	return nil
}

// BypassEnabled reports whether the same-origin Referer bypass is on.
func (c *Config) BypassEnabled() bool {
	return c.Gateway.SameOriginBypass == nil || *c.Gateway.SameOriginBypass
}

// GatewayConfig converts the file form into the gateway's immutable
// configuration. Key and claims are copied.
func (c *Config) GatewayConfig() gateway.Config {
	return gateway.Config{
		SigningKey:       []byte(c.Gateway.SecretKey),
		SessionCookie:    c.Gateway.SessionCookie,
		Lifetime:         time.Duration(c.Gateway.Lifetime) * time.Second,
		DefaultClaims:    token.Claims(c.Gateway.DefaultClaims).Clone(),
		DistributionHost: c.Gateway.DistributionHost,
		SameOriginBypass: c.BypassEnabled(),
	}
}

// TransportConfig returns the origin transport settings. Zero values are
// filled in by edge.NewTransport.
func (c *Config) TransportConfig() edge.TransportConfig {
	t := c.OriginTransport
	return edge.TransportConfig{
		MaxIdleConns:          t.MaxIdleConns,
		MaxIdleConnsPerHost:   t.MaxIdleConnsPerHost,
		MaxConnsPerHost:       t.MaxConnsPerHost,
		IdleConnTimeout:       t.IdleConnTimeout,
		TLSHandshakeTimeout:   t.TLSHandshakeTimeout,
		ResponseHeaderTimeout: t.ResponseHeaderTimeout,
		DialTimeout:           t.DialTimeout,
		DialKeepAlive:         t.DialKeepAlive,
		DisableCompression:    !t.EnableCompression,
	}
}

// LogConfig returns the logger settings, writing to stdout.
func (c *Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Output:    os.Stdout,
		AddSource: c.Logging.AddSource,
	}
}
