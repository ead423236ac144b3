package config

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tyrauber/sst-maps/internal/gateway"
	"github.com/tyrauber/sst-maps/internal/token"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

const minimalConfig = `
server:
  origin: "http://127.0.0.1:9000"
gateway:
  secret_key: "file-secret"
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(writeConfig(t, minimalConfig), env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Gateway.SessionCookie != "_sst_maps_session_id" {
		t.Errorf("session_cookie = %q", cfg.Gateway.SessionCookie)
	}
	if cfg.Gateway.Lifetime != 3600 {
		t.Errorf("lifetime = %d, want 3600", cfg.Gateway.Lifetime)
	}
	if !cfg.BypassEnabled() {
		t.Error("same_origin_bypass should default to true")
	}
	if cfg.Gateway.ProtectedPrefix != "/v1/" {
		t.Errorf("protected_prefix = %q, want /v1/", cfg.Gateway.ProtectedPrefix)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Admin.Enabled {
		t.Error("admin should be disabled by default")
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":8443"
  origin: "https://origin.internal"
gateway:
  secret_key: "s3cret"
  session_cookie: "sess"
  lifetime: 60
  distribution_host: "maps.example.com"
  same_origin_bypass: false
  protected_prefix: "/api/"
  default_claims:
    role: viewer
    exp: "120"
logging:
  level: debug
  format: text
admin:
  enabled: true
origin_transport:
  dial_timeout: 5s
  response_header_timeout: 10s
`)
	cfg, err := load(path, env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.BypassEnabled() {
		t.Error("bypass should be disabled")
	}
	if cfg.Admin.Listen != ":9090" {
		t.Errorf("admin listen = %q, want :9090", cfg.Admin.Listen)
	}

	gc := cfg.GatewayConfig()
	if string(gc.SigningKey) != "s3cret" || gc.SessionCookie != "sess" {
		t.Errorf("gateway config = %+v", gc)
	}
	if gc.Lifetime != time.Minute {
		t.Errorf("lifetime = %v, want 1m", gc.Lifetime)
	}
	if gc.DistributionHost != "maps.example.com" || gc.SameOriginBypass {
		t.Errorf("host/bypass = %q/%v", gc.DistributionHost, gc.SameOriginBypass)
	}
	if gc.DefaultClaims.String(token.ClaimRole) != "viewer" {
		t.Errorf("role = %q", gc.DefaultClaims.String(token.ClaimRole))
	}
	if n, ok, err := gc.DefaultClaims.Int64(token.ClaimExpiresIn); err != nil || !ok || n != 120 {
		t.Errorf("exp = %d, %v, %v; want 120", n, ok, err)
	}

	tc := cfg.TransportConfig()
	if tc.DialTimeout != 5*time.Second || tc.ResponseHeaderTimeout != 10*time.Second {
		t.Errorf("transport = %+v", tc)
	}
	if !tc.DisableCompression {
		t.Error("compression should stay disabled unless enabled")
	}

	lc := cfg.LogConfig()
	if lc.Level != "debug" || lc.Format != "text" {
		t.Errorf("log config = %+v", lc)
	}

	if _, err := gateway.New(gc); err != nil {
		t.Errorf("gateway.New rejected loaded config: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load(writeConfig(t, minimalConfig), env(map[string]string{
		EnvSecretKey: "env-secret",
		EnvSessionID: "env_session",
		EnvPayload:   "{'exp': '3600', 'role': 'admin'}",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Gateway.SecretKey != "env-secret" {
		t.Errorf("secret = %q, want env value", cfg.Gateway.SecretKey)
	}
	if cfg.Gateway.SessionCookie != "env_session" {
		t.Errorf("session cookie = %q", cfg.Gateway.SessionCookie)
	}
	claims := token.Claims(cfg.Gateway.DefaultClaims)
	if claims.String(token.ClaimRole) != "admin" {
		t.Errorf("role = %q", claims.String(token.ClaimRole))
	}
	if n, _, _ := claims.Int64(token.ClaimExpiresIn); n != 3600 {
		t.Errorf("exp = %d, want 3600", n)
	}
}

func TestEnvOnly(t *testing.T) {
	// Origin cannot come from the environment, so env alone is not enough.
	_, err := load("", env(map[string]string{EnvSecretKey: "k"}))
	if !errors.Is(err, gateway.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestEmptyEnvIgnored(t *testing.T) {
	cfg, err := load(writeConfig(t, minimalConfig), env(map[string]string{
		EnvSecretKey: "",
		EnvPayload:   "  ",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.SecretKey != "file-secret" {
		t.Errorf("secret = %q, want file value", cfg.Gateway.SecretKey)
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"json", `{"exp": 3600, "role": "viewer"}`, false},
		{"single quoted", `{'exp': '3600'}`, false},
		{"empty object", `{}`, false},
		{"array", `[1, 2]`, true},
		{"scalar", `"exp"`, true},
		{"null", `null`, true},
		{"broken", `{'exp': `, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePayload(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParsePayload(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{"missing origin", "gateway:\n  secret_key: k\n", nil},
		{"bad origin", "server:\n  origin: \"ftp://x\"\ngateway:\n  secret_key: k\n", nil},
		{"missing secret", "server:\n  origin: \"http://o\"\n", nil},
		{"negative lifetime", minimalConfig + "  lifetime: -5\n", nil},
		{"jti default claim", minimalConfig + "  default_claims:\n    jti: fixed\n", nil},
		{"relative prefix", minimalConfig + "  protected_prefix: v1\n", nil},
		{"admin on server port", minimalConfig + "admin:\n  enabled: true\n  listen: \":8080\"\n", nil},
		{"bad payload env", minimalConfig, map[string]string{EnvPayload: "[1]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeConfig(t, tt.body), env(tt.env))
			if !errors.Is(err, gateway.ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestLoadReadErrors(t *testing.T) {
	if _, err := load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil)); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := load(writeConfig(t, "server: [unclosed"), env(nil)); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestGatewayConfigCopiesClaims(t *testing.T) {
	cfg, err := load(writeConfig(t, minimalConfig+"  default_claims:\n    role: viewer\n"), env(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	gc := cfg.GatewayConfig()
	gc.DefaultClaims[token.ClaimRole] = "admin"
	gc.SigningKey[0] = 'X'

	if cfg.Gateway.DefaultClaims[token.ClaimRole] != "viewer" {
		t.Error("GatewayConfig shares the claims map")
	}
	if cfg.Gateway.SecretKey != "file-secret" {
		t.Error("GatewayConfig shares the key bytes")
	}
}

func TestWatchReportsChange(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan error, 4)
	if err := Watch(ctx, path, logger, func(_ *Config, err error) { changes <- err }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte(minimalConfig+"  lifetime: 60\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case err := <-changes:
		if err != nil {
			t.Errorf("reload err = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
