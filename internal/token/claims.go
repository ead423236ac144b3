package token

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Registered claim names used by the edge.
const (
	ClaimRole      = "role"
	ClaimIssuedAt  = "iat"
	ClaimExpiresIn = "exp" // lifetime in seconds after iat
	ClaimNotBefore = "nbf" // absolute, seconds since epoch
	ClaimIssuer    = "iss"
	ClaimAudience  = "aud"
	ClaimID        = "jti"
)

// Claims is the token payload.
type Claims map[string]any

// Clock returns the current wall-clock time.
type Clock func() time.Time

// SystemClock is time.Now.
var SystemClock Clock = time.Now

// Clone returns a shallow copy. Nested values are shared.
func (c Claims) Clone() Claims {
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a new Claims holding c overlaid with each of others in
// order. Later maps win.
func (c Claims) Merge(others ...Claims) Claims {
	out := c.Clone()
	for _, o := range others {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}

// String returns a string claim. Missing or non-string values return "".
func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

// Int64 returns a numeric claim in whole seconds.
//
// JSON numbers, Go integer and float types, and numeric strings are all
// accepted. ok is false when the claim is absent or null.
func (c Claims) Int64(name string) (n int64, ok bool, err error) {
	v, present := c[name]
	if !present || v == nil {
		return 0, false, nil
	}

	switch x := v.(type) {
	case json.Number:
		n, err = numberToInt64(string(x))
	case string:
		n, err = numberToInt64(strings.TrimSpace(x))
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint32:
		n = int64(x)
	case float32:
		n, err = floatToInt64(float64(x))
	case float64:
		n, err = floatToInt64(x)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: claim %q: %v", ErrMalformedToken, name, err)
	}
	return n, true, nil
}

func numberToInt64(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return floatToInt64(f)
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("out of range: %v", f)
	}
	return int64(math.Floor(f)), nil
}

// ExpiresAt returns the absolute expiry, iat + exp seconds. ok is false
// when the token has no exp claim and therefore never expires. A token
// without iat is treated as issued at the epoch.
func (c Claims) ExpiresAt() (t time.Time, ok bool, err error) {
	exp, ok, err := c.Int64(ClaimExpiresIn)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	iat, _, err := c.Int64(ClaimIssuedAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return unixClamped(saturatingAdd(iat, exp)), true, nil
}

// maxUnix is 9999-12-31T23:59:59Z. time.Unix overflows well below
// math.MaxInt64, so expiries are clamped to this.
const maxUnix = 253402300799

func unixClamped(sec int64) time.Time {
	switch {
	case sec > maxUnix:
		sec = maxUnix
	case sec < -maxUnix:
		sec = -maxUnix
	}
	return time.Unix(sec, 0)
}

func saturatingAdd(a, b int64) int64 {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return math.MaxInt64
	case b < 0 && a < math.MinInt64-b:
		return math.MinInt64
	}
	return a + b
}

// NotBefore returns the nbf claim as a time.
func (c Claims) NotBefore() (t time.Time, ok bool, err error) {
	nbf, ok, err := c.Int64(ClaimNotBefore)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	return unixClamped(nbf), true, nil
}

// ValidateClaims checks the time-bound claims against now. Absent claims
// are not an error.
func ValidateClaims(c Claims, now time.Time) error {
	nbf, ok, err := c.NotBefore()
	if err != nil {
		return err
	}
	if ok && now.Before(nbf) {
		return fmt.Errorf("%w: active from %v", ErrTokenNotYetActive, nbf.UTC())
	}

	exp, ok, err := c.ExpiresAt()
	if err != nil {
		return err
	}
	if ok && now.After(exp) {
		return fmt.Errorf("%w: expired at %v", ErrTokenExpired, exp.UTC())
	}
	return nil
}
