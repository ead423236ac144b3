// Package token implements the compact session token minted and verified at
// the edge.
//
// Tokens use the JSON Web Token compact layout, built from standard library
// primitives (crypto/hmac, encoding/base64, encoding/json):
//
//	Header.Payload.Signature (each part is unpadded base64url)
//
//	Header:    {"alg": "HS256", "typ": "JWT"}
//	Payload:   {"role": "guest", "iat": 1700000000, "exp": 3600, "iss": "d1.cloudfront.net", ...}
//	Signature: HMAC-SHA256 over "header.payload"
//
// The exp claim is a lifetime in seconds counted from iat, not an absolute
// timestamp. Tokens already issued by the edge rely on this, so it must not
// be changed to the RFC 7519 meaning.
//
// All functions are safe for concurrent use. A Signer is immutable once
// created.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrSignatureInvalid  = errors.New("signature verification failed")
	ErrTokenNotYetActive = errors.New("token not yet active")
	ErrTokenExpired      = errors.New("token expired")
	ErrMissingKey        = errors.New("signing key not configured")
)

// Algorithm identifies the signing construction named in the header.
type Algorithm string

// AlgHS256 is the only algorithm minted. Verification does not trust the
// header's alg field; the signature is always checked with HS256.
const AlgHS256 Algorithm = "HS256"

// TypeJWT is the fixed typ header value.
const TypeJWT = "JWT"

const separator = "."

// Header is the first token segment.
type Header struct {
	Algorithm Algorithm `json:"alg"`
	Type      string    `json:"typ"`
}

// DefaultHeader returns the header used for every minted token.
func DefaultHeader() Header {
	return Header{Algorithm: AlgHS256, Type: TypeJWT}
}

// Token is a decoded token. Values are never modified after decoding.
type Token struct {
	Header Header
	Claims Claims
	Raw    string
}

// Encode serializes header and claims and signs them.
//
// encoding/json writes map keys in sorted order, so the output is a
// deterministic function of the inputs and the key.
func Encode(header Header, claims Claims, s *Signer) (string, error) {
	if s == nil {
		return "", ErrMissingKey
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}

	signingInput := base64URLEncode(headerJSON) + separator + base64URLEncode(claimsJSON)
	return signingInput + separator + s.Sign(signingInput), nil
}

// Decode splits, verifies and parses a token, then validates its time
// claims against clock.
//
// The signature is checked on the raw segments before either of them is
// base64 or JSON decoded, so any change to a segment of a valid token is
// reported as ErrSignatureInvalid.
func Decode(text string, s *Signer, clock Clock) (*Token, error) {
	if s == nil {
		return nil, ErrMissingKey
	}

	parts, err := split(text)
	if err != nil {
		return nil, err
	}

	signingInput := parts[0] + separator + parts[1]
	if !s.Verify(signingInput, parts[2]) {
		return nil, ErrSignatureInvalid
	}

	tok, err := parse(text, parts)
	if err != nil {
		return nil, err
	}

	if clock == nil {
		clock = SystemClock
	}
	if err := ValidateClaims(tok.Claims, clock()); err != nil {
		return nil, err
	}
	return tok, nil
}

// DecodeUnverified parses a token without checking its signature or time
// claims. The result is attacker controlled and must only be used where the
// caller has already decided to trust the request by other means.
func DecodeUnverified(text string) (*Token, error) {
	parts, err := split(text)
	if err != nil {
		return nil, err
	}
	return parse(text, parts)
}

// split enforces exactly three dot separated segments.
func split(text string) ([]string, error) {
	if n := strings.Count(text, separator); n != 2 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, n+1)
	}
	return strings.Split(text, separator), nil
}

func parse(text string, parts []string) (*Token, error) {
	headerJSON, err := base64URLDecode(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}

	claimsJSON, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	claims, err := parseClaims(claimsJSON)
	if err != nil {
		return nil, err
	}

	return &Token{Header: header, Claims: claims, Raw: text}, nil
}

// parseClaims keeps numbers as json.Number so large timestamps are not
// rounded through float64.
func parseClaims(data []byte) (Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var claims Claims
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedToken)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrMalformedToken)
	}
	return claims, nil
}

// base64URLEncode encodes without '=' padding.
func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// base64URLDecode accepts segments with or without trailing padding.
func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
