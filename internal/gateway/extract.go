package gateway

import (
	"strings"
)

// Query parameter names that may carry a token, in lookup order.
const (
	QueryToken  = "token"
	QueryAPIKey = "api_key"
)

// Source identifies where a token was found.
type Source int

const (
	SourceNone Source = iota
	SourceHeader
	SourceCookie
	SourceQuery
)

func (s Source) String() string {
	switch s {
	case SourceHeader:
		return "header"
	case SourceCookie:
		return "cookie"
	case SourceQuery:
		return "query"
	default:
		return "none"
	}
}

// Extract finds the single token to verify for req.
//
// Precedence: Authorization bearer token, then the session cookie named
// cookieName, then the token (or api_key) query parameter. The first
// non-empty candidate wins; the others are ignored even if present.
func Extract(req *Request, cookieName string) (string, Source, error) {
	if req == nil {
		return "", SourceNone, ErrNoTokenPresent
	}

	if tok := bearerToken(req.Headers.Get("Authorization")); tok != "" {
		return tok, SourceHeader, nil
	}

	if tok := cookieToken(req, cookieName); tok != "" {
		return tok, SourceCookie, nil
	}

	if tok := queryToken(req); tok != "" {
		return tok, SourceQuery, nil
	}

	return "", SourceNone, ErrNoTokenPresent
}

// bearerToken strips a leading case-insensitive "Bearer" scheme and the
// whitespace after it. A bare scheme yields no candidate. Values without
// the scheme are returned as-is and left to fail verification.
func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	const scheme = "bearer"
	if strings.EqualFold(v, scheme) {
		return ""
	}
	if len(v) > len(scheme) && strings.EqualFold(v[:len(scheme)], scheme) && isSpace(v[len(scheme)]) {
		v = strings.TrimLeft(v[len(scheme):], " \t")
	}
	return v
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}

func cookieToken(req *Request, name string) string {
	if name == "" {
		return ""
	}
	for _, c := range req.Cookies {
		if c != nil && c.Name == name {
			return c.Value
		}
	}
	return ""
}

func queryToken(req *Request) string {
	if req.Query == nil {
		return ""
	}
	if tok := req.Query.Get(QueryToken); tok != "" {
		return tok
	}
	return req.Query.Get(QueryAPIKey)
}
