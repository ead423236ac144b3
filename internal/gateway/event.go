package gateway

import (
	"net/http"
	"net/url"
)

// Leg selects which side of the origin an invocation runs on.
type Leg int

const (
	// LegRequest runs before the request reaches the origin.
	LegRequest Leg = iota + 1
	// LegResponse runs after the origin has produced a response.
	LegResponse
)

func (l Leg) String() string {
	switch l {
	case LegRequest:
		return "request"
	case LegResponse:
		return "response"
	default:
		return "unknown"
	}
}

// EventContext carries per-invocation facts supplied by the edge platform.
type EventContext struct {
	// DistributionDomainName is the edge host the request arrived on. When
	// empty, Config.DistributionHost is used.
	DistributionDomainName string

	// RequestID correlates log lines for one request across both legs.
	RequestID string
}

// Request is the viewer request as seen by the edge.
type Request struct {
	Method  string
	URI     string
	Headers http.Header
	Cookies []*http.Cookie
	Query   url.Values
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := &Request{
		Method:  r.Method,
		URI:     r.URI,
		Headers: r.Headers.Clone(),
		Query:   cloneValues(r.Query),
	}
	if r.Cookies != nil {
		out.Cookies = make([]*http.Cookie, len(r.Cookies))
		for i, c := range r.Cookies {
			cc := *c
			out.Cookies[i] = &cc
		}
	}
	return out
}

// Response is the origin response as seen by the edge, or a response
// generated by the edge itself.
type Response struct {
	StatusCode        int
	StatusDescription string
	Headers           http.Header
	Cookies           []*http.Cookie
}

// Clone returns a deep copy of r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		StatusCode:        r.StatusCode,
		StatusDescription: r.StatusDescription,
		Headers:           r.Headers.Clone(),
	}
	if r.Cookies != nil {
		out.Cookies = make([]*http.Cookie, len(r.Cookies))
		for i, c := range r.Cookies {
			cc := *c
			out.Cookies[i] = &cc
		}
	}
	return out
}

// Succeeded reports whether the origin marked the response "OK". When the
// description is missing it is derived from the status code.
func (r *Response) Succeeded() bool {
	desc := r.StatusDescription
	if desc == "" {
		desc = http.StatusText(r.StatusCode)
	}
	return desc == "OK"
}

// Event is one invocation of the gateway. Leg says which of Request or
// Response is authoritative; the other field may be nil.
type Event struct {
	Leg      Leg
	Context  EventContext
	Request  *Request
	Response *Response
}

// Result is what the edge should do next.
type Result struct {
	Outcome Outcome

	// Request is set when the request should continue to the origin.
	Request *Request

	// Response is set when the edge should answer with it: a rejection on
	// the request leg, or the (possibly augmented) origin response.
	Response *Response
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vv := range v {
		out[k] = append([]string(nil), vv...)
	}
	return out
}
