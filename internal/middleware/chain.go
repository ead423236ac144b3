package middleware

import "net/http"

// Middleware is the standard Go middleware signature.
//
//	middleware := func(next http.Handler) http.Handler {
//	    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	        // Before logic
//	        next.ServeHTTP(w, r)
//	        // After logic
//	    })
//	}
type Middleware func(http.Handler) http.Handler

// Chain wraps a handler with multiple middlewares.
//
// Execution order: first middleware in the list executes first (outermost).
//
// Order used by the edge:
//
//	Chain(edgeHandler,
//	    Recovery,   // catches panics from everything below
//	    RequestID,  // id available to logging and to both gateway legs
//	    Logging,    // logs every request, including 401 rejections
//	    Headers,    // X-Forwarded-* for the origin
//	)
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	// Apply in reverse order so first middleware executes first
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
