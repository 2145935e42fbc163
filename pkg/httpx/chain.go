// Package httpx holds the HTTP plumbing shared by tokengate handlers:
// middleware chaining, bearer authentication, rate limiting and JSON
// responses.
package httpx

import "net/http"

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain wraps h so that mws run in the order given: the first middleware
// sees the request first.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
