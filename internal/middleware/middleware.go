// Package middleware contains the HTTP middleware placed in front of the
// rate-limited API: request IDs, client IP resolution, metrics, access logs
// and the rate limit gate itself.
package middleware

import (
	"net/http"
	"slices"
)

// Middleware wraps an http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered list of middleware. The first entry sees the request
// first and the response last.
type Chain []Middleware

// New builds a chain from mws. The slice is copied.
func New(mws ...Middleware) Chain {
	return slices.Clone(Chain(mws))
}

// Then wraps h with every middleware in the chain. A nil h answers 404.
func (c Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for _, mw := range slices.Backward(c) {
		h = mw(h)
	}
	return h
}

// ThenFunc is Then for a plain handler function.
func (c Chain) ThenFunc(fn http.HandlerFunc) http.Handler {
	if fn == nil {
		return c.Then(nil)
	}
	return c.Then(fn)
}

// Append returns a new chain with mws added after c's entries.
func (c Chain) Append(mws ...Middleware) Chain {
	return slices.Concat(c, Chain(mws))
}
