// Package middleware wraps server-side request handling with cross-cutting
// behavior: logging, rate limiting, response deadlines.
//
// A Middleware wraps a HandlerFunc and returns a new one. The server builds
// the chain once at startup, so per-request cost is just the nested calls.
package middleware

import (
	"context"

	"github.com/njatkinson/callme/protocol"
)

// HandlerFunc processes one request into exactly one response. The innermost
// HandlerFunc is the server's dispatcher; everything around it is middleware.
type HandlerFunc func(ctx context.Context, req *protocol.Request) *protocol.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines multiple middlewares into one.
//
// Chain(A, B, C)(handler) → A(B(C(handler))): the first middleware is the
// outermost, so its before-code runs first and its after-code runs last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
