// Package middleware implements the onion model middleware chain used to
// wrap a worker's per-request dispatch with cross-cutting concerns (logging,
// timeout, rate limiting) without touching the method handler itself.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(ctx, d) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g. rate limiting)
package middleware

import (
	"context"
	"encoding/json"
)

// Dispatch carries one inbound method call through the middleware chain and
// back out as a result, mirroring what a worker pulls off a REQUEST message
// and sends back as a RESULT.
type Dispatch struct {
	Method string
	Params []json.RawMessage

	Content json.RawMessage
	Err     string
}

// HandlerFunc is the function signature for request handlers. Both the
// method handler and middleware-wrapped handlers share this signature.
type HandlerFunc func(ctx context.Context, d *Dispatch) *Dispatch

// Middleware takes a handler and returns a new handler that wraps it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware, built from
// right to left so the first middleware in the list is the outermost layer.
//
// Example:
//
//	chain := Chain(Logging, Timeout, RateLimit)
//	handler := chain(methodHandler)
//	// Execution: Logging → Timeout → RateLimit → methodHandler → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
