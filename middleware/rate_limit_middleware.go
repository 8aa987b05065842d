package middleware

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware throttles inbound dispatch using a token bucket.
//
// Tokens are added at rate r per second, up to a burst size. Each call
// consumes one token; if the bucket is empty the call is rejected. The
// limiter is created in the OUTER closure, once per middleware
// construction — if it were created per-call, every call would see a
// fresh full bucket and the limiter would do nothing.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, d *Dispatch) *Dispatch {
			if !limiter.Allow() {
				return &Dispatch{Method: d.Method, Err: "rate limit exceeded"}
			}
			return next(ctx, d)
		}
	}
}
