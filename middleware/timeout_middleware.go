package middleware

import (
	"context"
	"time"
)

// TimeoutMiddleware enforces a maximum duration for each dispatched call.
// If the handler doesn't complete within the timeout, it returns an error
// immediately.
//
// Implementation:
//  1. Create a context with timeout (ctx.Done() fires when timeout expires)
//  2. Run the next handler in a goroutine, sending its result to a channel
//  3. Select between the result channel and ctx.Done()
//
// The handler goroutine is NOT cancelled when the timeout wins the race —
// it keeps running in the background. True cancellation requires the
// handler to watch ctx.Done() itself.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, d *Dispatch) *Dispatch {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *Dispatch, 1) // buffered so the goroutine never leaks
			go func() {
				done <- next(ctx, d)
			}()

			select {
			case result := <-done:
				return result
			case <-ctx.Done():
				return &Dispatch{Method: d.Method, Err: "request timed out"}
			}
		}
	}
}
