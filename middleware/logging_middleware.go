package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opensrf-go/opensrf/obslog"
)

// LoggingMiddleware records the method name, duration, and any error for
// each dispatched call.
func LoggingMiddleware(log *obslog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, d *Dispatch) *Dispatch {
			start := time.Now()

			result := next(ctx, d)

			duration := time.Since(start)
			if result.Err != "" {
				log.Warn("call failed",
					zap.String("method", d.Method), zap.Duration("duration", duration), zap.String("error", result.Err))
			} else {
				log.Debug("call completed",
					zap.String("method", d.Method), zap.Duration("duration", duration))
			}
			return result
		}
	}
}
