package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opensrf-go/opensrf/errs"
)

// RetryRequest sends method/params and retries with a fresh thread_trace and
// exponential backoff on either form of request timeout: the caller's own
// timeout elapsing with no terminal reply (Recv returns a nil Response and a
// nil error) or the peer's Status(Timeout) keepalive lapse (mapped to
// errs.ErrRequestTimeout). MethodNotFound, ServiceNotFound, and BadResponse
// are never retried — a second attempt cannot change the condition they
// describe.
//
// Retrying lives here on the client rather than as server-side middleware:
// a worker handler is invoked once per REQUEST, so retrying it
// automatically would risk re-running side effects. Retrying is safe only
// from the caller, who knows whether the call was idempotent.
func RetryRequest(ctx context.Context, s *Session, method string, params []json.RawMessage, timeout time.Duration, maxAttempts int, baseDelay time.Duration) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		h, err := s.Request(ctx, method, params)
		if err != nil {
			return nil, err
		}

		resp, err := h.Recv(ctx, timeout)
		switch {
		case err == nil && resp != nil:
			return resp, nil
		case err == nil:
			lastErr = errs.ErrRequestTimeout
		case errs.Is(err, errs.ErrRequestTimeout):
			lastErr = err
		default:
			return nil, err
		}

		if attempt < maxAttempts-1 {
			time.Sleep(baseDelay * time.Duration(1<<attempt))
		}
	}
	return nil, lastErr
}
