package router

import (
	"context"
	"sync"
	"time"

	"github.com/opensrf-go/opensrf/message"
)

// fakeBus is an in-memory stand-in for a Redis-backed bus.Connection.
type fakeBus struct {
	mu     sync.Mutex
	queues map[string][]message.TransportMessage
}

func newFakeBus() *fakeBus {
	return &fakeBus{queues: make(map[string][]message.TransportMessage)}
}

func (b *fakeBus) Send(ctx context.Context, recipient string, env message.TransportMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[recipient] = append(b.queues[recipient], env)
	return nil
}

func (b *fakeBus) pop(stream string) (*message.TransportMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queues[stream]
	if len(q) == 0 {
		return nil, false
	}
	env := q[0]
	b.queues[stream] = q[1:]
	return &env, true
}

func (b *fakeBus) Recv(ctx context.Context, stream string, timeout time.Duration) (*message.TransportMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		if env, ok := b.pop(stream); ok {
			return env, nil
		}
		if timeout == 0 {
			return nil, nil
		}
		if timeout > 0 && time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, nil
		default:
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *fakeBus) ClearStream(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, name)
	return nil
}

func (b *fakeBus) SetupStream(ctx context.Context, name string) error { return nil }

func (b *fakeBus) Len(ctx context.Context, name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.queues[name])), nil
}

func (b *fakeBus) Keys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.queues))
	for k := range b.queues {
		keys = append(keys, k)
	}
	return keys, nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) queueLen(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[stream])
}

func (b *fakeBus) first(stream string) message.TransportMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[stream][0]
}
