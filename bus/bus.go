// Package bus wraps a Redis connection with the four primitives the rest of
// the system needs: send, recv (blocking with timeout semantics), clear, and
// setup. One Connection is opened per domain a process needs to talk
// through; a process's own inbox is always read from its primary domain's
// connection.
package bus

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/errs"
	"github.com/opensrf-go/opensrf/loadbalance"
	"github.com/opensrf-go/opensrf/message"
)

// Bus is the set of primitives a domain connection offers. Satisfied by
// *Connection; exists so the router, session, and worker packages can be
// exercised against an in-memory fake in tests, without a live Redis.
type Bus interface {
	Send(ctx context.Context, recipient string, env message.TransportMessage) error
	Recv(ctx context.Context, stream string, timeout time.Duration) (*message.TransportMessage, error)
	ClearStream(ctx context.Context, name string) error
	SetupStream(ctx context.Context, name string) error
	Len(ctx context.Context, name string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Connection is one broker-reachable socket, wrapped for envelope traffic.
type Connection struct {
	domain string
	rdb    *redis.Client
}

var _ Bus = (*Connection)(nil)

// Dial opens a connection to one of a domain's configured endpoints, chosen
// by bal (default round-robin when bal is nil).
func Dial(ctx context.Context, domain string, conn config.BusConnection, bal loadbalance.Balancer) (*Connection, error) {
	if len(conn.Endpoints) == 0 {
		return nil, errs.Wrapf(errs.ErrConfig, "domain %s has no bus endpoints configured", domain)
	}
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}

	endpoints := make([]loadbalance.Endpoint, len(conn.Endpoints))
	for i, e := range conn.Endpoints {
		addr := e.Sock
		if addr == "" {
			addr = e.Host + ":" + strconv.Itoa(e.Port)
		}
		weight := e.Weight
		if weight <= 0 {
			weight = 1
		}
		endpoints[i] = loadbalance.Endpoint{Addr: addr, Weight: weight}
	}

	chosen, err := bal.Pick(endpoints)
	if err != nil {
		return nil, errs.Wrapf(errs.ErrBus, "selecting endpoint for domain %s: %v", domain, err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     chosen.Addr,
		Username: conn.Username,
		Password: conn.Password,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errs.Wrapf(errs.ErrBus, "connecting to domain %s at %s: %v", domain, chosen.Addr, err)
	}

	return &Connection{domain: domain, rdb: rdb}, nil
}

// Domain returns the routing domain this connection serves.
func (c *Connection) Domain() string { return c.domain }

// Close releases the underlying Redis client.
func (c *Connection) Close() error { return c.rdb.Close() }

// Send appends an envelope to the queue named by recipient (RPUSH).
func (c *Connection) Send(ctx context.Context, recipient string, env message.TransportMessage) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := c.rdb.RPush(ctx, recipient, data).Err(); err != nil {
		return errs.Wrapf(errs.ErrBus, "sending to %s: %v", recipient, err)
	}
	return nil
}

// Recv pops and decodes one envelope from stream.
//
// timeout < 0 blocks indefinitely; timeout == 0 polls non-blocking;
// timeout > 0 blocks up to that many whole seconds. A nil, nil return means
// the timeout elapsed with nothing to read — a legitimate condition, not an
// error.
func (c *Connection) Recv(ctx context.Context, stream string, timeout time.Duration) (*message.TransportMessage, error) {
	var raw string

	switch {
	case timeout == 0:
		val, err := c.rdb.LPop(ctx, stream).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, errs.Wrapf(errs.ErrBus, "non-blocking recv on %s: %v", stream, err)
		}
		raw = val

	case timeout < 0:
		res, err := c.rdb.BLPop(ctx, 0, stream).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, errs.Wrapf(errs.ErrBus, "blocking recv on %s: %v", stream, err)
		}
		raw = res[1]

	default:
		res, err := c.rdb.BLPop(ctx, timeout, stream).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, errs.Wrapf(errs.ErrBus, "blocking recv with timeout on %s: %v", stream, err)
		}
		raw = res[1]
	}

	env, err := message.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// ClearStream discards any buffered messages on name (DEL), used by workers
// to drop stale state before beginning a new top-level request.
func (c *Connection) ClearStream(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, name).Err(); err != nil {
		return errs.Wrapf(errs.ErrBus, "clearing stream %s: %v", name, err)
	}
	return nil
}

// SetupStream ensures the broker-side structure for name is ready to
// receive. Redis lists spring into existence on first RPUSH, so against
// this backend it only validates the name; kept as a distinct call so a
// future backend requiring explicit setup (e.g. a consumer group) has a
// seam to hook into.
func (c *Connection) SetupStream(ctx context.Context, name string) error {
	if name == "" {
		return errs.Wrapf(errs.ErrBus, "cannot set up stream with empty name")
	}
	return nil
}

// Len reports how many messages are currently queued on name (LLEN).
func (c *Connection) Len(ctx context.Context, name string) (int64, error) {
	n, err := c.rdb.LLen(ctx, name).Result()
	if err != nil {
		return 0, errs.Wrapf(errs.ErrBus, "checking length of %s: %v", name, err)
	}
	return n, nil
}

// Keys lists queue names matching pattern (KEYS), for inspection tooling.
func (c *Connection) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := c.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, errs.Wrapf(errs.ErrBus, "listing keys matching %s: %v", pattern, err)
	}
	return keys, nil
}
