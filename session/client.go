// Package session implements the client-side correlation layer: a Client
// owns the bus connections for one process, and a Session/RequestHandle
// pair multiplexes many outstanding requests over one conversation
// ("thread"), demultiplexing replies out of a single private inbox.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensrf-go/opensrf/addr"
	"github.com/opensrf-go/opensrf/bus"
	"github.com/opensrf-go/opensrf/config"
	"github.com/opensrf-go/opensrf/errs"
	"github.com/opensrf-go/opensrf/loadbalance"
	"github.com/opensrf-go/opensrf/message"
)

// ConnectTimeout bounds how long Connect waits for a Status(Ok) reply.
const ConnectTimeout = 10 * time.Second

// DefaultRequestTimeout is used by callers that don't supply their own.
const DefaultRequestTimeout = 60 * time.Second

// Client owns the bus connections for one process: a primary connection to
// its home domain, plus lazily-opened connections to any remote domain a
// session needs to reach.
type Client struct {
	cfg           *config.Config
	primaryDomain string
	addr          addr.Address
	bal           loadbalance.Balancer

	mu         sync.Mutex
	primaryBus bus.Bus
	remoteBus  map[string]bus.Bus
	backlog    []message.TransportMessage
}

// NewClient opens the primary bus connection and mints a fresh private address.
func NewClient(ctx context.Context, cfg *config.Config, primaryDomain string, bal loadbalance.Balancer) (*Client, error) {
	dom, ok := cfg.Domain(primaryDomain)
	if !ok {
		return nil, errs.Wrapf(errs.ErrConfig, "unknown primary domain %q", primaryDomain)
	}
	conn, err := bus.Dial(ctx, primaryDomain, dom.Bus, bal)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:           cfg,
		primaryDomain: primaryDomain,
		bal:           bal,
		addr:          addr.NewForClient(primaryDomain),
		primaryBus:    conn,
		remoteBus:     make(map[string]bus.Bus),
	}, nil
}

// NewClientWithBus builds a Client around an already-open primary bus
// connection, bypassing Dial. Used by tests that exercise the correlation
// logic against an in-memory Bus fake.
func NewClientWithBus(cfg *config.Config, primaryDomain string, primary bus.Bus, clientAddr addr.Address) *Client {
	return &Client{
		cfg:           cfg,
		primaryDomain: primaryDomain,
		addr:          clientAddr,
		primaryBus:    primary,
		remoteBus:     make(map[string]bus.Bus),
	}
}

// Address returns this process's private inbox address.
func (c *Client) Address() addr.Address { return c.addr }

// Close releases every open bus connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	if err := c.primaryBus.Close(); err != nil {
		first = err
	}
	for _, conn := range c.remoteBus {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewSession opens a fresh conversation with service.
func (c *Client) NewSession(service string) *Session {
	return &Session{
		client:      c,
		thread:      uuid.NewString(),
		service:     service,
		serviceAddr: addr.NewForService(service),
	}
}

// connectionFor returns the bus connection that reaches domain, opening and
// caching a new one on first use. The empty domain (or the client's own
// primary domain) always resolves to the primary connection.
func (c *Client) connectionFor(ctx context.Context, domain string) (bus.Bus, error) {
	if domain == "" || domain == c.primaryDomain {
		return c.primaryBus, nil
	}

	c.mu.Lock()
	if conn, ok := c.remoteBus[domain]; ok {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	dom, ok := c.cfg.Domain(domain)
	if !ok {
		return nil, errs.Wrapf(errs.ErrAddress, "cannot route to unknown domain %q", domain)
	}
	conn, err := bus.Dial(ctx, domain, dom.Bus, c.bal)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.remoteBus[domain]; ok {
		conn.Close()
		return existing, nil
	}
	c.remoteBus[domain] = conn
	return conn, nil
}

// recvSession pops the next envelope belonging to thread, first from the
// client-level backlog, else from the bus; envelopes belonging to other
// threads sharing this client's inbox are stashed rather than dropped.
func (c *Client) recvSession(ctx context.Context, thread string, timeout time.Duration) (*message.TransportMessage, error) {
	c.mu.Lock()
	for i, env := range c.backlog {
		if env.Thread == thread {
			c.backlog = append(c.backlog[:i:i], c.backlog[i+1:]...)
			c.mu.Unlock()
			return &env, nil
		}
	}
	c.mu.Unlock()

	env, err := c.primaryBus.Recv(ctx, c.addr.Full(), timeout)
	if err != nil || env == nil {
		return nil, err
	}
	if env.Thread != thread {
		c.mu.Lock()
		c.backlog = append(c.backlog, *env)
		c.mu.Unlock()
		return nil, nil
	}
	return env, nil
}
