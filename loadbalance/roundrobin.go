package loadbalance

import (
	"fmt"
	"sync/atomic"
)

// RoundRobinBalancer distributes connections evenly across all endpoints in
// order. Uses an atomic counter for lock-free, goroutine-safe operation.
//
// Best for: domains whose redundant endpoints have similar capacity.
type RoundRobinBalancer struct {
	counter int64 // Atomic counter, incremented on each Pick()
}

// Pick selects the next endpoint in round-robin order.
func (b *RoundRobinBalancer) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
