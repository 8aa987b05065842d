// Package loadbalance selects among the redundant broker endpoints
// configured for a single domain (e.g. a primary and read replicas, or
// sentinel-announced masters during failover). Routing decisions — which
// domain hosts a service — are made by the router; this package only picks
// which socket of a domain's broker deployment a connection is opened
// against.
//
// Three strategies are implemented:
//   - RoundRobin:      evenly spread connections across endpoints
//   - WeightedRandom:  heterogeneous endpoint capacity
//   - ConsistentHash:  sticky endpoint pinning across process restarts
package loadbalance

// Endpoint is one reachable broker socket.
type Endpoint struct {
	Addr   string
	Weight int
}

// Balancer picks one endpoint from the list configured for a domain.
type Balancer interface {
	// Pick selects one endpoint from the available list. Called whenever a
	// connection to a domain is (re)opened — must be goroutine-safe.
	Pick(endpoints []Endpoint) (*Endpoint, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
