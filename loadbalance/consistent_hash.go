package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"
)

// ConsistentHashBalancer maps keys (here, domain names) to endpoints using a
// hash ring, so the same domain keeps choosing the same endpoint across
// restarts so long as the endpoint set is unchanged — useful when an
// endpoint holds process-local affinity (e.g. Lua script caching).
//
// Virtual nodes: each real endpoint is mapped to N virtual nodes on the
// ring. Without virtual nodes, a small endpoint set can cluster unevenly on
// the ring; 100 virtual nodes per endpoint keeps distribution uniform.
type ConsistentHashBalancer struct {
	mu       sync.Mutex // guards ring and nodes, rebuilt on every pick
	replicas int
	ring     []uint32
	nodes    map[uint32]*Endpoint
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per endpoint.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*Endpoint),
	}
}

// add places an endpoint onto the hash ring with N virtual nodes.
func (b *ConsistentHashBalancer) add(endpoint *Endpoint) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", endpoint.Addr, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = endpoint
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// PickForKey finds the endpoint responsible for key (e.g. a domain name),
// rebuilding the ring from endpoints first since the configured set is
// small and rarely changes.
func (b *ConsistentHashBalancer) PickForKey(key string, endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*Endpoint, len(endpoints)*b.replicas)
	for i := range endpoints {
		b.add(&endpoints[i])
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}

	return b.nodes[b.ring[idx]], nil
}

// Pick implements Balancer by hashing on the endpoint addresses themselves,
// giving a stable but not domain-aware choice. Prefer PickForKey when the
// caller has a natural sticky key such as a domain name.
func (b *ConsistentHashBalancer) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}
	return b.PickForKey(endpoints[0].Addr, endpoints)
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
