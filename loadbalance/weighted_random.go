package loadbalance

import (
	"fmt"
	"math/rand"
)

// WeightedRandomBalancer selects endpoints probabilistically based on their
// weight. An endpoint with weight 10 gets roughly 2x the traffic of one with
// weight 5.
//
// Best for: heterogeneous endpoints (e.g. a beefier primary next to a
// smaller replica).
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(endpoints []Endpoint) (*Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}

	totalWeight := 0
	for _, e := range endpoints {
		totalWeight += e.Weight
	}
	if totalWeight <= 0 {
		return &endpoints[0], nil
	}

	r := rand.Intn(totalWeight)
	for i := range endpoints {
		r -= endpoints[i].Weight
		if r < 0 {
			return &endpoints[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
