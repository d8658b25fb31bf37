package loadbalance

import (
	"fmt"
	"math/rand"

	"github.com/njatkinson/callme/registry"
)

// WeightedRandomBalancer picks instances at random with probability
// proportional to their Weight. Instances registered without a weight count
// as weightless; if the whole list carries no weight, selection falls back
// to uniform random.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(instances []registry.ServerInstance) (*registry.ServerInstance, error) {
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances available")
	}

	totalWeight := 0
	for _, v := range instances {
		if v.Weight > 0 {
			totalWeight += v.Weight
		}
	}
	if totalWeight == 0 {
		return &instances[rand.Intn(len(instances))], nil
	}

	// Walk the list subtracting weights until the random point falls inside
	// an instance's slot.
	r := rand.Intn(totalWeight)
	for i := range instances {
		r -= instances[i].Weight
		if r < 0 {
			return &instances[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected error in weighted random selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
