package loadbalance

import (
	"math/rand/v2"

	"vpoller-module/registry"
)

// WeightedRandomBalancer picks an instance with probability proportional to
// its weight. A weight below 1 counts as 1.
type WeightedRandomBalancer struct {
	instances   []registry.ServiceInstance
	totalWeight int
}

func NewWeightedRandomBalancer(instances []registry.ServiceInstance) *WeightedRandomBalancer {
	b := &WeightedRandomBalancer{instances: instances}
	for _, inst := range instances {
		b.totalWeight += weight(inst)
	}
	return b
}

func weight(inst registry.ServiceInstance) int {
	return max(inst.Weight, 1)
}

func (b *WeightedRandomBalancer) Pick(_ string) (*registry.ServiceInstance, error) {
	if len(b.instances) == 0 {
		return nil, ErrNoInstances
	}

	r := rand.IntN(b.totalWeight)
	for i := range b.instances {
		r -= weight(b.instances[i])
		if r < 0 {
			return &b.instances[i], nil
		}
	}
	// Unreachable while totalWeight matches the instance weights.
	return &b.instances[len(b.instances)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
