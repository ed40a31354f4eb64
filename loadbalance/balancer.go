// Package loadbalance picks the vPoller proxy a single call is sent to.
//
// The instance list is fixed when the balancer is built (discovery runs once
// at init), so every strategy only has to be safe for concurrent Pick calls:
//   - RoundRobin:      proxies of equal capacity
//   - WeightedRandom:  proxies of different capacity
//   - ConsistentHash:  keep each vSphere host on the same proxy, so its
//     session and cache live in one place
package loadbalance

import (
	"errors"
	"fmt"
	"strings"

	"vpoller-module/registry"
)

var ErrNoInstances = errors.New("no instances available")

const (
	StrategyRoundRobin     = "round_robin"
	StrategyWeightedRandom = "weighted_random"
	StrategyConsistentHash = "consistent_hash"
)

// Balancer selects one instance per call.
type Balancer interface {
	// Pick returns the instance for this call. key is the task's vSphere
	// hostname; only ConsistentHash looks at it.
	Pick(key string) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// New builds the balancer for strategy over instances.
func New(strategy string, instances []registry.ServiceInstance) (Balancer, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	instances = append([]registry.ServiceInstance(nil), instances...)

	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", StrategyRoundRobin:
		return NewRoundRobinBalancer(instances), nil
	case StrategyWeightedRandom:
		return NewWeightedRandomBalancer(instances), nil
	case StrategyConsistentHash:
		return NewConsistentHashBalancer(instances), nil
	default:
		return nil, fmt.Errorf("unknown balancer strategy %q", strategy)
	}
}
