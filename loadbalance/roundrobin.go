package loadbalance

import (
	"sync/atomic"

	"vpoller-module/registry"
)

// RoundRobinBalancer cycles through the instances in order.
type RoundRobinBalancer struct {
	instances []registry.ServiceInstance
	counter   atomic.Uint64
}

func NewRoundRobinBalancer(instances []registry.ServiceInstance) *RoundRobinBalancer {
	return &RoundRobinBalancer{instances: instances}
}

func (b *RoundRobinBalancer) Pick(_ string) (*registry.ServiceInstance, error) {
	if len(b.instances) == 0 {
		return nil, ErrNoInstances
	}
	index := (b.counter.Add(1) - 1) % uint64(len(b.instances))
	return &b.instances[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
