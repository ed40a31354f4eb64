package registry

import (
	"context"
	"errors"
)

var ErrNoInstances = errors.New("no instances registered")

// ServiceInstance is one vPoller proxy endpoint.
type ServiceInstance struct {
	Addr    string `json:"addr"`   // ZeroMQ-style endpoint, e.g. tcp://vpoller01:10123
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
}
