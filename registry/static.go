package registry

import (
	"context"
	"sync"
)

// Static is an in-memory registry. Without discovery configured the module
// uses one holding just the configured proxy address.
type Static struct {
	mu        sync.RWMutex
	instances map[string][]ServiceInstance
}

func NewStatic() *Static {
	return &Static{instances: make(map[string][]ServiceInstance)}
}

// Register ignores ttl; static entries never expire.
func (s *Static) Register(_ context.Context, serviceName string, instance ServiceInstance, _ int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, inst := range s.instances[serviceName] {
		if inst.Addr == instance.Addr {
			s.instances[serviceName][i] = instance
			return nil
		}
	}
	s.instances[serviceName] = append(s.instances[serviceName], instance)
	return nil
}

func (s *Static) Deregister(_ context.Context, serviceName string, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	insts := s.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			s.instances[serviceName] = append(insts[:i:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Static) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	insts := s.instances[serviceName]
	if len(insts) == 0 {
		return nil, ErrNoInstances
	}
	return append([]ServiceInstance(nil), insts...), nil
}
