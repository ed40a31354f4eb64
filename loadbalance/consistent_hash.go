package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"vpoller-module/registry"
)

const virtualNodes = 100

// ConsistentHashBalancer maps keys onto a hash ring of instances. The same
// vSphere hostname lands on the same proxy for as long as the proxy list is
// unchanged.
//
// Each instance occupies virtualNodes points on the ring, hashed from
// "{addr}#{i}", so a handful of proxies still splits the key space evenly.
type ConsistentHashBalancer struct {
	ring  []uint32                             // Sorted hash values on the ring
	nodes map[uint32]*registry.ServiceInstance // Hash value → instance
}

func NewConsistentHashBalancer(instances []registry.ServiceInstance) *ConsistentHashBalancer {
	b := &ConsistentHashBalancer{
		nodes: make(map[uint32]*registry.ServiceInstance, len(instances)*virtualNodes),
	}
	for i := range instances {
		inst := &instances[i]
		for v := 0; v < virtualNodes; v++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, v)))
			if _, taken := b.nodes[hash]; taken {
				continue
			}
			b.ring = append(b.ring, hash)
			b.nodes[hash] = inst
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
	return b
}

// Pick walks clockwise from the key's hash to the first node, wrapping
// around past the largest one.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.ServiceInstance, error) {
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
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

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
