package balance

import (
	"fmt"
	"hash/crc32"
	"sort"
)

// ConsistentHashBalancer maps keys to instances using a hash ring, so the
// same key (e.g. a subscription URI, or a correlation id prefix) always
// routes to the same instance until the ring changes — useful when a
// subscriber session holds state a repeated request needs to hit again.
//
// Each real instance is mapped onto replicas virtual nodes so three or four
// real instances don't cluster unevenly on the ring.
type ConsistentHashBalancer struct {
	replicas int
	ring     []uint32
	nodes    map[uint32]*Instance
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per
// instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*Instance),
	}
}

// Add places instance onto the hash ring with b.replicas virtual nodes.
func (b *ConsistentHashBalancer) Add(instance *Instance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.ID, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick finds the instance responsible for key by hashing it and walking
// clockwise to the first node on the ring, wrapping around if key's hash
// exceeds every node's.
//
// Pick takes a string key rather than a candidate slice because consistent
// hashing is key-based; it doesn't implement the Balancer interface.
func (b *ConsistentHashBalancer) Pick(key string) (*Instance, error) {
	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}
	hash := crc32.ChecksumIEEE([]byte(key))

	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= hash })
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
