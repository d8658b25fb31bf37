package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/njatkinson/callme/registry"
)

// ConsistentHashBalancer maps keys to instances using a hash ring.
// The same key always maps to the same server id (until the ring changes),
// providing cache affinity, useful for stateful services or local caches.
//
// Virtual nodes: each real instance is mapped to N positions on the ring.
// Without them, a handful of instances may cluster together and take uneven
// load; 100 virtual nodes per instance gives statistical uniformity.
//
// Note: Pick takes a string key, not an instance list. Consistent hashing
// is key-based, so this type does not implement the Balancer interface.
// Build the ring with Add, then resolve keys with Pick.
type ConsistentHashBalancer struct {
	replicas int                                 // virtual nodes per real instance
	ring     []uint32                            // sorted hash values on the ring
	nodes    map[uint32]*registry.ServerInstance // hash value → instance
}

// NewConsistentHashBalancer creates a hash ring with 100 virtual nodes per
// instance.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		ring:     []uint32{},
		nodes:    make(map[uint32]*registry.ServerInstance),
	}
}

// Add places an instance onto the hash ring with N virtual nodes.
// Each virtual node is hashed from "{id}#{i}" to spread across the ring.
func (b *ConsistentHashBalancer) Add(instance *registry.ServerInstance) {
	for i := 0; i < b.replicas; i++ {
		key := fmt.Sprintf("%s#%d", instance.ID, i)
		hash := crc32.ChecksumIEEE([]byte(key))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = instance
	}
	// Keep the ring sorted for binary search in Pick.
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

// Pick finds the instance responsible for the given key: hash the key, then
// binary-search for the first node clockwise from it, wrapping around to the
// first node past the top of the ring.
func (b *ConsistentHashBalancer) Pick(key string) (*registry.ServerInstance, error) {
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("no instances on the ring")
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
