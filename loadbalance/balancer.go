// Package loadbalance provides strategies for spreading RPC calls across
// the server instances of one service.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless services, equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  key affinity, the same key always lands on the same server
package loadbalance

import "github.com/njatkinson/callme/registry"

// Balancer is the interface for load balancing strategies.
// The client calls Pick before each RPC to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every RPC call, so it must be goroutine-safe.
	Pick(instances []registry.ServerInstance) (*registry.ServerInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
