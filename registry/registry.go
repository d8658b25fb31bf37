// Package registry provides discovery of RPC server identities.
//
// Servers on a message bus are addressed by id, not by host:port. A
// registered instance tells clients which server id to publish requests to.
package registry

// ServerInstance describes one reachable RPC server.
type ServerInstance struct {
	ID      string `json:"id"`                // server identity, resolves to the request topic
	Weight  int    `json:"weight"`            // relative capacity, used by weighted balancers
	Version string `json:"version,omitempty"` // deployment metadata, not interpreted
}

type Registry interface {
	// Register advertises an instance under a service name with a TTL in
	// seconds. The entry disappears when the TTL lapses unrenewed.
	Register(service string, instance ServerInstance, ttl int64) error

	// Deregister removes the instance with the given server id.
	Deregister(service string, id string) error

	// Discover returns all currently registered instances of a service.
	Discover(service string) ([]ServerInstance, error)

	// Watch emits the updated instance list whenever the service changes.
	Watch(service string) <-chan []ServerInstance
}
