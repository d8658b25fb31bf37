package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/callme/"

// EtcdRegistry implements the Registry interface using etcd v3.
//
// etcd acts as the phonebook for server identities:
//
//	Key:   /callme/{service}/{serverID}
//	Value: JSON-encoded ServerInstance
//
// Registration uses TTL-based leases: if the server crashes, the lease
// expires and the entry is removed automatically, so clients never discover
// ghost instances.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
}

// NewEtcdRegistry creates a registry backed by the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

func serviceKey(service, id string) string {
	return keyPrefix + service + "/" + id
}

// Register adds a server instance to etcd with a TTL lease.
//
// Flow:
//  1. Grant a lease with the given TTL
//  2. Put the key-value pair bound to the lease
//  3. Start KeepAlive to renew the lease in the background
//
// The lease id stays a local variable: storing it on the struct would race
// when several servers share one EtcdRegistry.
func (r *EtcdRegistry) Register(service string, instance ServerInstance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, serviceKey(service, instance.ID), string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// KeepAlive heartbeats etcd until the registry client closes; without it
	// the entry would vanish after one TTL even while the server is healthy.
	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain KeepAlive responses so the channel never fills up.
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes a server instance from etcd. Called during graceful
// shutdown so clients stop routing to the leaving server.
func (r *EtcdRegistry) Deregister(service string, id string) error {
	_, err := r.client.Delete(context.TODO(), serviceKey(service, id))
	return err
}

// Watch monitors a service prefix and emits updated instance lists whenever
// anything changes (registration, deregistration, lease expiry).
func (r *EtcdRegistry) Watch(service string) <-chan []ServerInstance {
	ctx := context.TODO()
	ch := make(chan []ServerInstance, 1)
	prefix := keyPrefix + service + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// Re-list on any change, simpler than folding individual
			// watch events into the previous list.
			instances, _ := r.Discover(service)
			ch <- instances
		}
	}()

	return ch
}

// Discover returns all currently registered instances of a service.
func (r *EtcdRegistry) Discover(service string) ([]ServerInstance, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+service+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]ServerInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServerInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}

// Close releases the etcd client connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}
