// etcd_coordinator.go repurposes the teacher's etcd service registry
// (registry/etcd_registry.go) from service discovery to subscription-session
// discovery: when more than one server process can accept a subscriber's
// connection, something has to answer "which server instance is currently
// holding subscriptionURI's live session" so a client-role caller elsewhere
// in the deployment knows where to route a request for that subscription.
package queue

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// SessionInstance is the etcd-advertised record of a process holding a
// subscription's live session.
type SessionInstance struct {
	InstanceID string `json:"instanceId"`
	Addr       string `json:"addr"`
}

// EtcdCoordinator advertises and discovers which server instance holds a
// given subscription URI's live session, using etcd v3 the same way the
// teacher's EtcdRegistry advertises service instances: a TTL lease kept
// alive in the background, deleted automatically if the process dies.
type EtcdCoordinator struct {
	client *clientv3.Client
}

// NewEtcdCoordinator connects to the given etcd endpoints.
func NewEtcdCoordinator(endpoints []string) (*EtcdCoordinator, error) {
	c, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, err
	}
	return &EtcdCoordinator{client: c}, nil
}

func sessionKey(subscriptionURI, instanceID string) string {
	return "/mx/subscriptions/" + subscriptionURI + "/" + instanceID
}

func sessionPrefix(subscriptionURI string) string {
	return "/mx/subscriptions/" + subscriptionURI + "/"
}

// Advertise registers instance as currently holding subscriptionURI's
// session, under a ttl-second lease that is kept alive in the background
// until ctx is canceled.
func (c *EtcdCoordinator) Advertise(ctx context.Context, subscriptionURI string, instance SessionInstance, ttl int64) error {
	lease, err := c.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if _, err := c.client.Put(ctx, sessionKey(subscriptionURI, instance.InstanceID), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	keepAlive, err := c.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	go func() {
		for range keepAlive {
		}
	}()
	return nil
}

// Deregister removes instanceID's advertised session for subscriptionURI,
// used on graceful shutdown before the session's connection is closed.
func (c *EtcdCoordinator) Deregister(ctx context.Context, subscriptionURI, instanceID string) error {
	_, err := c.client.Delete(ctx, sessionKey(subscriptionURI, instanceID))
	return err
}

// Lookup returns every instance currently advertising a live session for
// subscriptionURI — ordinarily zero or one, but etcd does not itself
// prevent two processes from racing to accept the same subscriber.
func (c *EtcdCoordinator) Lookup(ctx context.Context, subscriptionURI string) ([]SessionInstance, error) {
	resp, err := c.client.Get(ctx, sessionPrefix(subscriptionURI), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]SessionInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance SessionInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Watch emits the updated instance list for subscriptionURI whenever an
// advertisement changes (new session, deregistration, lease expiry).
func (c *EtcdCoordinator) Watch(ctx context.Context, subscriptionURI string) <-chan []SessionInstance {
	out := make(chan []SessionInstance, 1)
	go func() {
		watchChan := c.client.Watch(ctx, sessionPrefix(subscriptionURI), clientv3.WithPrefix())
		for range watchChan {
			instances, err := c.Lookup(ctx, subscriptionURI)
			if err != nil {
				continue
			}
			out <- instances
		}
	}()
	return out
}
