package queue

import (
	"context"

	"github.com/mx-proto/mx/balance"
)

// LookupFunc resolves the live session instances currently advertised for a
// subscription URI. *EtcdCoordinator.Lookup has this shape.
type LookupFunc func(ctx context.Context, subscriptionURI string) ([]SessionInstance, error)

// SessionRouter picks one of possibly several server instances currently
// holding a subscription's live subscriber session — the scenario where more
// than one server process can accept a subscriber's connection, so a
// client-role caller elsewhere in the deployment must decide which one to
// send a request to. It composes a LookupFunc with a balance.Balancer: the
// lookup answers "who's holding a session for this URI right now", the
// balancer answers "which of those should get the next request".
type SessionRouter struct {
	lookup   LookupFunc
	balancer balance.Balancer
}

// NewSessionRouter returns a router that resolves candidates via lookup and
// picks among them with balancer.
func NewSessionRouter(lookup LookupFunc, balancer balance.Balancer) *SessionRouter {
	return &SessionRouter{lookup: lookup, balancer: balancer}
}

// Route resolves subscriptionURI's currently-advertised instances and picks
// one via the configured Balancer. It fails if the lookup errors or returns
// no instances.
func (r *SessionRouter) Route(ctx context.Context, subscriptionURI string) (SessionInstance, error) {
	instances, err := r.lookup(ctx, subscriptionURI)
	if err != nil {
		return SessionInstance{}, err
	}

	candidates := make([]balance.Instance, len(instances))
	for i, inst := range instances {
		candidates[i] = balance.Instance{ID: inst.InstanceID, Addr: inst.Addr, Weight: 1}
	}

	picked, err := r.balancer.Pick(candidates)
	if err != nil {
		return SessionInstance{}, err
	}
	return SessionInstance{InstanceID: picked.ID, Addr: picked.Addr}, nil
}
