// Package balance selects among live subscriber sessions for one
// subscription URI — repurposed from the teacher's loadbalance package,
// which picked a backend service instance to call, to picking which of
// possibly several server processes currently holding a subscription's
// session (queue.EtcdCoordinator.Lookup) should receive the next enqueued
// request.
package balance

import "fmt"

// Instance is a candidate target: the server instance currently holding a
// subscription's live session.
type Instance struct {
	ID     string
	Addr   string
	Weight int
}

// Balancer selects one instance from a set of candidates. Pick is called on
// every dispatch and must be goroutine-safe.
type Balancer interface {
	Pick(instances []Instance) (*Instance, error)
	Name() string
}

// ErrNoInstances is returned by Pick when given an empty candidate set.
var ErrNoInstances = fmt.Errorf("balance: no instances available")
