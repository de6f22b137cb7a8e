// Package queue implements the pending-request queue collaborator named in
// §6: the per-subscription buffer a server-role session drains requests from
// (exchange.Queue) while a caller elsewhere in the process blocks waiting
// for the matching response.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/mx-proto/mx/message"
)

// Queue restates exchange.Queue's shape locally so this package has no
// dependency on package exchange.
type Queue interface {
	Dequeue() (req *message.RequestMessage, ok bool)
	ApplyResponse(resp *message.ResponseMessage)
}

// InMemoryQueue is a single subscription's pending-request queue: Enqueue
// blocks the caller until a matching ApplyResponse arrives or ctx ends, and
// the subscriber-serving loop drains it one request at a time via Dequeue.
//
// Grounded on the teacher's ClientTransport.pending sync.Map-of-channels
// correlation technique (transport/client_transport.go), reused here for
// queue-side response correlation instead of client-side seq multiplexing.
type InMemoryQueue struct {
	items       chan *message.RequestMessage
	waitTimeout time.Duration

	mu      sync.Mutex
	pending map[message.CorrelationID]chan *message.ResponseMessage
}

// NewInMemoryQueue returns an empty queue of the given capacity. waitTimeout
// bounds how long Dequeue blocks for a new item before reporting none
// available — the §6 PollingQueueWaitTimeout knob.
func NewInMemoryQueue(capacity int, waitTimeout time.Duration) *InMemoryQueue {
	return &InMemoryQueue{
		items:       make(chan *message.RequestMessage, capacity),
		waitTimeout: waitTimeout,
		pending:     make(map[message.CorrelationID]chan *message.ResponseMessage),
	}
}

// Enqueue submits req and blocks until its correlated response arrives via
// ApplyResponse, or ctx ends first.
func (q *InMemoryQueue) Enqueue(ctx context.Context, req *message.RequestMessage) (*message.ResponseMessage, error) {
	respCh := make(chan *message.ResponseMessage, 1)
	q.mu.Lock()
	q.pending[req.CorrelationID] = respCh
	q.mu.Unlock()

	select {
	case q.items <- req:
	case <-ctx.Done():
		q.forget(req.CorrelationID)
		return nil, ctx.Err()
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		q.forget(req.CorrelationID)
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) forget(id message.CorrelationID) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}

// Dequeue implements Queue: pops the next item, waiting up to waitTimeout,
// and reports ok=false if none arrived in time — the signal the
// subscriber-serving loop turns into the null sentinel (§4.3.5).
func (q *InMemoryQueue) Dequeue() (*message.RequestMessage, bool) {
	select {
	case req := <-q.items:
		return req, true
	case <-time.After(q.waitTimeout):
		return nil, false
	}
}

// ApplyResponse implements Queue: routes resp to the Enqueue caller waiting
// on its correlation id, if one is still waiting.
func (q *InMemoryQueue) ApplyResponse(resp *message.ResponseMessage) {
	q.mu.Lock()
	ch, ok := q.pending[resp.CorrelationID]
	if ok {
		delete(q.pending, resp.CorrelationID)
	}
	q.mu.Unlock()
	if ok {
		ch <- resp
	}
}
