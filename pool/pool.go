// Package pool manages a pool of reusable exchange clients to a single
// server address.
//
// Note: borrow/return pooling is the right shape here because each exchange
// connection is used exclusively — one request in flight at a time per
// connection (§5) — rather than multiplexed the way the teacher's own
// client package pools raw transports with round-robin selection instead.
//
// Pool design: a buffered channel as a natural FIFO queue. Buffered channels
// are concurrency-safe and block on empty for free.
package pool

import (
	"fmt"
	"net"
	"sync"

	"github.com/mx-proto/mx/exchange"
	"github.com/mx-proto/mx/stream"
)

// Pool manages a pool of reusable, already-connected exchange clients.
type Pool struct {
	mu       sync.Mutex
	clients  chan *PoolClient
	addr     string
	maxConns int
	curConns int
	spoolDir string
	dial     func() (net.Conn, error)
}

// PoolClient wraps an *exchange.Client with pool membership.
type PoolClient struct {
	*exchange.Client
	pool     *Pool
	unusable bool // set true when the connection encounters an error
}

// Unusable marks this client as unfit to return to the pool — call before
// Put after any I/O error on the connection.
func (c *PoolClient) Unusable() {
	c.unusable = true
}

// NewPool creates a connection pool with the given max size, dialing addr
// via dial. Connections are created lazily: the pool starts empty and grows
// on demand up to maxConns.
func NewPool(addr string, maxConns int, spoolDir string, dial func() (net.Conn, error)) *Pool {
	return &Pool{
		clients:  make(chan *PoolClient, maxConns),
		addr:     addr,
		maxConns: maxConns,
		spoolDir: spoolDir,
		dial:     dial,
	}
}

// Get retrieves a client from the pool, or dials a fresh one if the pool is
// below capacity, or blocks until one is returned if it is at capacity.
func (p *Pool) Get() (*PoolClient, error) {
	select {
	case c := <-p.clients:
		if c.unusable {
			return p.createNew()
		}
		return c, nil
	default:
		p.mu.Lock()
		below := p.curConns < p.maxConns
		p.mu.Unlock()
		if below {
			return p.createNew()
		}
		c := <-p.clients
		return c, nil
	}
}

// Put returns a client to the pool. A client marked Unusable is closed and
// discarded instead, so a connection that hit a protocol or I/O error is
// never handed to the next borrower — exchange_as_client's once-per-
// connection identify rule would otherwise desync against a half-broken
// stream.
func (p *Pool) Put(c *PoolClient) {
	if c.unusable {
		c.Close()
		p.mu.Lock()
		p.curConns--
		p.mu.Unlock()
		return
	}
	p.clients <- c
}

// Close shuts down the pool and closes every pooled client.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	close(p.clients)
	for c := range p.clients {
		c.Close()
		p.curConns--
	}
	return nil
}

func (p *Pool) createNew() (*PoolClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.curConns >= p.maxConns {
		return nil, fmt.Errorf("pool: exhausted (max %d connections to %s)", p.maxConns, p.addr)
	}

	conn, err := p.dial()
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(stream.New(conn, p.spoolDir))
	p.curConns++
	return &PoolClient{Client: client, pool: p}, nil
}
