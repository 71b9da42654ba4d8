package mcp

import "sync"

// Pool is a lock-protected registry of connection-id to connection handle,
// shared by the transports with persistent or session-correlated connections.
//
// Each holds the pool lock for the full duration of the iteration, so the
// callback must not call Add, Remove or Each on the same pool; doing so
// deadlocks.
type Pool[T any] struct {
	mu    sync.Mutex
	conns map[string]T
}

// NewPool creates an empty Pool.
func NewPool[T any]() *Pool[T] {
	return &Pool[T]{
		conns: make(map[string]T),
	}
}

// Add registers conn under id, replacing any previous entry.
func (p *Pool[T]) Add(id string, conn T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[id] = conn
}

// Remove deletes the entry under id, if present.
func (p *Pool[T]) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.conns, id)
}

// Get returns the connection registered under id.
func (p *Pool[T]) Get(id string) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.conns[id]
	return conn, ok
}

// Each calls fn for every registered connection while holding the pool lock.
func (p *Pool[T]) Each(fn func(id string, conn T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, conn := range p.conns {
		fn(id, conn)
	}
}

// Len returns the number of registered connections.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
