package main

import (
	"net"
	"sync"
)

// Registry is the server-wide set of live device connections. The accept
// loop adds, sessions remove themselves, and shutdown closes everything
// under one lock so a blocked read is always unblocked by its socket
// closing.
type Registry struct {
	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	running bool
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[net.Conn]struct{}),
		running: true,
	}
}

// Add registers a freshly accepted connection. It refuses connections
// once shutdown has started; the caller must close them.
func (r *Registry) Add(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	r.conns[conn] = struct{}{}
	return true
}

// Remove drops a connection from the set. Safe to call for connections
// already removed by Shutdown.
func (r *Registry) Remove(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}

// Running reports whether sessions should keep serving. Every session
// loop checks it between cycles.
func (r *Registry) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Shutdown flips the running flag and closes every registered
// connection. Closing happens outside the lock so a session calling
// Remove mid-teardown can never deadlock against us.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.running = false
	conns := make([]net.Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[net.Conn]struct{})
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
