// ABOUTME: Tracks live client connections and routes outbound frames by client ID
// ABOUTME: Central registry safe for concurrent register, unregister, and send

package ws

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrConnectionNotFound indicates no connection is registered under the given ID.
var ErrConnectionNotFound = errors.New("connection not found")

// Registry tracks at most one live connection per client identifier.
type Registry struct {
	conns  map[string]*Connection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: logger,
	}
}

// Register stores the connection under its ID, replacing any prior entry.
// A replaced entry is not closed; its accept handler still owns its lifecycle.
func (r *Registry) Register(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID] = conn
	r.logger.Info("client connected",
		"client_id", conn.ID,
		"total_clients", len(r.conns),
	)
}

// Unregister removes the entry for the given connection; no-op if absent.
// The entry is left alone when another connection has since replaced it under
// the same ID, so a stale handler exiting after a reconnect cannot evict the
// live one.
func (r *Registry) Unregister(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.conns[conn.ID]; exists && current == conn {
		delete(r.conns, conn.ID)
		r.logger.Info("client disconnected",
			"client_id", conn.ID,
			"total_clients", len(r.conns),
		)
	}
}

// Get retrieves a connection by client ID.
func (r *Registry) Get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// Send enqueues a frame on the connection registered under id.
// Returns ErrConnectionNotFound if no entry exists, or ErrConnectionClosed if
// the transport is already closed. Safe for concurrent use from any goroutine.
func (r *Registry) Send(id string, msg any) error {
	conn, ok := r.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	return conn.Enqueue(msg)
}

// SendFinal enqueues a must-deliver frame on the connection registered under
// id, using the headroom slots the best-effort path leaves free.
func (r *Registry) SendFinal(id string, msg any) error {
	conn, ok := r.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	return conn.EnqueueFinal(msg)
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
