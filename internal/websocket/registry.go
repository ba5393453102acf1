package websocket

import (
	"sync"
)

// Registry tracks every open connection, independent of identity.
// ARCHITECTURAL DISCOVERY: Pure connection bookkeeping without business logic.
// Presence owns the identity index; the registry exists for fan-out,
// heartbeat sweeps and shutdown, which all act on every socket.
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out
	connections map[*Connection]struct{}
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[*Connection]struct{}),
	}
}

// Add registers conn. Adding the same connection twice is a no-op.
func (r *Registry) Add(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn] = struct{}{}
	return nil
}

// Remove unregisters conn. Idempotent.
func (r *Registry) Remove(conn *Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, conn)
}

// All returns a snapshot of the open connections
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connections := make([]*Connection, 0, len(r.connections))
	for conn := range r.connections {
		connections = append(connections, conn)
	}
	return connections
}

// Count returns the number of open connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Broadcast pushes v to every open connection and returns how many accepted it.
func (r *Registry) Broadcast(v interface{}) int {
	delivered := 0
	for _, conn := range r.All() {
		if conn.Push(v) {
			delivered++
		}
	}
	return delivered
}

// CloseAll sends a going-away close to every connection. The connections stay
// registered until their read loops observe the close and tear down.
func (r *Registry) CloseAll(reason string) {
	for _, conn := range r.All() {
		_ = conn.CloseGoingAway(reason)
	}
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[string]struct{})
	for conn := range r.connections {
		users[conn.GetUserID()] = struct{}{}
	}

	return map[string]int{
		"total_connections": len(r.connections),
		"unique_users":      len(users),
	}
}
