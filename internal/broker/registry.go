// Package broker implements the matchmaking queue, room state machine, and
// host-authoritative relay protocol of the session broker.
package broker

// Meta holds the session metadata of one live connection. It is kept in a
// side-table keyed by connection id rather than attached to the transport
// connection itself.
type Meta struct {
	// DisplayName is the name shown to other players; empty until joinQueue.
	DisplayName string
	// Mode is the mode the connection is queued for; empty when not queued.
	Mode string
}

// Registry maps live connection ids to their session metadata.
// It holds no logic, only storage.
//
// Registry is not safe for concurrent use on its own; the Broker serializes
// all access under its single mutex.
type Registry struct {
	conns map[string]*Meta
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Meta)}
}

// Register adds a connection with empty metadata. Idempotent.
func (r *Registry) Register(connID string) {
	if _, exists := r.conns[connID]; !exists {
		r.conns[connID] = &Meta{}
	}
}

// Unregister removes a connection and its metadata. Idempotent.
func (r *Registry) Unregister(connID string) {
	delete(r.conns, connID)
}

// SetDisplayName records the display name for a connection, registering it
// if needed.
func (r *Registry) SetDisplayName(connID, name string) {
	r.Register(connID)
	r.conns[connID].DisplayName = name
}

// SetMode records the mode a connection is queued for.
func (r *Registry) SetMode(connID, mode string) {
	r.Register(connID)
	r.conns[connID].Mode = mode
}

// ClearMode clears the queued-mode marker once a connection is matched or
// leaves the queue. Idempotent.
func (r *Registry) ClearMode(connID string) {
	if m, ok := r.conns[connID]; ok {
		m.Mode = ""
	}
}

// Get returns the metadata for a connection.
//
// Postcondition: Returns (meta, true) if registered, or (zero, false) otherwise.
func (r *Registry) Get(connID string) (Meta, bool) {
	m, ok := r.conns[connID]
	if !ok {
		return Meta{}, false
	}
	return *m, true
}

// DisplayName returns the display name for a connection, or "" if unknown.
func (r *Registry) DisplayName(connID string) string {
	if m, ok := r.conns[connID]; ok {
		return m.DisplayName
	}
	return ""
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	return len(r.conns)
}
