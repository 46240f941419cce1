// Package registry tracks which live connection carries which player in
// which session. It is the bridge between the transport layer noticing a
// socket die and the owning coordinator starting the reclaim grace timer.
package registry

import (
	"sync"
	"time"
)

// Conn is one live binding of connection to player to session.
type Conn struct {
	ID          string
	SessionID   string
	PlayerID    string
	ConnectedAt time.Time
}

// DisconnectFunc receives the binding of a connection that just went away.
type DisconnectFunc func(Conn)

type Registry struct {
	mu           sync.Mutex
	byConn       map[string]Conn
	onDisconnect DisconnectFunc
}

func New(onDisconnect DisconnectFunc) *Registry {
	return &Registry{byConn: map[string]Conn{}, onDisconnect: onDisconnect}
}

// Register records a new binding. A connection re-registering (resume on the
// same socket id) overwrites its previous binding.
func (r *Registry) Register(connID, sessionID, playerID string) Conn {
	c := Conn{ID: connID, SessionID: sessionID, PlayerID: playerID, ConnectedAt: time.Now()}
	r.mu.Lock()
	r.byConn[connID] = c
	r.mu.Unlock()
	return c
}

// Resolve returns the binding for a connection id.
func (r *Registry) Resolve(connID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byConn[connID]
	return c, ok
}

// MarkDisconnected removes the binding and notifies the disconnect handler.
// Safe to call twice; the second call is a no-op.
func (r *Registry) MarkDisconnected(connID string) (Conn, bool) {
	r.mu.Lock()
	c, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
	}
	r.mu.Unlock()

	if ok && r.onDisconnect != nil {
		r.onDisconnect(c)
	}
	return c, ok
}

// LiveConnections counts bindings for one session.
func (r *Registry) LiveConnections(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.byConn {
		if c.SessionID == sessionID {
			n++
		}
	}
	return n
}
