// Package presence tracks which calling number is reachable on which live
// signaling connection. It is process-local and ephemeral: the map resets on
// restart and clients re-announce on reconnect.
package presence

import "sync"

// Conn is a live signaling connection capable of receiving server-pushed
// events. Implemented by the gateway's websocket wrapper; tests use fakes.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

// Entry maps a reachable identity to its connection and durable user id.
type Entry struct {
	Identity string
	UserID   string
	Conn     Conn
}

// Registry holds at most one live entry per identity. A later announce on a
// new connection overwrites the mapping (treated as a reconnect); the old
// connection is not closed, it just becomes unreachable via lookup.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Announce registers or overwrites the live mapping for identity.
// Empty identities are ignored.
func (r *Registry) Announce(identity string, conn Conn, userID string) {
	if identity == "" || conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[identity] = Entry{Identity: identity, UserID: userID, Conn: conn}
}

// Lookup returns the live entry for identity. Absence means "unreachable",
// never a fault.
func (r *Registry) Lookup(identity string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[identity]
	return e, ok
}

// Release removes the single entry (if any) owned by conn. Called on
// disconnect. A reconnect that already overwrote the mapping leaves the new
// entry untouched.
func (r *Registry) Release(conn Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for identity, e := range r.entries {
		if e.Conn.ID() == conn.ID() {
			delete(r.entries, identity)
			return
		}
	}
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
