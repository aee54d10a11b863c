// Package metadata is the call-scoped, non-persistent side channel
// participants use to announce a human-readable display name once a call
// goes active. Nothing here survives a restart or is written to the store.
package metadata

import (
	"sync"

	"calling-platform/internal/presence"
	"calling-platform/internal/session"
)

type entry struct {
	displayName string
	conn        presence.Conn
}

// Exchange holds per-call display-name announcements, keyed by call id and
// participant subject id.
type Exchange struct {
	mu    sync.Mutex
	calls map[string]map[string]entry

	sessions *session.Manager
	reg      *presence.Registry
}

func NewExchange(sessions *session.Manager, reg *presence.Registry) *Exchange {
	return &Exchange{
		calls:    make(map[string]map[string]entry),
		sessions: sessions,
		reg:      reg,
	}
}

// Announce stores the display name for (callID, subjectID) and pushes the
// announcement to the other party of the call, never back to the announcer.
func (x *Exchange) Announce(callID, subjectID, displayName string, conn presence.Conn) {
	if callID == "" || subjectID == "" || conn == nil {
		return
	}
	x.mu.Lock()
	byCall, ok := x.calls[callID]
	if !ok {
		byCall = make(map[string]entry)
		x.calls[callID] = byCall
	}
	byCall[subjectID] = entry{displayName: displayName, conn: conn}
	x.mu.Unlock()

	live, ok := x.sessions.Lookup(callID)
	if !ok {
		return
	}
	payload := map[string]any{
		"callId":      callID,
		"subjectId":   subjectID,
		"displayName": displayName,
	}
	for _, identity := range []string{live.Caller, live.Receiver} {
		peer, ok := x.reg.Lookup(identity)
		if !ok || peer.Conn.ID() == conn.ID() {
			continue
		}
		_ = peer.Conn.Send("metadata:announce", payload)
	}
}

// Query replies to the requesting connection with the stored display name
// for (callID, subjectID). Absence is a silent no-op; the querier may retry
// or fall back to a local value.
func (x *Exchange) Query(callID, subjectID string, conn presence.Conn) {
	if conn == nil {
		return
	}
	x.mu.Lock()
	e, ok := x.calls[callID][subjectID]
	x.mu.Unlock()
	if !ok {
		return
	}
	_ = conn.Send("metadata:response", map[string]any{
		"callId":      callID,
		"subjectId":   subjectID,
		"displayName": e.displayName,
	})
}

// Lookup returns the stored display name for (callID, subjectID).
func (x *Exchange) Lookup(callID, subjectID string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.calls[callID][subjectID]
	if !ok {
		return "", false
	}
	return e.displayName, true
}

// ReleaseCall drops every announcement stored for callID. Invoked once a
// call reaches a terminal status; nothing call-scoped may outlive the call.
func (x *Exchange) ReleaseCall(callID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.calls, callID)
}

// ReleaseConn removes the closing connection's entries from every
// call-scoped map and drops maps that become empty. Called on disconnect.
func (x *Exchange) ReleaseConn(conn presence.Conn) {
	if conn == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	for callID, byCall := range x.calls {
		for subjectID, e := range byCall {
			if e.conn.ID() == conn.ID() {
				delete(byCall, subjectID)
			}
		}
		if len(byCall) == 0 {
			delete(x.calls, callID)
		}
	}
}

// Len reports the number of calls with stored announcements.
func (x *Exchange) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.calls)
}
