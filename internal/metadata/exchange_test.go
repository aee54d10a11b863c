package metadata

import (
	"context"
	"sync"
	"testing"

	"calling-platform/internal/calls"
	"calling-platform/internal/presence"
	"calling-platform/internal/session"
)

type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []sentEvent
}

type sentEvent struct {
	Event   string
	Payload map[string]any
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, _ := payload.(map[string]any)
	c.sent = append(c.sent, sentEvent{Event: event, Payload: p})
	return nil
}

func (c *fakeConn) received(event string) []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []sentEvent
	for _, e := range c.sent {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// setupRinging builds a registry with two announced parties, a ringing call
// between them, and an exchange bound to both, with terminal transitions
// wired to drop the call's announcements the way the server binds them.
func setupRinging(t *testing.T) (*Exchange, *session.Manager, *fakeConn, *fakeConn, string) {
	t.Helper()
	reg := presence.NewRegistry()
	store := calls.NewMemoryStore()
	var x *Exchange
	mgr := session.NewManager(reg, store, session.Config{
		OnTerminal: func(callID string) { x.ReleaseCall(callID) },
	})
	t.Cleanup(mgr.Close)
	x = NewExchange(mgr, reg)

	caller := &fakeConn{id: "conn-a"}
	receiver := &fakeConn{id: "conn-b"}
	reg.Announce("100", caller, "u1")
	reg.Announce("200", receiver, "u2")

	mgr.RequestCall(context.Background(), "100", "200", "Alice", caller)
	var callID string
	for _, e := range caller.received("call:outgoing") {
		callID, _ = e.Payload["callId"].(string)
	}
	if callID == "" {
		t.Fatalf("no call id")
	}
	return x, mgr, caller, receiver, callID
}

// setup is setupRinging with the call already accepted.
func setup(t *testing.T) (*Exchange, *fakeConn, *fakeConn, string) {
	t.Helper()
	x, mgr, caller, receiver, callID := setupRinging(t)
	mgr.AcceptCall(context.Background(), callID)
	return x, caller, receiver, callID
}

func TestAnnounce_PushedToOtherPartyOnly(t *testing.T) {
	x, caller, receiver, callID := setup(t)

	x.Announce(callID, "u1", "Alice", caller)

	got := receiver.received("metadata:announce")
	if len(got) != 1 {
		t.Fatalf("receiver should get one announcement, got %d", len(got))
	}
	if got[0].Payload["displayName"] != "Alice" || got[0].Payload["subjectId"] != "u1" {
		t.Fatalf("unexpected payload: %v", got[0].Payload)
	}
	if len(caller.received("metadata:announce")) != 0 {
		t.Fatalf("announcement must not echo back to the announcer")
	}
}

func TestQuery_RepliesWithStoredName(t *testing.T) {
	x, caller, receiver, callID := setup(t)
	x.Announce(callID, "u1", "Alice", caller)

	x.Query(callID, "u1", receiver)

	got := receiver.received("metadata:response")
	if len(got) != 1 || got[0].Payload["displayName"] != "Alice" {
		t.Fatalf("query reply: %v", got)
	}
}

func TestQuery_AbsentIsSilent(t *testing.T) {
	x, _, receiver, callID := setup(t)

	x.Query(callID, "u9", receiver)
	x.Query("no-such-call", "u1", receiver)

	if len(receiver.received("metadata:response")) != 0 {
		t.Fatalf("absent entries must not produce replies")
	}
}

func TestAnnounce_OverwritesPreviousName(t *testing.T) {
	x, caller, _, callID := setup(t)
	x.Announce(callID, "u1", "Alice", caller)
	x.Announce(callID, "u1", "Alice B", caller)

	name, ok := x.Lookup(callID, "u1")
	if !ok || name != "Alice B" {
		t.Fatalf("lookup = %q ok=%v, want overwritten name", name, ok)
	}
}

func TestRejectedCall_DropsStoredAnnouncements(t *testing.T) {
	x, mgr, caller, receiver, callID := setupRinging(t)
	x.Announce(callID, "u1", "Alice", caller)

	mgr.RejectCall(context.Background(), callID)

	if name, ok := x.Lookup(callID, "u1"); ok {
		t.Fatalf("announcement must not survive reject, still stored %q", name)
	}
	if x.Len() != 0 {
		t.Fatalf("rejected call must leave no call-scoped state, len=%d", x.Len())
	}

	x.Query(callID, "u1", receiver)
	if len(receiver.received("metadata:response")) != 0 {
		t.Fatalf("a query after reject must stay silent")
	}
}

func TestEndedCall_DropsStoredAnnouncements(t *testing.T) {
	x, caller, _, callID := setup(t)
	x.Announce(callID, "u1", "Alice", caller)

	// setup's manager is bound to x through the same terminal wiring, so
	// ending the call must clear the exchange.
	x.sessions.EndCall(context.Background(), callID)

	if x.Len() != 0 {
		t.Fatalf("ended call must leave no call-scoped state, len=%d", x.Len())
	}
}

func TestReleaseConn_RemovesEntriesAndEmptyCalls(t *testing.T) {
	x, caller, receiver, callID := setup(t)
	x.Announce(callID, "u1", "Alice", caller)
	x.Announce(callID, "u2", "Bob", receiver)

	x.ReleaseConn(caller)
	if _, ok := x.Lookup(callID, "u1"); ok {
		t.Fatalf("caller's entry must be removed on disconnect")
	}
	if _, ok := x.Lookup(callID, "u2"); !ok {
		t.Fatalf("receiver's entry must survive")
	}

	x.ReleaseConn(receiver)
	if x.Len() != 0 {
		t.Fatalf("empty call map must be dropped, len=%d", x.Len())
	}
}
