package presence

import "testing"

type fakeConn struct {
	id   string
	sent []string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(event string, payload any) error {
	c.sent = append(c.sent, event)
	return nil
}

func TestRegistry_AnnounceOverwrites(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{id: "conn-1"}
	fresh := &fakeConn{id: "conn-2"}

	r.Announce("100", old, "u1")
	r.Announce("100", fresh, "u1")

	e, ok := r.Lookup("100")
	if !ok {
		t.Fatalf("expected entry for 100")
	}
	if e.Conn.ID() != "conn-2" {
		t.Fatalf("expected new connection, got %s", e.Conn.ID())
	}
	if r.Len() != 1 {
		t.Fatalf("expected single entry, got %d", r.Len())
	}
}

func TestRegistry_EmptyIdentityIgnored(t *testing.T) {
	r := NewRegistry()
	r.Announce("", &fakeConn{id: "c"}, "u1")
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_ReleaseRemovesOwnEntryOnly(t *testing.T) {
	r := NewRegistry()
	a := &fakeConn{id: "conn-a"}
	b := &fakeConn{id: "conn-b"}
	r.Announce("100", a, "u1")
	r.Announce("200", b, "u2")

	r.Release(a)

	if _, ok := r.Lookup("100"); ok {
		t.Fatalf("expected 100 released")
	}
	if _, ok := r.Lookup("200"); !ok {
		t.Fatalf("expected 200 untouched")
	}
}

func TestRegistry_ReleaseAfterReconnectKeepsNewMapping(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{id: "conn-1"}
	fresh := &fakeConn{id: "conn-2"}
	r.Announce("100", old, "u1")
	r.Announce("100", fresh, "u1")

	// The stale connection closing must not evict the new mapping.
	r.Release(old)

	e, ok := r.Lookup("100")
	if !ok || e.Conn.ID() != "conn-2" {
		t.Fatalf("expected conn-2 to survive, got ok=%v", ok)
	}
}

func TestRegistry_LookupUnknownIsAbsent(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("999"); ok {
		t.Fatalf("expected absent")
	}
}
