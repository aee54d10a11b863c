package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"calling-platform/internal/calls"
	"calling-platform/internal/presence"
	"calling-platform/internal/reconcile"
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

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, e := range c.sent {
		out = append(out, e.Event)
	}
	return out
}

func (c *fakeConn) count(event string) int {
	n := 0
	for _, e := range c.events() {
		if e == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) last(event string) (sentEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].Event == event {
			return c.sent[i], true
		}
	}
	return sentEvent{}, false
}

type fixture struct {
	reg      *presence.Registry
	store    *calls.MemoryStore
	mgr      *Manager
	caller   *fakeConn
	receiver *fakeConn
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.RingTimeout == 0 {
		// Long enough that the real timer never interferes with tests that
		// drive transitions by hand.
		cfg.RingTimeout = time.Hour
	}
	if cfg.Clock == nil {
		now := time.Unix(1700000000, 0).UTC()
		cfg.Clock = func() time.Time { return now }
	}
	f := &fixture{
		reg:      presence.NewRegistry(),
		store:    calls.NewMemoryStore(),
		caller:   &fakeConn{id: "conn-a"},
		receiver: &fakeConn{id: "conn-b"},
	}
	f.mgr = NewManager(f.reg, f.store, cfg)
	t.Cleanup(f.mgr.Close)
	f.reg.Announce("100", f.caller, "u1")
	f.reg.Announce("200", f.receiver, "u2")
	return f
}

func (f *fixture) requestCall(t *testing.T) string {
	t.Helper()
	f.mgr.RequestCall(context.Background(), "100", "200", "Alice", f.caller)
	out, ok := f.caller.last("call:outgoing")
	if !ok {
		t.Fatalf("expected call:outgoing, caller got %v", f.caller.events())
	}
	callID, _ := out.Payload["callId"].(string)
	if callID == "" {
		t.Fatalf("outgoing payload missing callId: %v", out.Payload)
	}
	return callID
}

func TestRequestCall_DeliversOutgoingAndIncoming(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)

	in, ok := f.receiver.last("call:incoming")
	if !ok {
		t.Fatalf("expected call:incoming, receiver got %v", f.receiver.events())
	}
	if in.Payload["callId"] != callID {
		t.Fatalf("incoming callId = %v, want %s", in.Payload["callId"], callID)
	}
	if in.Payload["from"] != "100" || in.Payload["fromDisplay"] != "Alice" {
		t.Fatalf("unexpected incoming payload: %v", in.Payload)
	}

	c, ok := f.store.Call(callID)
	if !ok || c.Status != calls.CallStatusRinging {
		t.Fatalf("expected ringing call row, got %+v ok=%v", c, ok)
	}
	if c.ChannelName != callID {
		t.Fatalf("channel name must equal call id")
	}
	host, _ := f.store.Participant(callID, "u1")
	if host.Role != calls.RoleHost || host.Status != calls.ParticipantStatusJoined || host.JoinTime == nil {
		t.Fatalf("host row: %+v", host)
	}
	peer, _ := f.store.Participant(callID, "u2")
	if peer.Role != calls.RoleParticipant || peer.Status != calls.ParticipantStatusMissed {
		t.Fatalf("receiver placeholder row: %+v", peer)
	}
	if f.mgr.ActiveCount() != 1 {
		t.Fatalf("expected one active call")
	}
}

func TestRequestCall_UnreachableReceiver(t *testing.T) {
	f := newFixture(t, Config{})
	f.mgr.RequestCall(context.Background(), "100", "999", "Alice", f.caller)

	if f.caller.count("call:unavailable") != 1 {
		t.Fatalf("expected exactly one unavailable notice, got %v", f.caller.events())
	}
	if len(f.store.Calls) != 0 {
		t.Fatalf("no call row may be created for an unreachable receiver")
	}
	if f.mgr.ActiveCount() != 0 {
		t.Fatalf("no timer may be armed for an unreachable receiver")
	}
}

func TestRequestCall_PersistFailureSurfaced(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.FailNext = errors.New("db down")

	f.mgr.RequestCall(context.Background(), "100", "200", "Alice", f.caller)

	if f.caller.count("error") != 1 {
		t.Fatalf("expected error reply, got %v", f.caller.events())
	}
	if f.mgr.ActiveCount() != 0 {
		t.Fatalf("failed setup must not leave an active entry")
	}
}

func TestAcceptCall_GoesActive(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)

	f.mgr.AcceptCall(context.Background(), callID)

	for _, conn := range []*fakeConn{f.caller, f.receiver} {
		acc, ok := conn.last("call:accepted")
		if !ok {
			t.Fatalf("expected call:accepted on %s, got %v", conn.id, conn.events())
		}
		if acc.Payload["channelName"] != callID {
			t.Fatalf("channelName = %v, want call id", acc.Payload["channelName"])
		}
	}

	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusActive {
		t.Fatalf("durable status = %s, want active", c.Status)
	}
	peer, _ := f.store.Participant(callID, "u2")
	if peer.Status != calls.ParticipantStatusJoined || peer.JoinTime == nil {
		t.Fatalf("receiver row after accept: %+v", peer)
	}

	e, ok := f.mgr.Lookup(callID)
	if !ok || e.Status != calls.CallStatusActive {
		t.Fatalf("live entry after accept: %+v ok=%v", e, ok)
	}
}

func TestAcceptCall_UnknownCallIsNoOp(t *testing.T) {
	f := newFixture(t, Config{})
	f.mgr.AcceptCall(context.Background(), "no-such-call")
	if len(f.caller.events()) != 0 || len(f.receiver.events()) != 0 {
		t.Fatalf("stale accept must stay silent, got %v / %v", f.caller.events(), f.receiver.events())
	}
}

func TestRejectCall_NotifiesCallerOnly(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)

	f.mgr.RejectCall(context.Background(), callID)

	if f.caller.count("call:rejected") != 1 {
		t.Fatalf("caller must get exactly one rejected, got %v", f.caller.events())
	}
	if f.receiver.count("call:rejected") != 0 {
		t.Fatalf("receiver must not be notified of its own reject")
	}

	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusRejected || c.EndTime == nil {
		t.Fatalf("call row after reject: %+v", c)
	}
	peer, _ := f.store.Participant(callID, "u2")
	if peer.Status != calls.ParticipantStatusRejected {
		t.Fatalf("receiver row = %s, want rejected", peer.Status)
	}
	host, _ := f.store.Participant(callID, "u1")
	if host.Status != calls.ParticipantStatusLeft {
		t.Fatalf("host row = %s, want left", host.Status)
	}
	if _, ok := f.mgr.Lookup(callID); ok {
		t.Fatalf("entry must be removed on reject")
	}
}

func TestCancelCall_NotifiesReceiverOnceAndBlocksAccept(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)

	f.mgr.CancelCall(context.Background(), callID)

	if got := f.receiver.count("call:canceled"); got != 1 {
		t.Fatalf("receiver must get exactly one canceled, got %d (%v)", got, f.receiver.events())
	}
	if f.caller.count("call:canceled") != 0 {
		t.Fatalf("caller must not be notified of its own cancel")
	}

	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusCanceled || c.EndTime == nil {
		t.Fatalf("call row after cancel: %+v", c)
	}
	host, _ := f.store.Participant(callID, "u1")
	if host.Status != calls.ParticipantStatusLeft || host.LeaveTime == nil {
		t.Fatalf("host row after cancel: %+v", host)
	}
	peer, _ := f.store.Participant(callID, "u2")
	if peer.Status != calls.ParticipantStatusMissed {
		t.Fatalf("receiver row after cancel: %+v", peer)
	}

	// A late accept for the same id is a silent no-op.
	f.mgr.AcceptCall(context.Background(), callID)
	c, _ = f.store.Call(callID)
	if c.Status != calls.CallStatusCanceled {
		t.Fatalf("terminal status must never change, got %s", c.Status)
	}
	if f.caller.count("call:accepted") != 0 {
		t.Fatalf("no accepted may be emitted after cancel")
	}
}

func TestEndCall_MarksEveryoneLeft(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)
	f.mgr.AcceptCall(context.Background(), callID)

	f.mgr.EndCall(context.Background(), callID)

	if f.caller.count("call:ended") != 1 || f.receiver.count("call:ended") != 1 {
		t.Fatalf("both parties must get ended exactly once: caller=%v receiver=%v",
			f.caller.events(), f.receiver.events())
	}
	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusEnded || c.EndTime == nil {
		t.Fatalf("call row after end: %+v", c)
	}
	for _, uid := range []string{"u1", "u2"} {
		p, _ := f.store.Participant(callID, uid)
		if p.Status != calls.ParticipantStatusLeft || p.LeaveTime == nil {
			t.Fatalf("participant %s after end: %+v", uid, p)
		}
	}
}

func TestAutoMiss_MarksMissedAndNotifiesBoth(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)

	f.mgr.autoMiss(callID)

	if f.caller.count("call:missed") != 1 || f.receiver.count("call:missed") != 1 {
		t.Fatalf("both parties must get missed exactly once")
	}
	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusMissed || c.EndTime == nil {
		t.Fatalf("call row after timeout: %+v", c)
	}
	host, _ := f.store.Participant(callID, "u1")
	if host.Status != calls.ParticipantStatusLeft {
		t.Fatalf("host row after timeout: %+v", host)
	}
	peer, _ := f.store.Participant(callID, "u2")
	if peer.Status != calls.ParticipantStatusMissed {
		t.Fatalf("receiver row after timeout: %+v", peer)
	}
}

func TestAcceptThenStaleTimerFire_SingleWinner(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)

	f.mgr.AcceptCall(context.Background(), callID)
	f.mgr.autoMiss(callID) // stale fire after accept won

	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusActive {
		t.Fatalf("stale timer must not overwrite active, got %s", c.Status)
	}
	if f.caller.count("call:missed") != 0 || f.receiver.count("call:missed") != 0 {
		t.Fatalf("stale timer must stay silent")
	}
}

func TestTimerFireThenStaleAccept_SingleWinner(t *testing.T) {
	f := newFixture(t, Config{})
	callID := f.requestCall(t)

	f.mgr.autoMiss(callID)
	f.mgr.AcceptCall(context.Background(), callID) // stale accept after timeout won

	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusMissed {
		t.Fatalf("stale accept must not overwrite missed, got %s", c.Status)
	}
	if f.caller.count("call:accepted") != 0 {
		t.Fatalf("stale accept must stay silent")
	}
}

func TestRingTimer_FiresOnItsOwn(t *testing.T) {
	f := newFixture(t, Config{RingTimeout: 20 * time.Millisecond, Clock: time.Now})
	callID := f.requestCall(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c, _ := f.store.Call(callID); c.Status == calls.CallStatusMissed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	c, _ := f.store.Call(callID)
	t.Fatalf("timer never fired, status %s", c.Status)
}

func TestTransitionPersistFailure_QueuedForRetry(t *testing.T) {
	q := reconcile.NewQueue(16, nil)
	f := newFixture(t, Config{Retry: q})
	callID := f.requestCall(t)

	f.store.FailNext = errors.New("db down")
	f.mgr.AcceptCall(context.Background(), callID)

	// The transition still proceeds: both sides hear accepted, and the
	// failed write is queued for the sweep.
	if f.caller.count("call:accepted") != 1 || f.receiver.count("call:accepted") != 1 {
		t.Fatalf("best-effort transition must still notify")
	}
	if q.Len() != 1 {
		t.Fatalf("expected one queued write, got %d", q.Len())
	}

	done, remaining := q.Sweep(context.Background())
	if done != 1 || remaining != 0 {
		t.Fatalf("sweep: done=%d remaining=%d", done, remaining)
	}
	c, _ := f.store.Call(callID)
	if c.Status != calls.CallStatusActive {
		t.Fatalf("reconciled status = %s, want active", c.Status)
	}
}

type fakeRingCap struct {
	mu          sync.Mutex
	held        map[string]int
	limit       int
	acquires    int
	releases    int
	failAcquire error
}

func newFakeRingCap(limit int) *fakeRingCap {
	return &fakeRingCap{held: map[string]int{}, limit: limit}
}

func (c *fakeRingCap) Acquire(ctx context.Context, identity string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquires++
	if c.failAcquire != nil {
		return false, c.failAcquire
	}
	if c.held[identity] >= c.limit {
		return false, nil
	}
	c.held[identity]++
	return true, nil
}

func (c *fakeRingCap) Release(ctx context.Context, identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases++
	if c.held[identity] > 0 {
		c.held[identity]--
	}
	return nil
}

func (c *fakeRingCap) counts() (acquires, releases int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquires, c.releases
}

func TestRingCap_LimitsConcurrentCallsPerCaller(t *testing.T) {
	rc := newFakeRingCap(1)
	f := newFixture(t, Config{RingCap: rc})
	callID := f.requestCall(t)

	f.mgr.RequestCall(context.Background(), "100", "200", "Alice", f.caller)
	if f.caller.count("call:unavailable") != 1 {
		t.Fatalf("second concurrent call must be refused, got %v", f.caller.events())
	}

	f.mgr.EndCall(context.Background(), callID)
	f.mgr.RequestCall(context.Background(), "100", "200", "Alice", f.caller)
	if f.caller.count("call:outgoing") != 2 {
		t.Fatalf("slot must free up after the call ends, got %v", f.caller.events())
	}
}

func TestRingCap_AcquireErrorNeverReleases(t *testing.T) {
	rc := newFakeRingCap(1)
	rc.failAcquire = errors.New("redis down")
	f := newFixture(t, Config{RingCap: rc})

	// The call proceeds without holding a slot.
	callID := f.requestCall(t)
	f.mgr.RejectCall(context.Background(), callID)

	if _, releases := rc.counts(); releases != 0 {
		t.Fatalf("a call that never held a slot must not release one, got %d releases", releases)
	}

	// A healthy caller at the limit must still be refused afterwards.
	rc.failAcquire = nil
	f.requestCall(t)
	f.mgr.RequestCall(context.Background(), "100", "200", "Alice", f.caller)
	if f.caller.count("call:unavailable") != 1 {
		t.Fatalf("cap must still hold after the flaky call, got %v", f.caller.events())
	}
}

func TestRequestCall_ParticipantPersistFailureClosesCallRow(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.FailNextParticipants = errors.New("db down")

	f.mgr.RequestCall(context.Background(), "100", "200", "Alice", f.caller)

	if f.caller.count("error") != 1 {
		t.Fatalf("expected error reply, got %v", f.caller.events())
	}
	if f.mgr.ActiveCount() != 0 {
		t.Fatalf("failed setup must not leave an active entry")
	}
	for id, c := range f.store.Calls {
		if !c.Status.Terminal() || c.EndTime == nil {
			t.Fatalf("orphaned call row %s must be closed out, got %+v", id, c)
		}
	}
}

func TestRequestCall_DuringShutdownReleasesSlotAndReplies(t *testing.T) {
	rc := newFakeRingCap(1)
	f := newFixture(t, Config{RingCap: rc})

	f.mgr.Close()
	f.mgr.RequestCall(context.Background(), "100", "200", "Alice", f.caller)

	acquires, releases := rc.counts()
	if acquires != 1 || releases != 1 {
		t.Fatalf("slot must be given back on shutdown: acquires=%d releases=%d", acquires, releases)
	}
	if f.caller.count("call:unavailable") != 1 {
		t.Fatalf("caller must hear back on shutdown, got %v", f.caller.events())
	}
	if f.mgr.ActiveCount() != 0 {
		t.Fatalf("no entry may be tracked after close")
	}
	for id, c := range f.store.Calls {
		if !c.Status.Terminal() {
			t.Fatalf("call row %s created during shutdown must be closed out, got %+v", id, c)
		}
	}
}

func TestTransitionCallback_FiresPerTransition(t *testing.T) {
	var mu sync.Mutex
	seen := map[calls.CallStatus]int{}
	f := newFixture(t, Config{OnTransition: func(s calls.CallStatus) {
		mu.Lock()
		seen[s]++
		mu.Unlock()
	}})

	callID := f.requestCall(t)
	f.mgr.AcceptCall(context.Background(), callID)
	f.mgr.EndCall(context.Background(), callID)

	mu.Lock()
	defer mu.Unlock()
	for _, s := range []calls.CallStatus{calls.CallStatusRinging, calls.CallStatusActive, calls.CallStatusEnded} {
		if seen[s] != 1 {
			t.Fatalf("transition %s seen %d times, want 1 (%v)", s, seen[s], seen)
		}
	}
}
