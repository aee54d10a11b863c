// Package session owns the authoritative in-memory state of every call in
// flight: the active-call map, the per-call auto-miss timer, and the
// transition rules between call states.
//
// Concurrency model: the presence or absence of the active-call entry,
// combined with its status, is the single source of truth every transition
// consults before it acts. Each transition claims the entry under the
// manager mutex (check, then mutate or delete), then performs durable writes
// and notifications outside the lock. A transition that finds the entry
// missing or in an incompatible status aborts as a silent no-op; signaling
// events are best-effort notifications over a racy multi-party protocol, not
// requests with strict preconditions.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"calling-platform/internal/calls"
	"calling-platform/internal/presence"
	"calling-platform/internal/reconcile"

	"github.com/google/uuid"
)

const defaultRingTimeout = 60 * time.Second

// RingCap limits concurrent ringing calls per caller identity.
// Implemented on Redis in pkg/utils; nil disables the cap.
type RingCap interface {
	Acquire(ctx context.Context, identity string) (bool, error)
	Release(ctx context.Context, identity string) error
}

// Entry is a snapshot of a non-terminal call's live state.
type Entry struct {
	CallID         string
	Caller         string
	Receiver       string
	CallerUserID   string
	ReceiverUserID string
	Status         calls.CallStatus

	// capHeld records whether this call actually holds a ring-cap slot, so
	// terminal transitions never release a slot the call never acquired.
	capHeld bool
}

type activeCall struct {
	Entry
	timer *time.Timer
}

// Config carries the manager's injectable collaborators and knobs.
type Config struct {
	RingTimeout time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
	RingCap     RingCap
	Retry       *reconcile.Queue

	// OnTransition is invoked once per durable status transition; used for
	// metrics wiring. May be nil.
	OnTransition func(status calls.CallStatus)

	// OnTerminal is invoked once with the call id after a call reaches a
	// terminal status; wired to call-scoped metadata cleanup. May be nil.
	OnTerminal func(callID string)
}

// Manager arbitrates the lifecycle of every in-flight call.
type Manager struct {
	mu     sync.Mutex
	active map[string]*activeCall
	closed bool

	reg   *presence.Registry
	store calls.Store

	ringTimeout  time.Duration
	clock        func() time.Time
	log          *slog.Logger
	ringCap      RingCap
	retry        *reconcile.Queue
	onTransition func(status calls.CallStatus)
	onTerminal   func(callID string)
}

func NewManager(reg *presence.Registry, store calls.Store, cfg Config) *Manager {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = defaultRingTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		active:       make(map[string]*activeCall),
		reg:          reg,
		store:        store,
		ringTimeout:  cfg.RingTimeout,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		ringCap:      cfg.RingCap,
		retry:        cfg.Retry,
		onTransition: cfg.OnTransition,
		onTerminal:   cfg.OnTerminal,
	}
}

// Lookup returns a snapshot of the live entry for callID.
func (m *Manager) Lookup(callID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.active[callID]
	if !ok {
		return Entry{}, false
	}
	return ac.Entry, true
}

// ActiveCount reports the number of non-terminal calls.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close stops every pending timer. In-flight calls are abandoned; durable
// records stay in whatever state they were last persisted in.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, ac := range m.active {
		ac.timer.Stop()
		delete(m.active, id)
	}
}

// RequestCall starts a call from the caller identity to the receiver
// identity. callerConn is the originating connection and receives the
// "outgoing" or "unavailable" reply directly; the receiver, if reachable,
// gets "incoming".
func (m *Manager) RequestCall(ctx context.Context, from, to, fromDisplay string, callerConn presence.Conn) {
	receiver, ok := m.reg.Lookup(to)
	if !ok {
		m.send(callerConn, "call:unavailable", map[string]any{
			"message": "User is offline or unavailable",
		})
		return
	}

	caller, ok := m.reg.Lookup(from)
	if !ok {
		// The caller never announced presence on this server, so there is no
		// durable user id to record as host. Treat as a protocol error.
		m.send(callerConn, "error", map[string]any{
			"message": "presence not announced for caller",
		})
		return
	}

	// An Acquire error (Redis flaky) lets the call through without a slot;
	// capHeld keeps the later release honest about what was actually taken.
	capHeld := false
	if m.ringCap != nil {
		acquired, err := m.ringCap.Acquire(ctx, from)
		switch {
		case err != nil:
			m.log.Warn("ring cap acquire failed", "caller", from, "err", err)
		case !acquired:
			m.send(callerConn, "call:unavailable", map[string]any{
				"message": "Too many concurrent outgoing calls",
			})
			return
		default:
			capHeld = true
		}
	}

	callID := uuid.NewString()
	now := m.clock().UTC()

	// The call and both participant rows must exist before any later update
	// references them; failure here aborts call setup and is surfaced to the
	// caller rather than swallowed.
	call := calls.Call{
		CallID:      callID,
		CreatedBy:   from,
		ChannelName: callID,
		Status:      calls.CallStatusRinging,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	participants := []calls.CallParticipant{
		{
			CallID:   callID,
			UserID:   caller.UserID,
			Role:     calls.RoleHost,
			Status:   calls.ParticipantStatusJoined,
			JoinTime: calls.TimePtr(now),
		},
		{
			CallID: callID,
			UserID: receiver.UserID,
			Role:   calls.RoleParticipant,
			Status: calls.ParticipantStatusMissed, // placeholder until accept
		},
	}
	if err := m.store.CreateCall(ctx, call); err != nil {
		m.failSetup(ctx, from, capHeld, callerConn, callID, err)
		return
	}
	if err := m.store.CreateParticipants(ctx, participants); err != nil {
		// The call row already exists; push it to a terminal status so an
		// aborted setup never leaves a ringing record behind.
		m.persist(ctx, "call "+callID+" -> canceled (setup aborted)", func(ctx context.Context) error {
			return m.store.UpdateCall(ctx, callID, calls.CallUpdate{
				Status:  calls.StatusPtr(calls.CallStatusCanceled),
				EndTime: calls.TimePtr(m.clock().UTC()),
			})
		})
		m.failSetup(ctx, from, capHeld, callerConn, callID, err)
		return
	}
	if m.onTransition != nil {
		m.onTransition(calls.CallStatusRinging)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		// Shutdown raced call setup: the durable rows exist but no entry or
		// timer will ever drive them to a terminal status. Close them out
		// here and give back everything the setup took.
		now = m.clock().UTC()
		m.persist(ctx, "call "+callID+" -> canceled (shutdown)", func(ctx context.Context) error {
			return m.store.UpdateCall(ctx, callID, calls.CallUpdate{
				Status:  calls.StatusPtr(calls.CallStatusCanceled),
				EndTime: calls.TimePtr(now),
			})
		})
		if capHeld {
			m.releaseCap(ctx, from)
		}
		m.send(callerConn, "call:unavailable", map[string]any{
			"message": "Server is shutting down",
		})
		return
	}
	ac := &activeCall{
		Entry: Entry{
			CallID:         callID,
			Caller:         from,
			Receiver:       to,
			CallerUserID:   caller.UserID,
			ReceiverUserID: receiver.UserID,
			Status:         calls.CallStatusRinging,
			capHeld:        capHeld,
		},
	}
	ac.timer = time.AfterFunc(m.ringTimeout, func() { m.autoMiss(callID) })
	m.active[callID] = ac
	m.mu.Unlock()

	m.send(callerConn, "call:outgoing", map[string]any{
		"callId": callID,
		"from":   from,
		"to":     to,
	})
	m.send(receiver.Conn, "call:incoming", map[string]any{
		"callId":      callID,
		"from":        from,
		"fromDisplay": fromDisplay,
		"to":          to,
	})
}

func (m *Manager) failSetup(ctx context.Context, from string, capHeld bool, callerConn presence.Conn, callID string, err error) {
	m.log.Error("call setup persist failed", "call_id", callID, "err", err)
	if capHeld {
		m.releaseCap(ctx, from)
	}
	m.send(callerConn, "error", map[string]any{
		"message": "call could not be created",
	})
}

// AcceptCall transitions a ringing call to active. A stale accept (timer
// already fired, call canceled, or already active) is a no-op.
func (m *Manager) AcceptCall(ctx context.Context, callID string) {
	m.mu.Lock()
	ac, ok := m.active[callID]
	if !ok || ac.Status != calls.CallStatusRinging {
		m.mu.Unlock()
		return
	}
	ac.Status = calls.CallStatusActive
	ac.timer.Stop()
	e := ac.Entry
	m.mu.Unlock()

	now := m.clock().UTC()
	m.persist(ctx, "call "+callID+" -> active", func(ctx context.Context) error {
		return m.store.UpdateCall(ctx, callID, calls.CallUpdate{
			Status: calls.StatusPtr(calls.CallStatusActive),
		})
	})
	m.persist(ctx, "participant "+e.ReceiverUserID+" joined "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipant(ctx, callID, e.ReceiverUserID, calls.ParticipantUpdate{
			Status:   calls.PStatusPtr(calls.ParticipantStatusJoined),
			JoinTime: calls.TimePtr(now),
		})
	})
	if m.onTransition != nil {
		m.onTransition(calls.CallStatusActive)
	}

	payload := map[string]any{
		"callId":      callID,
		"channelName": callID,
	}
	m.notifyIdentity(e.Caller, "call:accepted", payload)
	m.notifyIdentity(e.Receiver, "call:accepted", payload)
}

// RejectCall declines a call. The receiver's row becomes "rejected"; the
// host's row becomes "left". Only the caller is notified.
func (m *Manager) RejectCall(ctx context.Context, callID string) {
	e, ok := m.claim(callID)
	if !ok {
		return
	}
	m.terminal(ctx, e)

	now := m.clock().UTC()
	m.persist(ctx, "call "+callID+" -> rejected", func(ctx context.Context) error {
		return m.store.UpdateCall(ctx, callID, calls.CallUpdate{
			Status:  calls.StatusPtr(calls.CallStatusRejected),
			EndTime: calls.TimePtr(now),
		})
	})
	m.persist(ctx, "participant "+e.ReceiverUserID+" rejected "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipant(ctx, callID, e.ReceiverUserID, calls.ParticipantUpdate{
			Status: calls.PStatusPtr(calls.ParticipantStatusRejected),
		})
	})
	m.persist(ctx, "participant "+e.CallerUserID+" left "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipant(ctx, callID, e.CallerUserID, calls.ParticipantUpdate{
			Status:    calls.PStatusPtr(calls.ParticipantStatusLeft),
			LeaveTime: calls.TimePtr(now),
		})
	})
	if m.onTransition != nil {
		m.onTransition(calls.CallStatusRejected)
	}

	m.notifyIdentity(e.Caller, "call:rejected", map[string]any{
		"callId":  callID,
		"message": "Call declined by user",
	})
}

// CancelCall is the caller-initiated withdrawal before accept. The receiver
// is notified exactly once; the caller already knows it canceled.
func (m *Manager) CancelCall(ctx context.Context, callID string) {
	e, ok := m.claim(callID)
	if !ok {
		return
	}
	m.terminal(ctx, e)

	now := m.clock().UTC()
	m.persist(ctx, "call "+callID+" -> canceled", func(ctx context.Context) error {
		return m.store.UpdateCall(ctx, callID, calls.CallUpdate{
			Status:  calls.StatusPtr(calls.CallStatusCanceled),
			EndTime: calls.TimePtr(now),
		})
	})
	m.persist(ctx, "participant "+e.CallerUserID+" left "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipant(ctx, callID, e.CallerUserID, calls.ParticipantUpdate{
			Status:    calls.PStatusPtr(calls.ParticipantStatusLeft),
			LeaveTime: calls.TimePtr(now),
		})
	})
	m.persist(ctx, "participant "+e.ReceiverUserID+" missed "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipant(ctx, callID, e.ReceiverUserID, calls.ParticipantUpdate{
			Status: calls.PStatusPtr(calls.ParticipantStatusMissed),
		})
	})
	if m.onTransition != nil {
		m.onTransition(calls.CallStatusCanceled)
	}

	m.notifyIdentity(e.Receiver, "call:canceled", map[string]any{
		"callId": callID,
	})
}

// EndCall terminates a ringing or active call. Deliberately blunt: every
// participant row goes to "left" without distinguishing who ended it.
func (m *Manager) EndCall(ctx context.Context, callID string) {
	e, ok := m.claim(callID)
	if !ok {
		return
	}
	m.terminal(ctx, e)

	now := m.clock().UTC()
	m.persist(ctx, "call "+callID+" -> ended", func(ctx context.Context) error {
		return m.store.UpdateCall(ctx, callID, calls.CallUpdate{
			Status:  calls.StatusPtr(calls.CallStatusEnded),
			EndTime: calls.TimePtr(now),
		})
	})
	m.persist(ctx, "participants left "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipantsByCall(ctx, callID, calls.ParticipantUpdate{
			Status:    calls.PStatusPtr(calls.ParticipantStatusLeft),
			LeaveTime: calls.TimePtr(now),
		})
	})
	if m.onTransition != nil {
		m.onTransition(calls.CallStatusEnded)
	}

	payload := map[string]any{"callId": callID}
	m.notifyIdentity(e.Caller, "call:ended", payload)
	m.notifyIdentity(e.Receiver, "call:ended", payload)
}

// autoMiss fires when the ring window elapses without an accept. The status
// check makes a stale fire (accept won the race) a no-op; stopping the timer
// on every other transition is defense in depth on top of that.
func (m *Manager) autoMiss(callID string) {
	m.mu.Lock()
	ac, ok := m.active[callID]
	if !ok || ac.Status != calls.CallStatusRinging {
		m.mu.Unlock()
		return
	}
	delete(m.active, callID)
	e := ac.Entry
	m.mu.Unlock()

	ctx := context.Background()
	m.terminal(ctx, e)

	now := m.clock().UTC()
	m.persist(ctx, "call "+callID+" -> missed", func(ctx context.Context) error {
		return m.store.UpdateCall(ctx, callID, calls.CallUpdate{
			Status:  calls.StatusPtr(calls.CallStatusMissed),
			EndTime: calls.TimePtr(now),
		})
	})
	m.persist(ctx, "participant "+e.CallerUserID+" left "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipant(ctx, callID, e.CallerUserID, calls.ParticipantUpdate{
			Status:    calls.PStatusPtr(calls.ParticipantStatusLeft),
			LeaveTime: calls.TimePtr(now),
		})
	})
	m.persist(ctx, "participant "+e.ReceiverUserID+" missed "+callID, func(ctx context.Context) error {
		return m.store.UpdateParticipant(ctx, callID, e.ReceiverUserID, calls.ParticipantUpdate{
			Status: calls.PStatusPtr(calls.ParticipantStatusMissed),
		})
	})
	if m.onTransition != nil {
		m.onTransition(calls.CallStatusMissed)
	}

	payload := map[string]any{"callId": callID}
	m.notifyIdentity(e.Caller, "call:missed", payload)
	m.notifyIdentity(e.Receiver, "call:missed", payload)
}

// claim atomically removes the entry for callID, stopping its timer.
// Exactly one concurrent transition can claim a given call.
func (m *Manager) claim(callID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac, ok := m.active[callID]
	if !ok {
		return Entry{}, false
	}
	ac.timer.Stop()
	delete(m.active, callID)
	return ac.Entry, true
}

// terminal runs the bookkeeping every terminal transition shares: giving
// back the ring-cap slot (only when this call holds one) and dropping the
// call's metadata announcements.
func (m *Manager) terminal(ctx context.Context, e Entry) {
	if e.capHeld {
		m.releaseCap(ctx, e.Caller)
	}
	if m.onTerminal != nil {
		m.onTerminal(e.CallID)
	}
}

func (m *Manager) releaseCap(ctx context.Context, identity string) {
	if m.ringCap == nil {
		return
	}
	if err := m.ringCap.Release(ctx, identity); err != nil {
		m.log.Warn("ring cap release failed", "caller", identity, "err", err)
	}
}

// persist runs a durable write, logging and queuing it for retry on failure.
// The in-memory transition has already happened and is not rolled back.
func (m *Manager) persist(ctx context.Context, desc string, op reconcile.Op) {
	if err := op(ctx); err != nil {
		m.log.Error("durable write failed", "op", desc, "err", err)
		if m.retry != nil {
			m.retry.Append(desc, op)
		}
	}
}

func (m *Manager) notifyIdentity(identity, event string, payload any) {
	e, ok := m.reg.Lookup(identity)
	if !ok {
		return
	}
	m.send(e.Conn, event, payload)
}

func (m *Manager) send(conn presence.Conn, event string, payload any) {
	if conn == nil {
		return
	}
	if err := conn.Send(event, payload); err != nil {
		m.log.Debug("push failed", "event", event, "conn", conn.ID(), "err", err)
	}
}
