package calls

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("calls: not found")

// CallUpdate carries the fields a transition may change on a call row.
// Nil fields are left untouched.
type CallUpdate struct {
	Status  *CallStatus
	EndTime *time.Time
}

// ParticipantUpdate carries the fields a transition may change on a
// participant row. Nil fields are left untouched.
type ParticipantUpdate struct {
	Status    *ParticipantStatus
	JoinTime  *time.Time
	LeaveTime *time.Time
}

// Store is the durable write contract the session manager depends on.
//
// All updates are idempotent upserts/updates by key; no transactional
// guarantee is assumed beyond per-call atomicity of each individual call.
type Store interface {
	CreateCall(ctx context.Context, c Call) error
	UpdateCall(ctx context.Context, callID string, upd CallUpdate) error
	CreateParticipants(ctx context.Context, ps []CallParticipant) error
	UpdateParticipant(ctx context.Context, callID, userID string, upd ParticipantUpdate) error
	UpdateParticipantsByCall(ctx context.Context, callID string, upd ParticipantUpdate) error
}

// StatusPtr is a convenience for building updates.
func StatusPtr(s CallStatus) *CallStatus { return &s }

// PStatusPtr is a convenience for building participant updates.
func PStatusPtr(s ParticipantStatus) *ParticipantStatus { return &s }

// TimePtr is a convenience for building updates.
func TimePtr(t time.Time) *time.Time { return &t }
