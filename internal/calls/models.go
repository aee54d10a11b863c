package calls

import "time"

// Call is the durable record of one signaling session between a creator and
// one counterpart. The call id is assigned by the server at request time and
// doubles as the media channel name in the two-party case.
//
// Status is monotone through a fixed transition graph:
// ringing -> active -> ended; ringing -> {canceled, rejected, missed, ended}.
// Once terminal, a call is never re-opened.

type Call struct {
	CallID    string `json:"call_id" db:"call_id"`
	CreatedBy string `json:"created_by" db:"created_by"`

	IsGroupCall bool   `json:"is_group_call" db:"is_group_call"`
	ChannelName string `json:"channel_name" db:"channel_name"`

	Status CallStatus `json:"status" db:"status"`

	// ScheduledAt is stored but no transition currently reads it.
	ScheduledAt *time.Time `json:"scheduled_at,omitempty" db:"scheduled_at"`
	EndTime     *time.Time `json:"end_time,omitempty" db:"end_time"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusActive   CallStatus = "active"
	CallStatusEnded    CallStatus = "ended"
	CallStatusCanceled CallStatus = "canceled"
	CallStatusRejected CallStatus = "rejected"
	CallStatusMissed   CallStatus = "missed"
)

// Terminal reports whether s is a final status.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusCanceled, CallStatusRejected, CallStatusMissed:
		return true
	default:
		return false
	}
}

// CallParticipant is one row per (call, user) pair.
//
// Invariant: exactly one host per call (the creator, auto-joined at request
// time); exactly one other participant in the two-party case. The receiver's
// row is created with status "missed" as a placeholder and overwritten when
// the call is accepted.

type CallParticipant struct {
	CallID string `json:"call_id" db:"call_id"`
	UserID string `json:"user_id" db:"user_id"`

	Role   ParticipantRole   `json:"role" db:"role"`
	Status ParticipantStatus `json:"status" db:"status"`

	JoinTime  *time.Time `json:"join_time,omitempty" db:"join_time"`
	LeaveTime *time.Time `json:"leave_time,omitempty" db:"leave_time"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleParticipant ParticipantRole = "participant"
)

type ParticipantStatus string

const (
	ParticipantStatusMissed   ParticipantStatus = "missed"
	ParticipantStatusRejected ParticipantStatus = "rejected"
	ParticipantStatusJoined   ParticipantStatus = "joined"
	ParticipantStatusLeft     ParticipantStatus = "left"
)
