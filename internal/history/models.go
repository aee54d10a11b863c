package history

import (
	"time"

	"calling-platform/internal/calls"
)

// CallWithParticipants is one raw history row: a call plus everyone on it.
type CallWithParticipants struct {
	Call         calls.Call
	Participants []calls.CallParticipant
}

// Peer is another party on a historical call.
type Peer struct {
	UserID    string                  `json:"user_id"`
	Role      calls.ParticipantRole   `json:"role"`
	Status    calls.ParticipantStatus `json:"status"`
	JoinTime  *time.Time              `json:"join_time,omitempty"`
	LeaveTime *time.Time              `json:"leave_time,omitempty"`
}

// Entry is the flattened, client-facing shape of one historical call as seen
// by a particular user.
type Entry struct {
	CallID      string           `json:"call_id"`
	ChannelName string           `json:"channel_name"`
	Status      calls.CallStatus `json:"status"`

	// Direction is "outgoing" when the user hosted the call.
	Direction string `json:"direction"`

	// MyStatus is the user's own participant outcome (joined, missed, ...).
	MyStatus calls.ParticipantStatus `json:"my_status"`

	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	Peers []Peer `json:"peers"`
}

const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
)
