package signaling

import "encoding/json"

// Envelope frames every inbound signaling event: a name plus a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// outbound mirrors Envelope for server-pushed events.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type announcePresencePayload struct {
	Identity string `json:"identity"`
	UserID   string `json:"userId"`
}

type lookupPresencePayload struct {
	Identity string `json:"identity"`
}

type callRequestPayload struct {
	From        string `json:"from"`
	To          string `json:"to"`
	FromDisplay string `json:"fromDisplay"`
}

type callRefPayload struct {
	CallID string `json:"callId"`
}

type metadataAnnouncePayload struct {
	CallID      string `json:"callId"`
	SubjectID   string `json:"subjectId"`
	DisplayName string `json:"displayName"`
}

type metadataQueryPayload struct {
	CallID    string `json:"callId"`
	SubjectID string `json:"subjectId"`
}
