package remote

import "setlist-service/internal/setlist"

// Frame is the websocket wire envelope shared by the server endpoint
// and the client session. Submits flow up; acks and accepted events
// flow down.
type Frame struct {
	Type string `json:"type"`

	// FrameSubmit
	Mutation *setlist.Mutation `json:"mutation,omitempty"`

	// FrameAccepted / FrameRejected
	MutationID string `json:"mutationId,omitempty"`
	Version    uint64 `json:"version,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// FrameEvent
	Event *setlist.Event `json:"event,omitempty"`
}

const (
	FrameSubmit   = "submit"
	FrameAccepted = "accepted"
	FrameRejected = "rejected"
	FrameEvent    = "event"
)
