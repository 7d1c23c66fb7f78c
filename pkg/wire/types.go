// Package wire defines the data model shared between the server API, the
// duplex channel, and the session layer.
package wire

import (
	"encoding/json"
	"time"
)

// Message is a single chat message. Once the server has confirmed it, a
// message is immutable. Before confirmation the client uses a locally
// generated temporary ID and a correlation ID that the server echoes back,
// so the optimistic copy can be replaced rather than duplicated.
type Message struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	SenderID      string    `json:"sender_id"`
	RecipientID   string    `json:"recipient_id"`
	Content       string    `json:"content"`
	ThreadID      string    `json:"thread_id"`
	CreatedAt     time.Time `json:"created_at"`
	IsRead        bool      `json:"is_read"`
}

// ModerationStatus is the classifier's verdict for one send attempt.
type ModerationStatus string

const (
	StatusPassed  ModerationStatus = "passed"
	StatusBlocked ModerationStatus = "blocked"
	StatusError   ModerationStatus = "error"
)

// Event types pushed over the duplex channel.
const (
	EventNewMessage         = "new_message"
	EventNewInvitation      = "new_invitation"
	EventInvitationAccepted = "invitation_accepted"
	EventAuthenticated      = "authenticated"
	EventTyping             = "typing"
)

// Event is an inbound frame from the duplex channel, discriminated by Type.
// Message is populated for new_message events; Payload keeps the raw frame
// so subscribers can decode event-specific fields themselves.
type Event struct {
	Type    string          `json:"type"`
	Message *Message        `json:"message,omitempty"`
	Payload json.RawMessage `json:"-"`
}

// TypingFrame is the outbound typing-indicator relay frame.
type TypingFrame struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// DecodeEvent parses an inbound frame. Malformed frames and frames without
// a type tag return ok=false; the channel must never crash on bad input.
func DecodeEvent(data []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, false
	}
	if ev.Type == "" {
		return Event{}, false
	}
	ev.Payload = append(json.RawMessage(nil), data...)
	return ev, true
}
