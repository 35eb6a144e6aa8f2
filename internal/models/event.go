package models

import "time"

// Event types carried on a chat's realtime channel. The set is closed:
// consumers switch exhaustively on the type tag.
const (
	EventMessageCreated = "message.created"
	EventMessageStatus  = "message.status"
)

// Event is the wire envelope for chat channel events. Exactly one of the
// payload fields is populated, selected by Type.
type Event struct {
	Type    string         `json:"type"`
	Message *Message       `json:"message,omitempty"`
	Status  *StatusChanged `json:"status,omitempty"`
}

// StatusChanged is the payload of a message.status event.
type StatusChanged struct {
	MessageID string        `json:"message_id"`
	Status    MessageStatus `json:"status"`
	At        time.Time     `json:"at"`
}

// NewMessageCreated builds a message.created event.
func NewMessageCreated(msg *Message) Event {
	return Event{Type: EventMessageCreated, Message: msg}
}

// NewMessageStatus builds a message.status event.
func NewMessageStatus(messageID string, status MessageStatus, at time.Time) Event {
	return Event{
		Type:   EventMessageStatus,
		Status: &StatusChanged{MessageID: messageID, Status: status, At: at},
	}
}
