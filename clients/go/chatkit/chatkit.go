// Package chatkit is the Go client for the teamgrid chat API. It wraps
// the HTTP surface and provides the client-side reconciliation pieces:
// an optimistic timeline that merges local sends with realtime events and
// history pages, and a read tracker that issues at-most-one read receipt
// per message per session.
package chatkit

import (
	"time"
)

// Message delivery statuses as they appear on the wire. StatusSending is
// client-only: it marks an optimistic local entry whose send has not been
// acknowledged, and is never sent to or received from the server.
const (
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// statusRank orders server statuses for monotonicity checks. The
// client-only sending state ranks below everything the server can say.
func statusRank(status string) int {
	switch status {
	case StatusSending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return -1
}

// Message mirrors the server's message representation.
type Message struct {
	ID          string     `json:"id"`
	ChatID      string     `json:"chat_id"`
	SenderID    string     `json:"sender_id"`
	Content     string     `json:"content,omitempty"`
	Status      string     `json:"status"`
	SentAt      time.Time  `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	Media       []Media    `json:"media,omitempty"`
}

// Media is a file attached to a message.
type Media struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	Type      string `json:"type"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Chat is a conversation the user participates in.
type Chat struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name,omitempty"`
	CompanyID string    `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSummary is one entry of the chat list.
type ChatSummary struct {
	Chat        Chat     `json:"chat"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

// Page is one backward page of history, newest first.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
	HasMore    bool      `json:"has_more"`
}

// SearchPage is a Page plus the total match count across the chat.
type SearchPage struct {
	Page
	TotalCount int `json:"total_count"`
}

// Realtime event types. The set is closed.
const (
	EventMessageCreated = "message.created"
	EventMessageStatus  = "message.status"
)

// Event is the envelope carried on a chat's websocket channel.
type Event struct {
	Type    string         `json:"type"`
	Message *Message       `json:"message,omitempty"`
	Status  *StatusChanged `json:"status,omitempty"`
}

// StatusChanged is the payload of a message.status event.
type StatusChanged struct {
	MessageID string    `json:"message_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}
