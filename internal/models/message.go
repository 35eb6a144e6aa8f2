package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the delivery lifecycle of a message: sent, then
// delivered, then read. Transitions only move forward; "read" is terminal.
// A client-side "sending" state exists only in the client library and is
// never persisted.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Rank orders statuses for monotonicity checks. Unknown statuses rank
// below "sent" so they never win a comparison.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// MediaType classifies an attachment for rendering and streaming.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// Seekable reports whether the media type is served with byte-range
// support (video and audio scrubbing).
func (t MediaType) Seekable() bool {
	return t == MediaVideo || t == MediaAudio
}

// Message is a chat message. IDs are ULIDs, so lexical order matches
// creation order within a chat. Content may be empty only when the
// message carries attachments. The status field is authoritative;
// DeliveredAt and ReadAt are denormalized evidence written in the same
// update that moves the status.
type Message struct {
	ID          string         `json:"id"` // ULID
	ChatID      uuid.UUID      `json:"chat_id"`
	SenderID    uuid.UUID      `json:"sender_id"`
	Content     string         `json:"content,omitempty"`
	Status      MessageStatus  `json:"status"`
	SentAt      time.Time      `json:"sent_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	Media       []MessageMedia `json:"media,omitempty"`
}

// MessageMedia is a file attached to a message. Rows are written in the
// same transaction as their parent message and are immutable afterwards.
type MessageMedia struct {
	ID         uuid.UUID `json:"id"`
	MessageID  string    `json:"message_id"`
	Type       MediaType `json:"type"`
	StorageKey string    `json:"-"`
	FileName   string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	SizeBytes  int64     `json:"size_bytes"`
}

// MediaTypeForMime maps a MIME type onto the attachment classification.
func MediaTypeForMime(mime string) MediaType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaImage
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return MediaAudio
	}
	return MediaDocument
}
