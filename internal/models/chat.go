package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatKind distinguishes two-party chats from multi-party ones.
type ChatKind string

const (
	ChatPrivate ChatKind = "private"
	ChatGroup   ChatKind = "group"
)

// Role is a participant's role within a chat.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// CanManage reports whether the role may mutate the participant roster.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Chat is a conversation within a company. A private chat has exactly two
// participants, both owners. A group chat has a display name and a single
// creation-time owner.
type Chat struct {
	ID        uuid.UUID `json:"id"`
	Kind      ChatKind  `json:"kind"`
	Name      string    `json:"name,omitempty"` // group chats only
	CompanyID uuid.UUID `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatParticipant is the membership edge between a chat and a user.
type ChatParticipant struct {
	ChatID   uuid.UUID `json:"chat_id"`
	UserID   uuid.UUID `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// ChatSummary is a chat as shown in the chat list: the chat itself plus
// the newest message and the caller's unread count.
type ChatSummary struct {
	Chat        Chat     `json:"chat"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}
