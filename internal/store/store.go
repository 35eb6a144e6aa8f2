package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid-app/teamgrid/internal/models"
)

// ChatStore is the durable storage interface for chats, participants,
// messages and media. Both PostgresStore and SQLiteStore implement it.
//
// Lookup methods return (nil, nil) when the entity does not exist; the
// service layer turns that into a NotFound error. Mutating methods return
// raw storage errors for the service layer to wrap.
type ChatStore interface {
	Close() error
	Ping(ctx context.Context) error

	// Chat operations
	CreateChat(ctx context.Context, chat *models.Chat, participants []models.ChatParticipant) error
	GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error)
	ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error)

	// Participant operations
	GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (*models.ChatParticipant, error)
	ListParticipants(ctx context.Context, chatID uuid.UUID) ([]models.ChatParticipant, error)
	// AddParticipants is idempotent per user: already-present members are
	// left untouched, keeping concurrent retries safe.
	AddParticipants(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID, role models.Role) error
	RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error
	UpdateParticipantRole(ctx context.Context, chatID, userID uuid.UUID, role models.Role) error

	// Message operations. InsertMessage assigns the ULID id and sent_at
	// under a per-chat lock and writes message plus media in one
	// transaction. TransitionStatus applies a forward-only status change;
	// it returns the post-call message and whether a genuine transition
	// happened (false means idempotent no-op).
	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, chatID uuid.UUID, messageID string) (*models.Message, error)
	TransitionStatus(ctx context.Context, chatID uuid.UUID, messageID string, to models.MessageStatus, at time.Time) (*models.Message, bool, error)
	ListMessages(ctx context.Context, chatID uuid.UUID, limit int, before *Cursor) ([]models.Message, bool, error)
	SearchMessages(ctx context.Context, chatID uuid.UUID, query string, limit int, before *Cursor) ([]models.Message, int, bool, error)
	LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error)
	UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error)
	GetMedia(ctx context.Context, chatID, mediaID uuid.UUID) (*models.MessageMedia, error)
}

// Cursor points at the oldest message a client has already seen. Pages
// are bounded by (sent_at, id) so pagination stays stable when messages
// share a timestamp.
type Cursor struct {
	SentAt time.Time
	ID     string
}

// CursorFor returns the cursor positioned at the given message.
func CursorFor(msg *models.Message) Cursor {
	return Cursor{SentAt: msg.SentAt, ID: msg.ID}
}

// String encodes the cursor for transport: "<unix_nano>.<message_id>".
// Nanosecond precision keeps the round trip lossless: Postgres stores
// sent_at at microseconds, and a floored cursor would permanently skip
// older messages sharing its truncated instant.
func (c Cursor) String() string {
	return fmt.Sprintf("%d.%s", c.SentAt.UnixNano(), c.ID)
}

// ParseCursor decodes a transport cursor. Empty input yields nil,
// meaning "most recent page".
func ParseCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	nanos, id, ok := strings.Cut(s, ".")
	if !ok || id == "" {
		return nil, fmt.Errorf("malformed cursor %q", s)
	}
	ns, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor %q: %w", s, err)
	}
	return &Cursor{SentAt: time.Unix(0, ns).UTC(), ID: id}, nil
}
