// Package chat implements the chat domain operations: message send,
// delivery-state transitions, the membership registry and history
// pagination. All authorization decisions live here; handlers and stores
// stay policy-free.
package chat

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teamgrid-app/teamgrid/internal/blob"
	"github.com/teamgrid-app/teamgrid/internal/chaterr"
	"github.com/teamgrid-app/teamgrid/internal/metrics"
	"github.com/teamgrid-app/teamgrid/internal/models"
	"github.com/teamgrid-app/teamgrid/internal/store"
)

// Publisher fans chat events out to live subscribers. Publish failures
// are best-effort by contract: the service logs them and moves on.
type Publisher interface {
	PublishEvent(chatID uuid.UUID, ev models.Event) error
	// Evict closes any open subscription the user holds on the chat.
	Evict(chatID, userID uuid.UUID)
}

// AttachmentUpload is an incoming file for a message send.
type AttachmentUpload struct {
	FileName string
	MimeType string
	Size     int64
	Data     io.Reader
}

// DefaultMaxAttachmentBytes caps a single attachment at 10 MiB.
const DefaultMaxAttachmentBytes = 10 << 20

// MaxAttachmentsPerMessage caps how many files one send can carry. The
// size limit is per file; the transport body cap is sized for a full
// set.
const MaxAttachmentsPerMessage = 10

// Service wires the durable store, blob storage, the realtime publisher
// and the unread-hint cache into the chat operations.
type Service struct {
	store   store.ChatStore
	hints   *store.RedisStore // nil when Redis is not configured
	blobs   blob.Store
	pub     Publisher
	logger  zerolog.Logger
	maxSize int64
}

// NewService creates the chat service. hints may be nil.
func NewService(st store.ChatStore, hints *store.RedisStore, blobs blob.Store, pub Publisher, logger zerolog.Logger, maxAttachmentBytes int64) *Service {
	if maxAttachmentBytes <= 0 {
		maxAttachmentBytes = DefaultMaxAttachmentBytes
	}
	return &Service{
		store:   st,
		hints:   hints,
		blobs:   blobs,
		pub:     pub,
		logger:  logger,
		maxSize: maxAttachmentBytes,
	}
}

// Send validates, persists and announces a new message. The publish
// happens only after the durable commit and never fails the send.
func (s *Service) Send(ctx context.Context, chatID, senderID uuid.UUID, content string, attachments []AttachmentUpload) (*models.Message, error) {
	if content == "" && len(attachments) == 0 {
		return nil, chaterr.Validation("message requires content or at least one attachment")
	}
	if len(attachments) > MaxAttachmentsPerMessage {
		return nil, chaterr.Validation("at most %d attachments per message", MaxAttachmentsPerMessage)
	}
	for _, a := range attachments {
		if a.Size > s.maxSize {
			return nil, chaterr.Validation("attachment %q exceeds %d bytes", a.FileName, s.maxSize)
		}
		if a.FileName == "" {
			return nil, chaterr.Validation("attachment is missing a file name")
		}
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, chaterr.Storage("load chat", err)
	}
	if chat == nil {
		return nil, chaterr.NotFound("chat %s not found", chatID)
	}
	if err := s.requireParticipant(ctx, chatID, senderID); err != nil {
		return nil, err
	}

	msg := &models.Message{
		ChatID:   chatID,
		SenderID: senderID,
		Content:  content,
	}

	// Blobs are written before the database transaction; if the commit
	// fails they are orphaned bytes with no row pointing at them, and are
	// deleted best-effort below. A media row without its blob is the
	// failure mode the ordering rules out.
	var keys []string
	for _, a := range attachments {
		key := fmt.Sprintf("chats/%s/%s", chatID, uuid.New())
		if err := s.blobs.Put(ctx, key, a.MimeType, a.Data); err != nil {
			s.discardBlobs(ctx, keys)
			return nil, chaterr.Storage("store attachment", err)
		}
		keys = append(keys, key)
		msg.Media = append(msg.Media, models.MessageMedia{
			Type:       models.MediaTypeForMime(a.MimeType),
			StorageKey: key,
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			SizeBytes:  a.Size,
		})
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		s.discardBlobs(ctx, keys)
		return nil, chaterr.Storage("insert message", err)
	}

	metrics.MessagesSent.WithLabelValues(string(chat.Kind)).Inc()
	for _, m := range msg.Media {
		metrics.AttachmentBytes.Add(float64(m.SizeBytes))
	}
	s.publish(chatID, models.NewMessageCreated(msg))
	s.bumpUnreadHints(ctx, chatID, senderID)

	return msg, nil
}

// MarkDelivered transitions a message to delivered on behalf of a
// recipient.
func (s *Service) MarkDelivered(ctx context.Context, chatID uuid.UUID, messageID string, actorID uuid.UUID) (*models.Message, error) {
	return s.updateStatus(ctx, chatID, messageID, models.StatusDelivered, actorID)
}

// MarkRead transitions a message to read on behalf of a recipient.
// Delivered may be skipped; the delivered_at timestamp is then set
// atomically with read_at.
func (s *Service) MarkRead(ctx context.Context, chatID uuid.UUID, messageID string, actorID uuid.UUID) (*models.Message, error) {
	return s.updateStatus(ctx, chatID, messageID, models.StatusRead, actorID)
}

// updateStatus applies the delivery state machine:
//
//	sent -> delivered -> read, with sent -> read allowed.
//
// Repeating an already-reached status is an idempotent no-op that returns
// the current message. Senders can never mark their own messages.
func (s *Service) updateStatus(ctx context.Context, chatID uuid.UUID, messageID string, to models.MessageStatus, actorID uuid.UUID) (*models.Message, error) {
	if to != models.StatusDelivered && to != models.StatusRead {
		return nil, chaterr.InvalidTransition("%q is not a reachable target status", to)
	}

	msg, err := s.store.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, chaterr.Storage("load message", err)
	}
	if msg == nil {
		return nil, chaterr.NotFound("message %s not found in chat %s", messageID, chatID)
	}
	if err := s.requireParticipant(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	if msg.SenderID == actorID {
		return nil, chaterr.Authorization("sender cannot mark own message %s", to)
	}

	now := time.Now().UTC()
	updated, transitioned, err := s.store.TransitionStatus(ctx, chatID, messageID, to, now)
	if err != nil {
		return nil, chaterr.Storage("transition status", err)
	}
	if updated == nil {
		return nil, chaterr.NotFound("message %s not found in chat %s", messageID, chatID)
	}

	if transitioned {
		metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
		s.publish(chatID, models.NewMessageStatus(updated.ID, updated.Status, now))
	}
	if to == models.StatusRead && s.hints != nil {
		if err := s.hints.DropUnreadHint(ctx, chatID, actorID); err != nil {
			s.logger.Debug().Err(err).Msg("drop unread hint")
		}
	}
	return updated, nil
}

// ListChats returns the caller's chats with last-message summaries and
// unread counts. Unread counts come from the Redis hint cache when warm
// and from the store otherwise.
func (s *Service) ListChats(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error) {
	chats, err := s.store.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, chaterr.Storage("list chats", err)
	}

	summaries := make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		last, err := s.store.LastMessage(ctx, chat.ID)
		if err != nil {
			return nil, chaterr.Storage("load last message", err)
		}
		unread, err := s.unreadCount(ctx, chat.ID, userID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.ChatSummary{
			Chat:        chat,
			LastMessage: last,
			UnreadCount: unread,
		})
	}
	return summaries, nil
}

// Media authorizes and resolves an attachment download.
func (s *Service) Media(ctx context.Context, chatID, userID, mediaID uuid.UUID) (*models.MessageMedia, error) {
	if err := s.requireParticipant(ctx, chatID, userID); err != nil {
		return nil, err
	}
	m, err := s.store.GetMedia(ctx, chatID, mediaID)
	if err != nil {
		return nil, chaterr.Storage("load media", err)
	}
	if m == nil {
		return nil, chaterr.NotFound("attachment %s not found in chat %s", mediaID, chatID)
	}
	return m, nil
}

func (s *Service) unreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	if s.hints != nil {
		if n, ok, err := s.hints.GetUnreadHint(ctx, chatID, userID); err == nil && ok {
			return n, nil
		}
	}
	n, err := s.store.UnreadCount(ctx, chatID, userID)
	if err != nil {
		return 0, chaterr.Storage("count unread", err)
	}
	if s.hints != nil {
		if err := s.hints.SetUnreadHint(ctx, chatID, userID, n); err != nil {
			s.logger.Debug().Err(err).Msg("set unread hint")
		}
	}
	return n, nil
}

func (s *Service) bumpUnreadHints(ctx context.Context, chatID, senderID uuid.UUID) {
	if s.hints == nil {
		return
	}
	participants, err := s.store.ListParticipants(ctx, chatID)
	if err != nil {
		s.logger.Debug().Err(err).Msg("list participants for unread hints")
		return
	}
	ids := make([]uuid.UUID, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	if err := s.hints.BumpUnreadHints(ctx, chatID, senderID, ids); err != nil {
		s.logger.Debug().Err(err).Msg("bump unread hints")
	}
}

// publish sends an event to the chat channel. Failures are logged and
// counted; they never propagate to the caller of the mutating operation.
func (s *Service) publish(chatID uuid.UUID, ev models.Event) {
	if err := s.pub.PublishEvent(chatID, ev); err != nil {
		metrics.PublishFailures.Inc()
		s.logger.Warn().
			Err(chaterr.Channel("publish "+ev.Type, err)).
			Str("chat_id", chatID.String()).
			Msg("event publish failed")
	}
}

// requireParticipant returns an authorization error unless the user is a
// member of the chat. Checked synchronously against the store on every
// mutating path; never against a cache.
func (s *Service) requireParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	p, err := s.store.GetParticipant(ctx, chatID, userID)
	if err != nil {
		return chaterr.Storage("load participant", err)
	}
	if p == nil {
		return chaterr.Authorization("user %s is not a participant of chat %s", userID, chatID)
	}
	return nil
}

func (s *Service) discardBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("orphaned blob cleanup failed")
		}
	}
}
