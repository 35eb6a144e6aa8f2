// Package realtime fans chat events out to connected subscribers. One
// logical channel exists per chat; delivery is broadcast-only and
// best-effort, with no persistence of missed events. A subscriber that
// was disconnected at publish time recovers through history pagination.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teamgrid-app/teamgrid/internal/metrics"
	"github.com/teamgrid-app/teamgrid/internal/models"
)

// subscriber is a destination for one chat's events. *Conn implements it;
// tests substitute fakes.
type subscriber interface {
	userID() uuid.UUID
	enqueue(payload []byte) error
	shutdown(reason string)
}

// Hub routes events to the subscribers of each chat channel.
type Hub struct {
	mu     sync.Mutex
	chats  map[uuid.UUID][]subscriber
	logger zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		chats:  make(map[uuid.UUID][]subscriber),
		logger: logger,
	}
}

// Subscribe registers a connection on a chat channel. Membership must be
// authorized by the caller before subscribing.
func (h *Hub) Subscribe(chatID uuid.UUID, conn *Conn) {
	h.add(chatID, conn)
}

// Unsubscribe removes a connection from a chat channel.
func (h *Hub) Unsubscribe(chatID uuid.UUID, conn *Conn) {
	h.remove(chatID, conn)
}

func (h *Hub) add(chatID uuid.UUID, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chats[chatID] = append(h.chats[chatID], sub)
	metrics.RealtimeSubscribers.Inc()
}

func (h *Hub) remove(chatID uuid.UUID, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(chatID, sub)
}

func (h *Hub) removeLocked(chatID uuid.UUID, sub subscriber) {
	subs := h.chats[chatID]
	for i, s := range subs {
		if s == sub {
			h.chats[chatID] = append(subs[:i], subs[i+1:]...)
			metrics.RealtimeSubscribers.Dec()
			break
		}
	}
	if len(h.chats[chatID]) == 0 {
		delete(h.chats, chatID)
	}
}

// PublishEvent broadcasts an event to every subscriber of the chat.
// Fan-out happens under the hub lock, so each subscriber sees one chat's
// events in publish order. Subscribers that cannot absorb the event are
// dropped rather than allowed to block the channel.
func (h *Hub) PublishEvent(chatID uuid.UUID, ev models.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.chats[chatID]
	var dropped []subscriber
	for _, sub := range subs {
		if err := sub.enqueue(payload); err != nil {
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		h.logger.Warn().
			Str("chat_id", chatID.String()).
			Str("user_id", sub.userID().String()).
			Msg("dropping slow subscriber")
		metrics.DroppedSubscribers.Inc()
		h.removeLocked(chatID, sub)
		sub.shutdown("subscriber fell behind")
	}
	return nil
}

// Evict closes every subscription the user holds on the chat. Called
// when a participant is removed, so revoked members stop receiving
// events immediately instead of at their next reconnect.
func (h *Hub) Evict(chatID, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.chats[chatID]
	var evicted []subscriber
	for _, sub := range subs {
		if sub.userID() == userID {
			evicted = append(evicted, sub)
		}
	}
	for _, sub := range evicted {
		h.removeLocked(chatID, sub)
		sub.shutdown("membership revoked")
	}
}
