package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/teamgrid-app/teamgrid/internal/models"
)

// fakeSub is an in-process subscriber for hub tests.
type fakeSub struct {
	user     uuid.UUID
	payloads [][]byte
	full     bool
	closed   bool
	reason   string
}

func (s *fakeSub) userID() uuid.UUID { return s.user }

func (s *fakeSub) enqueue(payload []byte) error {
	if s.full {
		return errors.New("send buffer full")
	}
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *fakeSub) shutdown(reason string) {
	s.closed = true
	s.reason = reason
}

func testEvent(content string) models.Event {
	return models.NewMessageCreated(&models.Message{
		ID:      "01J9ZX3V5E8Q2N4T6W8YABCDEF",
		Content: content,
		Status:  models.StatusSent,
		SentAt:  time.Now().UTC(),
	})
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	chatID := uuid.New()
	a := &fakeSub{user: uuid.New()}
	b := &fakeSub{user: uuid.New()}
	h.add(chatID, a)
	h.add(chatID, b)

	// A subscriber on another chat must not hear anything.
	other := &fakeSub{user: uuid.New()}
	h.add(uuid.New(), other)

	if err := h.PublishEvent(chatID, testEvent("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, sub := range []*fakeSub{a, b} {
		if len(sub.payloads) != 1 {
			t.Fatalf("subscriber got %d payloads, want 1", len(sub.payloads))
		}
		var ev models.Event
		if err := json.Unmarshal(sub.payloads[0], &ev); err != nil {
			t.Fatalf("payload not an event: %v", err)
		}
		if ev.Type != models.EventMessageCreated || ev.Message.Content != "hello" {
			t.Errorf("event = %+v", ev)
		}
	}
	if len(other.payloads) != 0 {
		t.Errorf("unrelated chat received %d payloads", len(other.payloads))
	}
}

func TestPublishOrderPerChat(t *testing.T) {
	h := NewHub(zerolog.Nop())
	chatID := uuid.New()
	sub := &fakeSub{user: uuid.New()}
	h.add(chatID, sub)

	for _, content := range []string{"one", "two", "three"} {
		if err := h.PublishEvent(chatID, testEvent(content)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	var got []string
	for _, p := range sub.payloads {
		var ev models.Event
		if err := json.Unmarshal(p, &ev); err != nil {
			t.Fatal(err)
		}
		got = append(got, ev.Message.Content)
	}
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	h := NewHub(zerolog.Nop())
	chatID := uuid.New()
	healthy := &fakeSub{user: uuid.New()}
	slow := &fakeSub{user: uuid.New(), full: true}
	h.add(chatID, healthy)
	h.add(chatID, slow)

	if err := h.PublishEvent(chatID, testEvent("hello")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if !slow.closed {
		t.Error("slow subscriber was not shut down")
	}
	if len(healthy.payloads) != 1 {
		t.Errorf("healthy subscriber got %d payloads, want 1", len(healthy.payloads))
	}

	// The dropped subscriber is gone for the next publish.
	if err := h.PublishEvent(chatID, testEvent("again")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(healthy.payloads) != 2 {
		t.Errorf("healthy subscriber got %d payloads, want 2", len(healthy.payloads))
	}
}

func TestEvictClosesOnlyTargetUser(t *testing.T) {
	h := NewHub(zerolog.Nop())
	chatID := uuid.New()
	target := uuid.New()
	phone := &fakeSub{user: target}
	laptop := &fakeSub{user: target}
	bystander := &fakeSub{user: uuid.New()}
	h.add(chatID, phone)
	h.add(chatID, laptop)
	h.add(chatID, bystander)

	h.Evict(chatID, target)

	if !phone.closed || !laptop.closed {
		t.Error("evicted user's subscriptions still open")
	}
	if bystander.closed {
		t.Error("bystander was evicted")
	}

	if err := h.PublishEvent(chatID, testEvent("after")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(phone.payloads) != 0 || len(laptop.payloads) != 0 {
		t.Error("evicted subscriptions still receive events")
	}
	if len(bystander.payloads) != 1 {
		t.Errorf("bystander got %d payloads, want 1", len(bystander.payloads))
	}
}

func TestUnsubscribeRemoves(t *testing.T) {
	h := NewHub(zerolog.Nop())
	chatID := uuid.New()
	sub := &fakeSub{user: uuid.New()}
	h.add(chatID, sub)
	h.remove(chatID, sub)

	if err := h.PublishEvent(chatID, testEvent("gone")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(sub.payloads) != 0 {
		t.Errorf("removed subscriber got %d payloads", len(sub.payloads))
	}
}
