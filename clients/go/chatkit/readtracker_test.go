package chatkit

import (
	"context"
	"errors"
	"testing"
)

type fakeReceipts struct {
	calls []string
	err   error
}

func (f *fakeReceipts) MarkRead(ctx context.Context, chatID, messageID string) (*Message, error) {
	f.calls = append(f.calls, messageID)
	if f.err != nil {
		return nil, f.err
	}
	return &Message{ID: messageID, ChatID: chatID, Status: StatusRead}, nil
}

func visibleEntry(id, sender string) *Entry {
	return &Entry{Message: Message{ID: id, ChatID: "c1", SenderID: sender, Status: StatusSent}}
}

func TestObserveSendsOneReceipt(t *testing.T) {
	ctx := context.Background()
	rcpt := &fakeReceipts{}
	rt := NewReadTracker(rcpt, "me")
	e := visibleEntry("01A", "alice")

	msg, err := rt.Observe(ctx, e, 1.0)
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if msg == nil || msg.Status != StatusRead {
		t.Fatalf("receipt result = %+v", msg)
	}

	// Scrolling the message in and out again must not resend.
	for i := 0; i < 3; i++ {
		if msg, _ := rt.Observe(ctx, e, 1.0); msg != nil {
			t.Fatal("duplicate receipt sent")
		}
	}
	if len(rcpt.calls) != 1 {
		t.Fatalf("MarkRead called %d times, want 1", len(rcpt.calls))
	}
}

func TestObserveEligibility(t *testing.T) {
	rt := NewReadTracker(&fakeReceipts{}, "me")

	// Barely visible.
	if rt.Eligible(visibleEntry("01A", "alice"), 0.4) {
		t.Error("entry below visibility threshold was eligible")
	}
	// Own message.
	if rt.Eligible(visibleEntry("01B", "me"), 1.0) {
		t.Error("own message was eligible")
	}
	// Already read.
	read := visibleEntry("01C", "alice")
	read.Status = StatusRead
	if rt.Eligible(read, 1.0) {
		t.Error("already-read message was eligible")
	}
	// Optimistic local entry without a server id.
	pending := &Entry{Message: Message{SenderID: "alice", Status: StatusSending}, Pending: true}
	if rt.Eligible(pending, 1.0) {
		t.Error("pending entry was eligible")
	}

	if !rt.Eligible(visibleEntry("01D", "alice"), 0.5) {
		t.Error("eligible entry at exact threshold was rejected")
	}
}

func TestObserveRetriesAfterFailure(t *testing.T) {
	ctx := context.Background()
	rcpt := &fakeReceipts{err: errors.New("network down")}
	rt := NewReadTracker(rcpt, "me")
	e := visibleEntry("01A", "alice")

	if _, err := rt.Observe(ctx, e, 1.0); err == nil {
		t.Fatal("expected error from failed receipt")
	}

	// The guard clears on failure, so the next visibility change retries.
	rcpt.err = nil
	msg, err := rt.Observe(ctx, e, 1.0)
	if err != nil || msg == nil {
		t.Fatalf("retry after failure = (%v, %v)", msg, err)
	}
	if len(rcpt.calls) != 2 {
		t.Fatalf("MarkRead called %d times, want 2", len(rcpt.calls))
	}
}

func TestResetForgetsAttempts(t *testing.T) {
	ctx := context.Background()
	rcpt := &fakeReceipts{}
	rt := NewReadTracker(rcpt, "me")
	e := visibleEntry("01A", "alice")

	rt.Observe(ctx, e, 1.0)
	rt.Reset()
	rt.Observe(ctx, e, 1.0)

	if len(rcpt.calls) != 2 {
		t.Fatalf("MarkRead called %d times after reset, want 2", len(rcpt.calls))
	}
}
