package chatkit

import "context"

// VisibilityThreshold is how much of a message must be on screen before
// it counts as seen.
const VisibilityThreshold = 0.5

// receiptSender is the slice of Client the tracker needs; tests
// substitute fakes.
type receiptSender interface {
	MarkRead(ctx context.Context, chatID, messageID string) (*Message, error)
}

// ReadTracker issues read receipts for messages as they become visible.
// Each message gets at most one receipt attempt per session, so a chat
// being scrolled up and down does not spray duplicate requests. The
// server treats repeats as no-ops anyway; the tracker only saves the
// round-trips.
type ReadTracker struct {
	client    receiptSender
	selfID    string
	attempted map[string]bool
}

// NewReadTracker creates a tracker for the current user's session.
func NewReadTracker(client receiptSender, selfID string) *ReadTracker {
	return &ReadTracker{
		client:    client,
		selfID:    selfID,
		attempted: make(map[string]bool),
	}
}

// Eligible reports whether a visibility change should produce a receipt:
// enough of the message is on screen, it is someone else's message, it
// is not already read, and this session has not tried before.
func (rt *ReadTracker) Eligible(e *Entry, visibleFraction float64) bool {
	if visibleFraction < VisibilityThreshold {
		return false
	}
	if e.Pending || e.ID == "" {
		return false
	}
	if e.SenderID == rt.selfID {
		return false
	}
	if e.Status == StatusRead {
		return false
	}
	return !rt.attempted[e.ID]
}

// Observe handles a visibility change for one entry. When the entry is
// eligible it sends the read receipt and returns the server's view of
// the message. A failed send clears the attempt guard so the next
// visibility change retries.
func (rt *ReadTracker) Observe(ctx context.Context, e *Entry, visibleFraction float64) (*Message, error) {
	if !rt.Eligible(e, visibleFraction) {
		return nil, nil
	}
	rt.attempted[e.ID] = true

	msg, err := rt.client.MarkRead(ctx, e.ChatID, e.ID)
	if err != nil {
		delete(rt.attempted, e.ID)
		return nil, err
	}
	return msg, nil
}

// Reset forgets all attempts, e.g. when switching chats or reconnecting
// under a new session.
func (rt *ReadTracker) Reset() {
	rt.attempted = make(map[string]bool)
}
