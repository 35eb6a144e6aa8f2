package chatkit

import (
	"time"

	"github.com/google/uuid"
)

// Entry is one row of the timeline: a confirmed server message, or an
// optimistic local send awaiting acknowledgement.
type Entry struct {
	Message
	// Token correlates an optimistic entry with its eventual server
	// acknowledgement. Matching by token, never by content, keeps two
	// identical texts sent in a row distinct.
	Token   string
	Pending bool
}

// Timeline reconciles three message sources into one ordered view:
// optimistic local sends, realtime events, and history pages. Confirmed
// entries are ordered by (sent_at, id) ascending, which is server commit
// order; pending local entries sit at the tail in the order they were
// typed. The zero ordering rule means an entry never moves once
// confirmed, it can only change status.
//
// Timeline is not safe for concurrent use; callers serialize access the
// same way they serialize UI updates.
type Timeline struct {
	entries []Entry
	byID    map[string]int
	byToken map[string]int
}

// NewTimeline creates an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{
		byID:    make(map[string]int),
		byToken: make(map[string]int),
	}
}

// Len returns the number of entries, pending included.
func (t *Timeline) Len() int { return len(t.entries) }

// Entries returns a copy of the timeline rows, oldest first.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// IndexOf returns the position of a confirmed message, or -1.
func (t *Timeline) IndexOf(messageID string) int {
	if i, ok := t.byID[messageID]; ok {
		return i
	}
	return -1
}

// AddLocal appends an optimistic entry for a send in flight and returns
// its correlation token. The entry renders immediately with the
// client-only sending status and a provisional local timestamp.
func (t *Timeline) AddLocal(senderID, content string) string {
	token := uuid.NewString()
	t.entries = append(t.entries, Entry{
		Message: Message{
			SenderID: senderID,
			Content:  content,
			Status:   StatusSending,
			SentAt:   time.Now(),
		},
		Token:   token,
		Pending: true,
	})
	t.byToken[token] = len(t.entries) - 1
	return token
}

// Confirm resolves an optimistic entry with the acknowledged server
// message. If the message already arrived over the realtime channel the
// pending entry is simply dropped. Returns false for unknown tokens.
func (t *Timeline) Confirm(token string, msg *Message) bool {
	i, ok := t.byToken[token]
	if !ok {
		return false
	}
	t.removeAt(i)

	if j, exists := t.byID[msg.ID]; exists {
		t.mergeAt(j, msg)
		return true
	}
	t.insertConfirmed(msg)
	return true
}

// Fail rolls back an optimistic entry whose send failed or timed out.
// The entry leaves the view entirely; its content is returned so the UI
// can surface the error with a retry affordance, and a retry goes
// through AddLocal again. If the server did commit the send after all, a
// later message.created event reconciles it as a fresh entry.
func (t *Timeline) Fail(token string) (Entry, bool) {
	i, ok := t.byToken[token]
	if !ok {
		return Entry{}, false
	}
	e := t.entries[i]
	t.removeAt(i)
	return e, true
}

// ApplyCreated merges a message.created event. A message already present
// is updated in place; duplicates never produce a second row.
func (t *Timeline) ApplyCreated(msg *Message) {
	if i, ok := t.byID[msg.ID]; ok {
		t.mergeAt(i, msg)
		return
	}
	t.insertConfirmed(msg)
}

// ApplyStatus merges a message.status event. Status only moves forward:
// a stale delivered arriving after read is ignored. Returns whether the
// entry changed.
func (t *Timeline) ApplyStatus(messageID, status string, at time.Time) bool {
	i, ok := t.byID[messageID]
	if !ok {
		return false
	}
	e := &t.entries[i]
	if statusRank(status) <= statusRank(e.Status) {
		return false
	}
	e.Status = status
	ts := at
	switch status {
	case StatusDelivered:
		if e.DeliveredAt == nil {
			e.DeliveredAt = &ts
		}
	case StatusRead:
		if e.DeliveredAt == nil {
			e.DeliveredAt = &ts
		}
		if e.ReadAt == nil {
			e.ReadAt = &ts
		}
	}
	return true
}

// PrependHistory merges one older history page (newest first, as served)
// into the timeline and returns how many new rows were inserted. Known
// messages are merged in place, so re-fetching an overlapping page is
// harmless.
func (t *Timeline) PrependHistory(msgs []Message) int {
	inserted := 0
	for i := range msgs {
		msg := &msgs[i]
		if j, ok := t.byID[msg.ID]; ok {
			t.mergeAt(j, msg)
			continue
		}
		t.insertConfirmed(msg)
		inserted++
	}
	return inserted
}

// DaySection is one calendar day of the timeline, for rendering date
// separators.
type DaySection struct {
	Date    time.Time // midnight in the grouping location
	Entries []Entry
}

// Days groups the timeline by calendar day in the given location.
// Grouping is presentational only; the underlying order is untouched.
func (t *Timeline) Days(loc *time.Location) []DaySection {
	if loc == nil {
		loc = time.Local
	}
	var sections []DaySection
	for _, e := range t.entries {
		day := midnight(e.SentAt.In(loc))
		if n := len(sections); n > 0 && sections[n-1].Date.Equal(day) {
			sections[n-1].Entries = append(sections[n-1].Entries, e)
			continue
		}
		sections = append(sections, DaySection{Date: day, Entries: []Entry{e}})
	}
	return sections
}

// ScrollAnchor pins a visible message across a history prepend so the
// viewport does not jump when older rows are inserted above it.
type ScrollAnchor struct {
	messageID string
	index     int
}

// RecordAnchor captures the current position of a confirmed message,
// typically the topmost visible one, before loading older history.
func (t *Timeline) RecordAnchor(messageID string) (ScrollAnchor, bool) {
	i, ok := t.byID[messageID]
	if !ok {
		return ScrollAnchor{}, false
	}
	return ScrollAnchor{messageID: messageID, index: i}, true
}

// AnchorShift reports how many rows were inserted above the anchored
// message since it was recorded. The caller scrolls by that many rows to
// keep the anchor visually fixed.
func (t *Timeline) AnchorShift(a ScrollAnchor) int {
	i, ok := t.byID[a.messageID]
	if !ok {
		return 0
	}
	return i - a.index
}

// insertConfirmed places a server message at its (sent_at, id) position.
// Pending entries always stay after every confirmed entry.
func (t *Timeline) insertConfirmed(msg *Message) {
	pos := len(t.entries)
	for i, e := range t.entries {
		if e.Pending || laterThan(&e.Message, msg) {
			pos = i
			break
		}
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = Entry{Message: *msg}
	t.reindex(pos)
}

// mergeAt folds a fresher server view of a known message into its entry.
// Status obeys the forward-only rule; timestamps are set-once.
func (t *Timeline) mergeAt(i int, msg *Message) {
	e := &t.entries[i]
	if statusRank(msg.Status) > statusRank(e.Status) {
		e.Status = msg.Status
	}
	if e.DeliveredAt == nil {
		e.DeliveredAt = msg.DeliveredAt
	}
	if e.ReadAt == nil {
		e.ReadAt = msg.ReadAt
	}
	if len(e.Media) == 0 {
		e.Media = msg.Media
	}
}

func (t *Timeline) removeAt(i int) {
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	t.reindex(i)
}

// reindex rebuilds the lookup maps from the given position onward.
func (t *Timeline) reindex(from int) {
	for i := from; i < len(t.entries); i++ {
		e := t.entries[i]
		if e.Pending {
			t.byToken[e.Token] = i
		} else {
			delete(t.byToken, e.Token)
			if e.ID != "" {
				t.byID[e.ID] = i
			}
		}
	}
	// Drop stale ids pointing past the end after a removal.
	for id, i := range t.byID {
		if i >= len(t.entries) || t.entries[i].ID != id {
			delete(t.byID, id)
		}
	}
	for token, i := range t.byToken {
		if i >= len(t.entries) || t.entries[i].Token != token || !t.entries[i].Pending {
			delete(t.byToken, token)
		}
	}
}

// laterThan orders confirmed messages by (sent_at, id); ids are ULIDs so
// the tiebreak matches creation order.
func laterThan(a, b *Message) bool {
	if !a.SentAt.Equal(b.SentAt) {
		return a.SentAt.After(b.SentAt)
	}
	return a.ID > b.ID
}

func midnight(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}
