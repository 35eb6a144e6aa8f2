package chatkit

import (
	"testing"
	"time"
)

func serverMsg(id string, sentAt time.Time, content string) *Message {
	return &Message{
		ID:       id,
		ChatID:   "c1",
		SenderID: "alice",
		Content:  content,
		Status:   StatusSent,
		SentAt:   sentAt,
	}
}

func entryIDs(t *Timeline) []string {
	var ids []string
	for _, e := range t.Entries() {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestOptimisticSendConfirm(t *testing.T) {
	tl := NewTimeline()
	token := tl.AddLocal("alice", "hello")

	entries := tl.Entries()
	if len(entries) != 1 || !entries[0].Pending || entries[0].Status != StatusSending {
		t.Fatalf("pending entry = %+v", entries[0])
	}

	now := time.Now()
	if !tl.Confirm(token, serverMsg("01B", now, "hello")) {
		t.Fatal("confirm returned false for known token")
	}

	entries = tl.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Pending || e.ID != "01B" || e.Status != StatusSent {
		t.Fatalf("confirmed entry = %+v", e)
	}
}

func TestTwoIdenticalTextsStayDistinct(t *testing.T) {
	tl := NewTimeline()
	tok1 := tl.AddLocal("alice", "ok")
	tok2 := tl.AddLocal("alice", "ok")
	if tok1 == tok2 {
		t.Fatal("correlation tokens collided")
	}

	now := time.Now()
	tl.Confirm(tok1, serverMsg("01A", now, "ok"))
	tl.Confirm(tok2, serverMsg("01B", now.Add(time.Second), "ok"))

	ids := entryIDs(tl)
	if len(ids) != 2 || ids[0] != "01A" || ids[1] != "01B" {
		t.Fatalf("ids = %v, want [01A 01B]", ids)
	}
}

func TestEventArrivesBeforeAck(t *testing.T) {
	tl := NewTimeline()
	token := tl.AddLocal("alice", "hello")

	// The realtime echo of our own send lands before the HTTP response.
	msg := serverMsg("01B", time.Now(), "hello")
	tl.ApplyCreated(msg)
	if tl.Len() != 2 {
		t.Fatalf("len = %d before ack, want 2 (pending + event)", tl.Len())
	}

	tl.Confirm(token, msg)
	if tl.Len() != 1 {
		t.Fatalf("len = %d after ack, want 1", tl.Len())
	}
	if ids := entryIDs(tl); ids[0] != "01B" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestApplyCreatedDedupes(t *testing.T) {
	tl := NewTimeline()
	msg := serverMsg("01A", time.Now(), "hi")
	tl.ApplyCreated(msg)
	tl.ApplyCreated(msg)
	if tl.Len() != 1 {
		t.Fatalf("len = %d, want 1", tl.Len())
	}
}

func TestApplyStatusMonotonic(t *testing.T) {
	tl := NewTimeline()
	tl.ApplyCreated(serverMsg("01A", time.Now(), "hi"))

	at := time.Now()
	if !tl.ApplyStatus("01A", StatusRead, at) {
		t.Fatal("read status rejected")
	}
	e := tl.Entries()[0]
	if e.Status != StatusRead || e.DeliveredAt == nil || e.ReadAt == nil {
		t.Fatalf("after read: %+v", e)
	}

	// A delayed delivered event must not regress the status.
	if tl.ApplyStatus("01A", StatusDelivered, at.Add(time.Second)) {
		t.Fatal("stale delivered applied after read")
	}
	if got := tl.Entries()[0].Status; got != StatusRead {
		t.Fatalf("status regressed to %q", got)
	}

	if tl.ApplyStatus("unknown", StatusRead, at) {
		t.Fatal("status applied to unknown message")
	}
}

func TestFailedSendRemovedFromView(t *testing.T) {
	tl := NewTimeline()
	token := tl.AddLocal("alice", "hello")

	e, ok := tl.Fail(token)
	if !ok {
		t.Fatal("fail returned false for known token")
	}
	if e.Content != "hello" || !e.Pending {
		t.Fatalf("failed entry = %+v", e)
	}
	if tl.Len() != 0 {
		t.Fatalf("len = %d after failure, want 0", tl.Len())
	}
	if _, ok := tl.Fail(token); ok {
		t.Fatal("second fail for the same token succeeded")
	}

	// The server may have committed the send despite the timeout; the
	// realtime echo then lands as a fresh, non-duplicate entry.
	tl.ApplyCreated(serverMsg("01B", time.Now(), "hello"))
	if tl.Len() != 1 {
		t.Fatalf("len = %d after late echo, want 1", tl.Len())
	}
}

func TestPrependHistory(t *testing.T) {
	tl := NewTimeline()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	tl.ApplyCreated(serverMsg("01D", base.Add(3*time.Hour), "newest"))

	// History pages arrive newest first, and may overlap what we hold.
	inserted := tl.PrependHistory([]Message{
		*serverMsg("01D", base.Add(3*time.Hour), "newest"),
		*serverMsg("01C", base.Add(2*time.Hour), "mid"),
		*serverMsg("01B", base.Add(time.Hour), "older"),
	})
	if inserted != 2 {
		t.Fatalf("inserted = %d, want 2", inserted)
	}

	ids := entryIDs(tl)
	want := []string{"01B", "01C", "01D"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}

func TestPendingEntriesStayAtTail(t *testing.T) {
	tl := NewTimeline()
	base := time.Now()
	tl.ApplyCreated(serverMsg("01B", base, "confirmed"))
	tl.AddLocal("alice", "typing...")

	// A realtime message lands while the local send is in flight.
	tl.ApplyCreated(serverMsg("01C", base.Add(time.Second), "from bob"))

	entries := tl.Entries()
	if len(entries) != 3 {
		t.Fatalf("len = %d", len(entries))
	}
	if !entries[2].Pending {
		t.Fatalf("tail entry not pending: %+v", entries[2])
	}
	if entries[0].ID != "01B" || entries[1].ID != "01C" {
		t.Fatalf("confirmed order = [%s %s]", entries[0].ID, entries[1].ID)
	}
}

func TestScrollAnchorAcrossPrepend(t *testing.T) {
	tl := NewTimeline()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	tl.ApplyCreated(serverMsg("01E", base.Add(4*time.Hour), "visible top"))
	tl.ApplyCreated(serverMsg("01F", base.Add(5*time.Hour), "below"))

	anchor, ok := tl.RecordAnchor("01E")
	if !ok {
		t.Fatal("anchor on known message failed")
	}

	tl.PrependHistory([]Message{
		*serverMsg("01C", base.Add(2*time.Hour), "older"),
		*serverMsg("01B", base.Add(time.Hour), "oldest"),
	})

	if shift := tl.AnchorShift(anchor); shift != 2 {
		t.Fatalf("anchor shift = %d, want 2", shift)
	}
}

func TestDaysGrouping(t *testing.T) {
	tl := NewTimeline()
	loc := time.UTC
	day1 := time.Date(2026, 8, 20, 9, 0, 0, 0, loc)
	day2 := time.Date(2026, 8, 21, 8, 0, 0, 0, loc)

	tl.ApplyCreated(serverMsg("01A", day1, "morning"))
	tl.ApplyCreated(serverMsg("01B", day1.Add(8*time.Hour), "evening"))
	tl.ApplyCreated(serverMsg("01C", day2, "next day"))

	sections := tl.Days(loc)
	if len(sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(sections))
	}
	if len(sections[0].Entries) != 2 || len(sections[1].Entries) != 1 {
		t.Fatalf("section sizes = %d/%d", len(sections[0].Entries), len(sections[1].Entries))
	}
	if !sections[0].Date.Equal(time.Date(2026, 8, 20, 0, 0, 0, 0, loc)) {
		t.Errorf("section date = %v", sections[0].Date)
	}
}

func TestDaysFollowLocation(t *testing.T) {
	tl := NewTimeline()
	// 23:30 UTC on the 20th is already the 21st in UTC+2.
	tl.ApplyCreated(serverMsg("01A", time.Date(2026, 8, 20, 23, 30, 0, 0, time.UTC), "late"))
	tl.ApplyCreated(serverMsg("01B", time.Date(2026, 8, 21, 1, 0, 0, 0, time.UTC), "later"))

	if got := len(tl.Days(time.UTC)); got != 2 {
		t.Fatalf("UTC sections = %d, want 2", got)
	}
	plus2 := time.FixedZone("UTC+2", 2*3600)
	if got := len(tl.Days(plus2)); got != 1 {
		t.Fatalf("UTC+2 sections = %d, want 1", got)
	}
}
