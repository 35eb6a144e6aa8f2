package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/teamgrid-app/teamgrid/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedChat creates a group chat with an owner and one member.
func seedChat(t *testing.T, s *SQLiteStore) (chatID, owner, member uuid.UUID) {
	t.Helper()
	owner = uuid.New()
	member = uuid.New()
	chat := &models.Chat{Kind: models.ChatGroup, Name: "backend", CompanyID: uuid.New()}
	err := s.CreateChat(context.Background(), chat, []models.ChatParticipant{
		{UserID: owner, Role: models.RoleOwner},
		{UserID: member, Role: models.RoleMember},
	})
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return chat.ID, owner, member
}

func sendText(t *testing.T, s *SQLiteStore, chatID, sender uuid.UUID, content string) *models.Message {
	t.Helper()
	msg := &models.Message{ChatID: chatID, SenderID: sender, Content: content}
	if err := s.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	return msg
}

func TestInsertMessageAssignsIdentity(t *testing.T) {
	s := newTestStore(t)
	chatID, owner, _ := seedChat(t, s)

	msg := sendText(t, s, chatID, owner, "hello")
	if msg.ID == "" {
		t.Fatal("expected message id to be assigned")
	}
	if msg.Status != models.StatusSent {
		t.Errorf("status = %q, want %q", msg.Status, models.StatusSent)
	}
	if msg.SentAt.IsZero() {
		t.Error("expected sent_at to be assigned")
	}
	if msg.DeliveredAt != nil || msg.ReadAt != nil {
		t.Error("new message must not carry delivery timestamps")
	}

	got, err := s.GetMessage(context.Background(), chatID, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got == nil || got.Content != "hello" {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestMessageIDsFollowInsertOrder(t *testing.T) {
	s := newTestStore(t)
	chatID, owner, _ := seedChat(t, s)

	var prev string
	for i := 0; i < 10; i++ {
		msg := sendText(t, s, chatID, owner, "m")
		if msg.ID <= prev {
			t.Fatalf("id %q not greater than previous %q", msg.ID, prev)
		}
		prev = msg.ID
	}
}

func TestTransitionStatusForwardOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, _ := seedChat(t, s)
	msg := sendText(t, s, chatID, owner, "hi")

	t1 := time.Now().UTC().Truncate(time.Millisecond)
	got, transitioned, err := s.TransitionStatus(ctx, chatID, msg.ID, models.StatusDelivered, t1)
	if err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if !transitioned {
		t.Fatal("first delivered mark should transition")
	}
	if got.Status != models.StatusDelivered {
		t.Errorf("status = %q, want delivered", got.Status)
	}
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(t1) {
		t.Errorf("delivered_at = %v, want %v", got.DeliveredAt, t1)
	}

	// Repeating the mark is an idempotent no-op.
	t2 := t1.Add(time.Minute)
	got, transitioned, err = s.TransitionStatus(ctx, chatID, msg.ID, models.StatusDelivered, t2)
	if err != nil {
		t.Fatalf("repeat delivered: %v", err)
	}
	if transitioned {
		t.Error("repeated delivered mark must not transition")
	}
	if !got.DeliveredAt.Equal(t1) {
		t.Errorf("delivered_at moved to %v on repeat, want %v", got.DeliveredAt, t1)
	}

	t3 := t1.Add(2 * time.Minute)
	got, transitioned, err = s.TransitionStatus(ctx, chatID, msg.ID, models.StatusRead, t3)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !transitioned || got.Status != models.StatusRead {
		t.Fatalf("read mark: transitioned=%v status=%q", transitioned, got.Status)
	}
	if !got.DeliveredAt.Equal(t1) {
		t.Errorf("delivered_at overwritten by read: %v", got.DeliveredAt)
	}
	if got.ReadAt == nil || !got.ReadAt.Equal(t3) {
		t.Errorf("read_at = %v, want %v", got.ReadAt, t3)
	}

	// Read is terminal: a late delivered mark cannot move status back.
	got, transitioned, err = s.TransitionStatus(ctx, chatID, msg.ID, models.StatusDelivered, t3.Add(time.Minute))
	if err != nil {
		t.Fatalf("late delivered: %v", err)
	}
	if transitioned {
		t.Error("delivered after read must not transition")
	}
	if got.Status != models.StatusRead {
		t.Errorf("status regressed to %q", got.Status)
	}
}

func TestTransitionStatusSkipsDelivered(t *testing.T) {
	s := newTestStore(t)
	chatID, owner, _ := seedChat(t, s)
	msg := sendText(t, s, chatID, owner, "hi")

	at := time.Now().UTC().Truncate(time.Millisecond)
	got, transitioned, err := s.TransitionStatus(context.Background(), chatID, msg.ID, models.StatusRead, at)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if !transitioned || got.Status != models.StatusRead {
		t.Fatalf("transitioned=%v status=%q", transitioned, got.Status)
	}
	// Skipping delivered still records both timestamps, atomically.
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(at) {
		t.Errorf("delivered_at = %v, want %v", got.DeliveredAt, at)
	}
	if got.ReadAt == nil || !got.ReadAt.Equal(at) {
		t.Errorf("read_at = %v, want %v", got.ReadAt, at)
	}
}

func TestTransitionStatusMissingMessage(t *testing.T) {
	s := newTestStore(t)
	chatID, _, _ := seedChat(t, s)

	got, transitioned, err := s.TransitionStatus(context.Background(), chatID, "01J9ZX3V5E8Q2N4T6W8YABCDEF", models.StatusRead, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil || transitioned {
		t.Fatalf("expected (nil, false) for missing message, got (%+v, %v)", got, transitioned)
	}
}

func TestListMessagesPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, _ := seedChat(t, s)

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, sendText(t, s, chatID, owner, "m").ID)
	}

	page1, hasMore, err := s.ListMessages(ctx, chatID, 2, nil)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 2 || !hasMore {
		t.Fatalf("page 1: len=%d hasMore=%v", len(page1), hasMore)
	}
	// Newest first.
	if page1[0].ID != ids[4] || page1[1].ID != ids[3] {
		t.Fatalf("page 1 order = [%s %s], want [%s %s]", page1[0].ID, page1[1].ID, ids[4], ids[3])
	}

	cursor := CursorFor(&page1[len(page1)-1])
	page2, hasMore, err := s.ListMessages(ctx, chatID, 2, &cursor)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2) != 2 || !hasMore {
		t.Fatalf("page 2: len=%d hasMore=%v", len(page2), hasMore)
	}
	if page2[0].ID != ids[2] || page2[1].ID != ids[1] {
		t.Fatalf("page 2 order = [%s %s]", page2[0].ID, page2[1].ID)
	}

	cursor = CursorFor(&page2[len(page2)-1])
	page3, hasMore, err := s.ListMessages(ctx, chatID, 2, &cursor)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3) != 1 || hasMore {
		t.Fatalf("page 3: len=%d hasMore=%v", len(page3), hasMore)
	}
	if page3[0].ID != ids[0] {
		t.Fatalf("page 3 = %s, want %s", page3[0].ID, ids[0])
	}
}

func TestPaginationStableUnderInserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, _ := seedChat(t, s)

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, sendText(t, s, chatID, owner, "m").ID)
	}

	page1, _, err := s.ListMessages(ctx, chatID, 2, nil)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}

	// A message arriving mid-pagination must not shift older pages.
	sendText(t, s, chatID, owner, "newcomer")

	cursor := CursorFor(&page1[len(page1)-1])
	page2, _, err := s.ListMessages(ctx, chatID, 2, &cursor)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}

	seen := map[string]bool{}
	for _, m := range append(page1, page2...) {
		if seen[m.ID] {
			t.Fatalf("message %s appeared twice across pages", m.ID)
		}
		seen[m.ID] = true
	}
	if page2[0].ID != ids[1] || page2[1].ID != ids[0] {
		t.Fatalf("page 2 shifted: [%s %s], want [%s %s]", page2[0].ID, page2[1].ID, ids[1], ids[0])
	}
}

func TestInsertMessageMediaAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, _ := seedChat(t, s)

	dup := uuid.New()
	msg := &models.Message{
		ChatID:   chatID,
		SenderID: owner,
		Content:  "with files",
		Media: []models.MessageMedia{
			{ID: dup, Type: models.MediaImage, StorageKey: "k1", FileName: "a.png", MimeType: "image/png", SizeBytes: 10},
			{ID: dup, Type: models.MediaImage, StorageKey: "k2", FileName: "b.png", MimeType: "image/png", SizeBytes: 20},
		},
	}
	if err := s.InsertMessage(ctx, msg); err == nil {
		t.Fatal("expected duplicate media id to fail the insert")
	}

	// The message row must have rolled back with the media row.
	msgs, _, err := s.ListMessages(ctx, chatID, 10, nil)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("found %d messages after failed insert, want 0", len(msgs))
	}
}

func TestSearchMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, _ := seedChat(t, s)

	sendText(t, s, chatID, owner, "Deploy plan for Friday")
	sendText(t, s, chatID, owner, "deploy postponed")
	sendText(t, s, chatID, owner, "lunch?")
	sendText(t, s, chatID, owner, "redeploying now")

	msgs, total, hasMore, err := s.SearchMessages(ctx, chatID, "DEPLOY", 2, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(msgs) != 2 || !hasMore {
		t.Errorf("len=%d hasMore=%v, want 2 true", len(msgs), hasMore)
	}

	// LIKE metacharacters in the query are literals.
	msgs, total, _, err = s.SearchMessages(ctx, chatID, "100%", 10, nil)
	if err != nil {
		t.Fatalf("search with wildcard: %v", err)
	}
	if total != 0 || len(msgs) != 0 {
		t.Errorf("wildcard leaked: total=%d len=%d", total, len(msgs))
	}
}

func TestAddParticipantsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, member := seedChat(t, s)

	newcomer := uuid.New()
	// member is already present; re-adding must not fail or demote.
	err := s.AddParticipants(ctx, chatID, []uuid.UUID{member, newcomer}, models.RoleMember)
	if err != nil {
		t.Fatalf("add participants: %v", err)
	}

	roster, err := s.ListParticipants(ctx, chatID)
	if err != nil {
		t.Fatalf("list participants: %v", err)
	}
	if len(roster) != 3 {
		t.Fatalf("roster size = %d, want 3", len(roster))
	}

	p, err := s.GetParticipant(ctx, chatID, owner)
	if err != nil || p == nil {
		t.Fatalf("get owner: %v %v", p, err)
	}
	if p.Role != models.RoleOwner {
		t.Errorf("owner role = %q after idempotent re-add", p.Role)
	}
}

func TestUnreadCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, member := seedChat(t, s)

	m1 := sendText(t, s, chatID, owner, "one")
	sendText(t, s, chatID, owner, "two")
	sendText(t, s, chatID, member, "reply")

	// member sees the owner's two messages as unread; own message never
	// counts.
	n, err := s.UnreadCount(ctx, chatID, member)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 2 {
		t.Errorf("unread = %d, want 2", n)
	}

	if _, _, err := s.TransitionStatus(ctx, chatID, m1.ID, models.StatusRead, time.Now().UTC()); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, err = s.UnreadCount(ctx, chatID, member)
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 1 {
		t.Errorf("unread after read = %d, want 1", n)
	}
}

func TestMissingEntitiesReturnNil(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if chat, err := s.GetChat(ctx, uuid.New()); err != nil || chat != nil {
		t.Errorf("GetChat missing = (%v, %v), want (nil, nil)", chat, err)
	}
	if msg, err := s.GetMessage(ctx, uuid.New(), "01J9ZX3V5E8Q2N4T6W8YABCDEF"); err != nil || msg != nil {
		t.Errorf("GetMessage missing = (%v, %v), want (nil, nil)", msg, err)
	}
	if p, err := s.GetParticipant(ctx, uuid.New(), uuid.New()); err != nil || p != nil {
		t.Errorf("GetParticipant missing = (%v, %v), want (nil, nil)", p, err)
	}
	if m, err := s.GetMedia(ctx, uuid.New(), uuid.New()); err != nil || m != nil {
		t.Errorf("GetMedia missing = (%v, %v), want (nil, nil)", m, err)
	}
	if last, err := s.LastMessage(ctx, uuid.New()); err != nil || last != nil {
		t.Errorf("LastMessage missing = (%v, %v), want (nil, nil)", last, err)
	}
}

func TestGetMediaScopedByChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chatID, owner, _ := seedChat(t, s)
	otherChat, _, _ := seedChat(t, s)

	msg := &models.Message{
		ChatID:   chatID,
		SenderID: owner,
		Media: []models.MessageMedia{
			{Type: models.MediaDocument, StorageKey: "k", FileName: "spec.pdf", MimeType: "application/pdf", SizeBytes: 512},
		},
	}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	mediaID := msg.Media[0].ID

	if m, err := s.GetMedia(ctx, chatID, mediaID); err != nil || m == nil {
		t.Fatalf("media in own chat = (%v, %v)", m, err)
	}
	// Looking the media up through another chat must not find it.
	if m, err := s.GetMedia(ctx, otherChat, mediaID); err != nil || m != nil {
		t.Fatalf("media through wrong chat = (%v, %v), want (nil, nil)", m, err)
	}
}
