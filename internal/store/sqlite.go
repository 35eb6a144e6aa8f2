package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/teamgrid-app/teamgrid/internal/models"
)

// SQLiteStore is the ChatStore used in development and tests.
// Timestamps are stored as unix milliseconds; SQLite's single-writer
// model already serializes same-chat inserts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and initializes) a SQLite-backed store.
// If dbPath is empty, defaults to "./data/teamgrid.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/teamgrid.db"
	}

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// A single connection keeps transactions from tripping over SQLite's
	// writer lock under concurrent test load.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('private', 'group')),
		name TEXT,
		company_id TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_participants (
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (chat_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		content TEXT,
		status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
		sent_at INTEGER NOT NULL,
		delivered_at INTEGER,
		read_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_timeline ON messages(chat_id, sent_at DESC, id DESC);
	CREATE INDEX IF NOT EXISTS idx_participants_user ON chat_participants(user_id);

	CREATE TABLE IF NOT EXISTS message_media (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		type TEXT NOT NULL CHECK (type IN ('image', 'video', 'audio', 'document')),
		storage_key TEXT NOT NULL,
		file_name TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size_bytes INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_media_message ON message_media(message_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func fromNullMillis(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMillis(ms.Int64)
	return &t
}

// CreateChat inserts the chat and its initial participants in one
// transaction.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *models.Chat, participants []models.ChatParticipant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, kind, name, company_id, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?, ?)
	`, chat.ID, chat.Kind, chat.Name, chat.CompanyID, millis(chat.CreatedAt))
	if err != nil {
		return err
	}

	for i := range participants {
		p := &participants[i]
		p.ChatID = chat.ID
		if p.JoinedAt.IsZero() {
			p.JoinedAt = chat.CreatedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
		`, p.ChatID, p.UserID, p.Role, millis(p.JoinedAt))
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetChat retrieves a chat by ID.
func (s *SQLiteStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat := &models.Chat{}
	var name sql.NullString
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, company_id, created_at
		FROM chats WHERE id = ?
	`, id).Scan(&chat.ID, &chat.Kind, &name, &chat.CompanyID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	chat.Name = name.String
	chat.CreatedAt = fromMillis(createdAt)
	return chat, nil
}

// ListChatsForUser retrieves the chats the user participates in, newest
// first.
func (s *SQLiteStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.kind, c.name, c.company_id, c.created_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var chat models.Chat
		var name sql.NullString
		var createdAt int64
		if err := rows.Scan(&chat.ID, &chat.Kind, &name, &chat.CompanyID, &createdAt); err != nil {
			return nil, err
		}
		chat.Name = name.String
		chat.CreatedAt = fromMillis(createdAt)
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// GetParticipant retrieves one membership edge.
func (s *SQLiteStore) GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (*models.ChatParticipant, error) {
	p := &models.ChatParticipant{}
	var joinedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, user_id, role, joined_at
		FROM chat_participants WHERE chat_id = ? AND user_id = ?
	`, chatID, userID).Scan(&p.ChatID, &p.UserID, &p.Role, &joinedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.JoinedAt = fromMillis(joinedAt)
	return p, nil
}

// ListParticipants retrieves all membership edges of a chat.
func (s *SQLiteStore) ListParticipants(ctx context.Context, chatID uuid.UUID) ([]models.ChatParticipant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, user_id, role, joined_at
		FROM chat_participants WHERE chat_id = ?
		ORDER BY joined_at, user_id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatParticipant
	for rows.Next() {
		var p models.ChatParticipant
		var joinedAt int64
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.Role, &joinedAt); err != nil {
			return nil, err
		}
		p.JoinedAt = fromMillis(joinedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddParticipants inserts membership edges, skipping users already
// present.
func (s *SQLiteStore) AddParticipants(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID, role models.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := millis(time.Now())
	for _, userID := range userIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (chat_id, user_id) DO NOTHING
		`, chatID, userID, role, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RemoveParticipant deletes a membership edge.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_participants WHERE chat_id = ? AND user_id = ?
	`, chatID, userID)
	return err
}

// UpdateParticipantRole sets the role of an existing membership edge.
func (s *SQLiteStore) UpdateParticipantRole(ctx context.Context, chatID, userID uuid.UUID, role models.Role) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chat_participants SET role = ? WHERE chat_id = ? AND user_id = ?
	`, role, chatID, userID)
	return err
}

// InsertMessage writes a message and its media atomically.
func (s *SQLiteStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	msg.ID = ulid.Make().String()
	msg.SentAt = time.Now().UTC().Truncate(time.Millisecond)
	msg.Status = models.StatusSent
	msg.DeliveredAt = nil
	msg.ReadAt = nil

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, status, sent_at)
		VALUES (?, ?, ?, NULLIF(?, ''), ?, ?)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.Status, millis(msg.SentAt))
	if err != nil {
		return err
	}

	for i := range msg.Media {
		m := &msg.Media[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.MessageID = msg.ID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_media (id, message_id, type, storage_key, file_name, mime_type, size_bytes)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, m.MessageID, m.Type, m.StorageKey, m.FileName, m.MimeType, m.SizeBytes)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const sqliteMessageColumns = `id, chat_id, sender_id, COALESCE(content, ''), status, sent_at, delivered_at, read_at`

func scanSQLiteMessage(scan func(...any) error) (*models.Message, error) {
	msg := &models.Message{}
	var sentAt int64
	var deliveredAt, readAt sql.NullInt64
	err := scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Content,
		&msg.Status,
		&sentAt,
		&deliveredAt,
		&readAt,
	)
	if err != nil {
		return nil, err
	}
	msg.SentAt = fromMillis(sentAt)
	msg.DeliveredAt = fromNullMillis(deliveredAt)
	msg.ReadAt = fromNullMillis(readAt)
	return msg, nil
}

// GetMessage retrieves a message with its media.
func (s *SQLiteStore) GetMessage(ctx context.Context, chatID uuid.UUID, messageID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages WHERE chat_id = ? AND id = ?
	`, chatID, messageID)
	msg, err := scanSQLiteMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.attachMedia(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// TransitionStatus moves a message's status forward. See the Postgres
// implementation for the serialization argument; SQLite runs the same
// conditional update.
func (s *SQLiteStore) TransitionStatus(ctx context.Context, chatID uuid.UUID, messageID string, to models.MessageStatus, at time.Time) (*models.Message, bool, error) {
	atMs := millis(at)
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = ?,
		    delivered_at = COALESCE(delivered_at, ?),
		    read_at = CASE WHEN ? = 'read' THEN COALESCE(read_at, ?) ELSE read_at END
		WHERE chat_id = ? AND id = ?
		  AND (CASE status WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END)
		    < (CASE ? WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END)
	`, to, atMs, to, atMs, chatID, messageID, to)
	if err != nil {
		return nil, false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	msg, err := s.GetMessage(ctx, chatID, messageID)
	if err != nil {
		return nil, false, err
	}
	if msg == nil {
		return nil, false, nil
	}
	return msg, affected == 1, nil
}

// ListMessages returns one page of a chat's timeline, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int, before *Cursor) ([]models.Message, bool, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sqliteMessageColumns+` FROM messages
			WHERE chat_id = ? AND (sent_at, id) < (?, ?)
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		`, chatID, millis(before.SentAt), before.ID, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sqliteMessageColumns+` FROM messages
			WHERE chat_id = ?
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		`, chatID, limit+1)
	}
	if err != nil {
		return nil, false, err
	}
	msgs, err := collectSQLiteMessages(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if err := s.attachMediaSlice(ctx, msgs); err != nil {
		return nil, false, err
	}
	return msgs, hasMore, nil
}

// SearchMessages pages through messages matching the query and reports
// the total match count.
func (s *SQLiteStore) SearchMessages(ctx context.Context, chatID uuid.UUID, query string, limit int, before *Cursor) ([]models.Message, int, bool, error) {
	pattern := "%" + strings.ToLower(escapeLike(query)) + "%"

	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = ? AND LOWER(content) LIKE ? ESCAPE '\'
	`, chatID, pattern).Scan(&total)
	if err != nil {
		return nil, 0, false, err
	}

	var rows *sql.Rows
	if before != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sqliteMessageColumns+` FROM messages
			WHERE chat_id = ? AND LOWER(content) LIKE ? ESCAPE '\' AND (sent_at, id) < (?, ?)
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		`, chatID, pattern, millis(before.SentAt), before.ID, limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+sqliteMessageColumns+` FROM messages
			WHERE chat_id = ? AND LOWER(content) LIKE ? ESCAPE '\'
			ORDER BY sent_at DESC, id DESC
			LIMIT ?
		`, chatID, pattern, limit+1)
	}
	if err != nil {
		return nil, 0, false, err
	}
	msgs, err := collectSQLiteMessages(rows)
	if err != nil {
		return nil, 0, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if err := s.attachMediaSlice(ctx, msgs); err != nil {
		return nil, 0, false, err
	}
	return msgs, total, hasMore, nil
}

// LastMessage returns the newest message of a chat, or nil for an empty
// chat.
func (s *SQLiteStore) LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages
		WHERE chat_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`, chatID)
	msg, err := scanSQLiteMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.attachMedia(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// UnreadCount counts messages from other senders whose status has not
// reached "read".
func (s *SQLiteStore) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = ? AND sender_id <> ? AND status <> 'read'
	`, chatID, userID).Scan(&n)
	return n, err
}

// GetMedia retrieves one attachment, scoped by chat.
func (s *SQLiteStore) GetMedia(ctx context.Context, chatID, mediaID uuid.UUID) (*models.MessageMedia, error) {
	m := &models.MessageMedia{}
	err := s.db.QueryRowContext(ctx, `
		SELECT mm.id, mm.message_id, mm.type, mm.storage_key, mm.file_name, mm.mime_type, mm.size_bytes
		FROM message_media mm
		JOIN messages m ON m.id = mm.message_id
		WHERE mm.id = ? AND m.chat_id = ?
	`, mediaID, chatID).Scan(&m.ID, &m.MessageID, &m.Type, &m.StorageKey, &m.FileName, &m.MimeType, &m.SizeBytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func collectSQLiteMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) attachMediaSlice(ctx context.Context, msgs []models.Message) error {
	ptrs := make([]*models.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	return s.attachMedia(ctx, ptrs)
}

func (s *SQLiteStore) attachMedia(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	placeholders := make([]string, len(msgs))
	args := make([]any, len(msgs))
	byID := make(map[string]*models.Message, len(msgs))
	for i, m := range msgs {
		placeholders[i] = "?"
		args[i] = m.ID
		byID[m.ID] = m
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, type, storage_key, file_name, mime_type, size_bytes
		FROM message_media
		WHERE message_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY file_name, id
	`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var m models.MessageMedia
		err := rows.Scan(&m.ID, &m.MessageID, &m.Type, &m.StorageKey, &m.FileName, &m.MimeType, &m.SizeBytes)
		if err != nil {
			return err
		}
		if parent, ok := byID[m.MessageID]; ok {
			parent.Media = append(parent.Media, m)
		}
	}
	return rows.Err()
}
