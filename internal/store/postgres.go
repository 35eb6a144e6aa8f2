package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/teamgrid-app/teamgrid/internal/models"
)

// statusRank mirrors models.MessageStatus.Rank inside SQL so the
// transition predicate can compare statuses without a lookup table.
const statusRank = `CASE %s WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`

// PostgresStore is the authoritative ChatStore backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL store with a connection pool and
// verifies connectivity.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the schema. Safe to run on every boot.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return err
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateChat inserts the chat and its initial participants in one
// transaction.
func (s *PostgresStore) CreateChat(ctx context.Context, chat *models.Chat, participants []models.ChatParticipant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if chat.ID == uuid.Nil {
		chat.ID = uuid.New()
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO chats (id, kind, name, company_id, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
	`, chat.ID, chat.Kind, chat.Name, chat.CompanyID, chat.CreatedAt)
	if err != nil {
		return err
	}

	for i := range participants {
		p := &participants[i]
		p.ChatID = chat.ID
		if p.JoinedAt.IsZero() {
			p.JoinedAt = chat.CreatedAt
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
		`, p.ChatID, p.UserID, p.Role, p.JoinedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// GetChat retrieves a chat by ID.
func (s *PostgresStore) GetChat(ctx context.Context, id uuid.UUID) (*models.Chat, error) {
	chat := &models.Chat{}
	var name *string
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, name, company_id, created_at
		FROM chats WHERE id = $1
	`, id).Scan(&chat.ID, &chat.Kind, &name, &chat.CompanyID, &chat.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if name != nil {
		chat.Name = *name
	}
	return chat, nil
}

// ListChatsForUser retrieves the chats the user participates in, newest
// first.
func (s *PostgresStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.Chat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.kind, c.name, c.company_id, c.created_at
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		var chat models.Chat
		var name *string
		if err := rows.Scan(&chat.ID, &chat.Kind, &name, &chat.CompanyID, &chat.CreatedAt); err != nil {
			return nil, err
		}
		if name != nil {
			chat.Name = *name
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// GetParticipant retrieves one membership edge.
func (s *PostgresStore) GetParticipant(ctx context.Context, chatID, userID uuid.UUID) (*models.ChatParticipant, error) {
	p := &models.ChatParticipant{}
	err := s.pool.QueryRow(ctx, `
		SELECT chat_id, user_id, role, joined_at
		FROM chat_participants WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID).Scan(&p.ChatID, &p.UserID, &p.Role, &p.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// ListParticipants retrieves all membership edges of a chat.
func (s *PostgresStore) ListParticipants(ctx context.Context, chatID uuid.UUID) ([]models.ChatParticipant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chat_id, user_id, role, joined_at
		FROM chat_participants WHERE chat_id = $1
		ORDER BY joined_at, user_id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatParticipant
	for rows.Next() {
		var p models.ChatParticipant
		if err := rows.Scan(&p.ChatID, &p.UserID, &p.Role, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddParticipants inserts membership edges, skipping users already
// present.
func (s *PostgresStore) AddParticipants(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID, role models.Role) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for _, userID := range userIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO chat_participants (chat_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (chat_id, user_id) DO NOTHING
		`, chatID, userID, role, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RemoveParticipant deletes a membership edge.
func (s *PostgresStore) RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM chat_participants WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID)
	return err
}

// UpdateParticipantRole sets the role of an existing membership edge.
func (s *PostgresStore) UpdateParticipantRole(ctx context.Context, chatID, userID uuid.UUID, role models.Role) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_participants SET role = $3 WHERE chat_id = $1 AND user_id = $2
	`, chatID, userID, role)
	return err
}

// InsertMessage writes a message and its media atomically. A per-chat
// advisory lock is held from id/timestamp assignment to commit, so
// sent_at order matches commit order within a chat.
func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, msg.ChatID)
	if err != nil {
		return err
	}

	msg.ID = ulid.Make().String()
	msg.SentAt = time.Now().UTC()
	msg.Status = models.StatusSent
	msg.DeliveredAt = nil
	msg.ReadAt = nil

	_, err = tx.Exec(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, status, sent_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`, msg.ID, msg.ChatID, msg.SenderID, msg.Content, msg.Status, msg.SentAt)
	if err != nil {
		return err
	}

	for i := range msg.Media {
		m := &msg.Media[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.MessageID = msg.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO message_media (id, message_id, type, storage_key, file_name, mime_type, size_bytes)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, m.ID, m.MessageID, m.Type, m.StorageKey, m.FileName, m.MimeType, m.SizeBytes)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

const messageColumns = `id, chat_id, sender_id, COALESCE(content, ''), status, sent_at, delivered_at, read_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.SenderID,
		&msg.Content,
		&msg.Status,
		&msg.SentAt,
		&msg.DeliveredAt,
		&msg.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message with its media.
func (s *PostgresStore) GetMessage(ctx context.Context, chatID uuid.UUID, messageID string) (*models.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 AND id = $2
	`, chatID, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.attachMedia(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// TransitionStatus moves a message's status forward. The rank comparison
// in the WHERE clause serializes concurrent markers on the row: exactly
// one caller performs the transition, later callers observe rows==0 and
// get the already-updated message back as an idempotent no-op.
func (s *PostgresStore) TransitionStatus(ctx context.Context, chatID uuid.UUID, messageID string, to models.MessageStatus, at time.Time) (*models.Message, bool, error) {
	predicate := fmt.Sprintf(statusRank, "status") + " < " + fmt.Sprintf(statusRank, "$3")
	tag, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET status = $3,
		    delivered_at = COALESCE(delivered_at, $4),
		    read_at = CASE WHEN $3 = 'read' THEN COALESCE(read_at, $4) ELSE read_at END
		WHERE chat_id = $1 AND id = $2 AND `+predicate,
		chatID, messageID, to, at)
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
	return msg, tag.RowsAffected() == 1, nil
}

// ListMessages returns one page of a chat's timeline, newest first. The
// page boundary is (sent_at, id) so results stay stable under ties. One
// extra row is fetched to compute hasMore.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID uuid.UUID, limit int, before *Cursor) ([]models.Message, bool, error) {
	var rows pgx.Rows
	var err error
	if before != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = $1 AND (sent_at, id) < ($2, $3)
			ORDER BY sent_at DESC, id DESC
			LIMIT $4
		`, chatID, before.SentAt, before.ID, limit+1)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = $1
			ORDER BY sent_at DESC, id DESC
			LIMIT $2
		`, chatID, limit+1)
	}
	if err != nil {
		return nil, false, err
	}
	msgs, err := collectMessages(rows)
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

// SearchMessages pages through messages whose content contains the query,
// case-insensitively, and reports the total match count.
func (s *PostgresStore) SearchMessages(ctx context.Context, chatID uuid.UUID, query string, limit int, before *Cursor) ([]models.Message, int, bool, error) {
	pattern := "%" + escapeLike(query) + "%"

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = $1 AND content ILIKE $2 ESCAPE '\'
	`, chatID, pattern).Scan(&total)
	if err != nil {
		return nil, 0, false, err
	}

	var rows pgx.Rows
	if before != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = $1 AND content ILIKE $2 ESCAPE '\' AND (sent_at, id) < ($3, $4)
			ORDER BY sent_at DESC, id DESC
			LIMIT $5
		`, chatID, pattern, before.SentAt, before.ID, limit+1)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+messageColumns+` FROM messages
			WHERE chat_id = $1 AND content ILIKE $2 ESCAPE '\'
			ORDER BY sent_at DESC, id DESC
			LIMIT $3
		`, chatID, pattern, limit+1)
	}
	if err != nil {
		return nil, 0, false, err
	}
	msgs, err := collectMessages(rows)
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
func (s *PostgresStore) LastMessage(ctx context.Context, chatID uuid.UUID) (*models.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1
		ORDER BY sent_at DESC, id DESC
		LIMIT 1
	`, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.attachMedia(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// UnreadCount counts messages the user has not read: messages from other
// senders whose status has not reached "read".
func (s *PostgresStore) UnreadCount(ctx context.Context, chatID, userID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE chat_id = $1 AND sender_id <> $2 AND status <> 'read'
	`, chatID, userID).Scan(&n)
	return n, err
}

// GetMedia retrieves one attachment, scoped by chat to keep downloads
// behind the chat's membership check.
func (s *PostgresStore) GetMedia(ctx context.Context, chatID, mediaID uuid.UUID) (*models.MessageMedia, error) {
	m := &models.MessageMedia{}
	err := s.pool.QueryRow(ctx, `
		SELECT mm.id, mm.message_id, mm.type, mm.storage_key, mm.file_name, mm.mime_type, mm.size_bytes
		FROM message_media mm
		JOIN messages m ON m.id = mm.message_id
		WHERE mm.id = $1 AND m.chat_id = $2
	`, mediaID, chatID).Scan(&m.ID, &m.MessageID, &m.Type, &m.StorageKey, &m.FileName, &m.MimeType, &m.SizeBytes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()
	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(
			&msg.ID,
			&msg.ChatID,
			&msg.SenderID,
			&msg.Content,
			&msg.Status,
			&msg.SentAt,
			&msg.DeliveredAt,
			&msg.ReadAt,
		)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) attachMediaSlice(ctx context.Context, msgs []models.Message) error {
	ptrs := make([]*models.Message, len(msgs))
	for i := range msgs {
		ptrs[i] = &msgs[i]
	}
	return s.attachMedia(ctx, ptrs)
}

// attachMedia loads media rows for the given messages in one query.
func (s *PostgresStore) attachMedia(ctx context.Context, msgs []*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, len(msgs))
	byID := make(map[string]*models.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, type, storage_key, file_name, mime_type, size_bytes
		FROM message_media
		WHERE message_id = ANY($1)
		ORDER BY file_name, id
	`, ids)
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

// escapeLike escapes LIKE metacharacters in user-supplied search input.
func escapeLike(s string) string {
	r := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			r = append(r, '\\')
		}
		r = append(r, c)
	}
	return string(r)
}
