package store

// postgresSchema is applied at startup. Statements are idempotent so
// repeated boots are safe.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL CHECK (kind IN ('private', 'group')),
	name TEXT,
	company_id UUID NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	user_id UUID NOT NULL,
	role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'member')),
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chat_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	sender_id UUID NOT NULL,
	content TEXT,
	status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
	sent_at TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ,
	read_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_messages_chat_timeline ON messages(chat_id, sent_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_participants_user ON chat_participants(user_id);

CREATE TABLE IF NOT EXISTS message_media (
	id UUID PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	type TEXT NOT NULL CHECK (type IN ('image', 'video', 'audio', 'document')),
	storage_key TEXT NOT NULL,
	file_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_media_message ON message_media(message_id);
`
