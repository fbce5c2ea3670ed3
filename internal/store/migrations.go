package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// postgresSchema is idempotent; every statement guards with IF NOT
// EXISTS so re-running on startup is safe.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id UUID PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT 'general',
	conversation_id TEXT,
	tracking_id TEXT,
	first_message_id UUID,
	last_message_id UUID,
	message_count BIGINT NOT NULL DEFAULT 0,
	last_activity_at TIMESTAMPTZ,
	status TEXT NOT NULL DEFAULT 'awaiting_reply',
	is_archived BOOLEAN NOT NULL DEFAULT FALSE,
	is_flagged BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_threads_conversation ON threads(conversation_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_tracking ON threads(tracking_id) WHERE tracking_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_threads_category ON threads(category);
CREATE INDEX IF NOT EXISTS idx_threads_status_activity ON threads(status, last_activity_at);

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	thread_id UUID NOT NULL REFERENCES threads(id),
	provider_message_id TEXT,
	internet_message_id TEXT,
	in_reply_to_id TEXT,
	references_header TEXT,
	conversation_id TEXT,
	conversation_index TEXT,
	tracking_id TEXT,
	subject TEXT NOT NULL DEFAULT '',
	body_text TEXT,
	body_html TEXT,
	body_preview TEXT,
	from_address TEXT NOT NULL DEFAULT '',
	from_name TEXT,
	to_recipients TEXT[] NOT NULL DEFAULT '{}',
	cc_recipients TEXT[] NOT NULL DEFAULT '{}',
	bcc_recipients TEXT[] NOT NULL DEFAULT '{}',
	category TEXT NOT NULL DEFAULT 'general',
	direction TEXT NOT NULL DEFAULT 'incoming',
	status TEXT NOT NULL DEFAULT 'received',
	is_read BOOLEAN NOT NULL DEFAULT FALSE,
	is_flagged BOOLEAN NOT NULL DEFAULT FALSE,
	is_archived BOOLEAN NOT NULL DEFAULT FALSE,
	importance TEXT NOT NULL DEFAULT 'normal',
	has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
	attachment_count INTEGER NOT NULL DEFAULT 0,
	received_at TIMESTAMPTZ NOT NULL,
	sent_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_provider ON messages(provider_message_id) WHERE provider_message_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_internet ON messages(internet_message_id) WHERE internet_message_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_tracking ON messages(tracking_id) WHERE tracking_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_address);
`

// RunMigrations applies the schema to the target database.
func RunMigrations(databaseURL string) error {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, postgresSchema)
	return err
}
