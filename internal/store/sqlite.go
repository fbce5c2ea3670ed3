package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/threadline/threadline/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS threads (
	id TEXT PRIMARY KEY,
	subject TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT 'general',
	conversation_id TEXT,
	tracking_id TEXT,
	first_message_id TEXT,
	last_message_id TEXT,
	message_count INTEGER NOT NULL DEFAULT 0,
	last_activity_at DATETIME,
	status TEXT NOT NULL DEFAULT 'awaiting_reply',
	is_archived BOOLEAN NOT NULL DEFAULT 0,
	is_flagged BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_threads_conversation ON threads(conversation_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_tracking ON threads(tracking_id) WHERE tracking_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_threads_category ON threads(category);
CREATE INDEX IF NOT EXISTS idx_threads_status_activity ON threads(status, last_activity_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	thread_id TEXT NOT NULL REFERENCES threads(id),
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
	to_recipients TEXT NOT NULL DEFAULT '[]',
	cc_recipients TEXT NOT NULL DEFAULT '[]',
	bcc_recipients TEXT NOT NULL DEFAULT '[]',
	category TEXT NOT NULL DEFAULT 'general',
	direction TEXT NOT NULL DEFAULT 'incoming',
	status TEXT NOT NULL DEFAULT 'received',
	is_read BOOLEAN NOT NULL DEFAULT 0,
	is_flagged BOOLEAN NOT NULL DEFAULT 0,
	is_archived BOOLEAN NOT NULL DEFAULT 0,
	importance TEXT NOT NULL DEFAULT 'normal',
	has_attachments BOOLEAN NOT NULL DEFAULT 0,
	attachment_count INTEGER NOT NULL DEFAULT 0,
	received_at DATETIME NOT NULL,
	sent_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_provider ON messages(provider_message_id) WHERE provider_message_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_internet ON messages(internet_message_id) WHERE internet_message_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_tracking ON messages(tracking_id) WHERE tracking_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_received ON messages(received_at);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_address);
`

// SQLiteStore handles SQLite database operations for local and
// single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the SQLite database at path
// and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

func (s *SQLiteStore) scanThread(row rowScanner) (*models.Thread, error) {
	thread := &models.Thread{}
	var conversationID, trackingID, firstMsg, lastMsg sql.NullString
	var lastActivity sql.NullTime

	err := row.Scan(
		&thread.ID,
		&thread.Subject,
		&thread.Category,
		&conversationID,
		&trackingID,
		&firstMsg,
		&lastMsg,
		&thread.MessageCount,
		&lastActivity,
		&thread.Status,
		&thread.IsArchived,
		&thread.IsFlagged,
		&thread.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	thread.ConversationID = conversationID.String
	thread.TrackingID = trackingID.String
	thread.FirstMessageID = firstMsg.String
	thread.LastMessageID = lastMsg.String
	if lastActivity.Valid {
		thread.LastActivityAt = lastActivity.Time
	}
	return thread, nil
}

func (s *SQLiteStore) scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var providerID, internetID, inReplyTo, references sql.NullString
	var conversationID, conversationIndex, trackingID sql.NullString
	var bodyText, bodyHTML, bodyPreview, fromName sql.NullString
	var toList, ccList, bccList string
	var sentAt sql.NullTime

	err := row.Scan(
		&msg.ID,
		&msg.ThreadID,
		&providerID,
		&internetID,
		&inReplyTo,
		&references,
		&conversationID,
		&conversationIndex,
		&trackingID,
		&msg.Subject,
		&bodyText,
		&bodyHTML,
		&bodyPreview,
		&msg.FromAddress,
		&fromName,
		&toList,
		&ccList,
		&bccList,
		&msg.Category,
		&msg.Direction,
		&msg.Status,
		&msg.IsRead,
		&msg.IsFlagged,
		&msg.IsArchived,
		&msg.Importance,
		&msg.HasAttachments,
		&msg.AttachmentCount,
		&msg.ReceivedAt,
		&sentAt,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.ProviderMessageID = providerID.String
	msg.InternetMessageID = internetID.String
	msg.InReplyToID = inReplyTo.String
	msg.References = references.String
	msg.ConversationID = conversationID.String
	msg.ConversationIndex = conversationIndex.String
	msg.TrackingID = trackingID.String
	msg.BodyText = bodyText.String
	msg.BodyHTML = bodyHTML.String
	msg.BodyPreview = bodyPreview.String
	msg.FromName = fromName.String
	msg.ToRecipients = decodeList(toList)
	msg.CcRecipients = decodeList(ccList)
	msg.BccRecipients = decodeList(bccList)
	if sentAt.Valid {
		msg.SentAt = sentAt.Time
	}
	return msg, nil
}

// CreateThread inserts a new thread record.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (id, subject, category, conversation_id, tracking_id,
			first_message_id, last_message_id, message_count, last_activity_at,
			status, is_archived, is_flagged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, thread.ID, thread.Subject, thread.Category,
		textOrNil(thread.ConversationID), textOrNil(thread.TrackingID),
		textOrNil(thread.FirstMessageID), textOrNil(thread.LastMessageID),
		thread.MessageCount, timeOrNil(thread.LastActivityAt.UTC()),
		thread.Status, thread.IsArchived, thread.IsFlagged, thread.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) threadWhere(ctx context.Context, where string, args ...any) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM threads WHERE `+where, args...)
	thread, err := s.scanThread(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return thread, nil
}

// ThreadByID retrieves a thread by its id.
func (s *SQLiteStore) ThreadByID(ctx context.Context, id string) (*models.Thread, error) {
	return s.threadWhere(ctx, `id = ?`, id)
}

// ThreadByConversationID retrieves the thread carrying the provider
// conversation id.
func (s *SQLiteStore) ThreadByConversationID(ctx context.Context, conversationID string) (*models.Thread, error) {
	return s.threadWhere(ctx, `conversation_id = ?`, conversationID)
}

// ThreadByTrackingID retrieves the thread carrying the tracking id.
func (s *SQLiteStore) ThreadByTrackingID(ctx context.Context, trackingID string) (*models.Thread, error) {
	return s.threadWhere(ctx, `tracking_id = ?`, trackingID)
}

// ListThreads retrieves threads matching the filter, newest activity
// first, with the total match count.
func (s *SQLiteStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]models.Thread, int64, error) {
	where := `1 = 1`
	args := []any{}

	if filter.Category != "" {
		where += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if !filter.IncludeArchived {
		where += ` AND is_archived = 0`
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE `+where+`
		ORDER BY last_activity_at DESC, created_at DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		thread, err := s.scanThread(rows)
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, *thread)
	}
	return threads, total, rows.Err()
}

// UpdateThread applies the partial update and returns the new state.
func (s *SQLiteStore) UpdateThread(ctx context.Context, id string, update ThreadUpdate) (*models.Thread, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET
			status = COALESCE(?, status),
			is_archived = COALESCE(?, is_archived),
			is_flagged = COALESCE(?, is_flagged)
		WHERE id = ?
	`, update.Status, update.IsArchived, update.IsFlagged, id)
	if err != nil {
		return nil, err
	}
	return s.ThreadByID(ctx, id)
}

// SetThreadTrackingID assigns a tracking id to a thread that has none.
func (s *SQLiteStore) SetThreadTrackingID(ctx context.Context, id, trackingID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET tracking_id = ? WHERE id = ? AND tracking_id IS NULL
	`, textOrNil(trackingID), id)
	return err
}

// AssignMessage applies the lifecycle update for one new message in a
// single statement, same semantics as the Postgres store.
func (s *SQLiteStore) AssignMessage(ctx context.Context, threadID, messageID string, receivedAt time.Time, markReplied bool) error {
	receivedAt = receivedAt.UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET
			message_count = message_count + 1,
			first_message_id = COALESCE(first_message_id, ?),
			last_message_id = ?,
			last_activity_at = CASE
				WHEN message_count = 0 OR last_activity_at IS NULL THEN ?
				WHEN ? > last_activity_at THEN ?
				ELSE last_activity_at
			END,
			status = CASE
				WHEN ? AND status IN ('awaiting_reply', 'replied') THEN 'replied'
				ELSE status
			END
		WHERE id = ?
	`, messageID, messageID, receivedAt, receivedAt, receivedAt, markReplied, threadID)
	return err
}

// CreateMessage inserts a new message record.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, provider_message_id, internet_message_id,
			in_reply_to_id, references_header, conversation_id, conversation_index,
			tracking_id, subject, body_text, body_html, body_preview, from_address,
			from_name, to_recipients, cc_recipients, bcc_recipients, category,
			direction, status, is_read, is_flagged, is_archived, importance,
			has_attachments, attachment_count, received_at, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ThreadID, textOrNil(msg.ProviderMessageID), textOrNil(msg.InternetMessageID),
		textOrNil(msg.InReplyToID), textOrNil(msg.References), textOrNil(msg.ConversationID),
		textOrNil(msg.ConversationIndex), textOrNil(msg.TrackingID), msg.Subject,
		textOrNil(msg.BodyText), textOrNil(msg.BodyHTML), textOrNil(msg.BodyPreview),
		msg.FromAddress, textOrNil(msg.FromName), encodeList(msg.ToRecipients),
		encodeList(msg.CcRecipients), encodeList(msg.BccRecipients), msg.Category,
		msg.Direction, msg.Status, msg.IsRead, msg.IsFlagged, msg.IsArchived,
		msg.Importance, msg.HasAttachments, msg.AttachmentCount,
		msg.ReceivedAt.UTC(), timeOrNil(msg.SentAt.UTC()), msg.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) messageWhere(ctx context.Context, where string, args ...any) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+where, args...)
	msg, err := s.scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// MessageByID retrieves a message by its id.
func (s *SQLiteStore) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	return s.messageWhere(ctx, `id = ?`, id)
}

// MessageByProviderID retrieves a message by its provider message id.
func (s *SQLiteStore) MessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	return s.messageWhere(ctx, `provider_message_id = ?`, providerMessageID)
}

// MessageByTrackingID retrieves a message by its tracking id.
func (s *SQLiteStore) MessageByTrackingID(ctx context.Context, trackingID string) (*models.Message, error) {
	return s.messageWhere(ctx, `tracking_id = ?`, trackingID)
}

// MessageByInternetID retrieves a message by its RFC 5322 message id.
func (s *SQLiteStore) MessageByInternetID(ctx context.Context, internetMessageID string) (*models.Message, error) {
	return s.messageWhere(ctx, `internet_message_id = ?`, internetMessageID)
}

// ListMessages retrieves messages matching the filter, newest first,
// with the total match count.
func (s *SQLiteStore) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, int64, error) {
	where := `1 = 1`
	args := []any{}

	if filter.Category != "" {
		where += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.Direction != "" {
		where += ` AND direction = ?`
		args = append(args, filter.Direction)
	}
	if filter.IsRead != nil {
		where += ` AND is_read = ?`
		args = append(args, *filter.IsRead)
	}
	if filter.IsFlagged != nil {
		where += ` AND is_flagged = ?`
		args = append(args, *filter.IsFlagged)
	}
	if filter.Search != "" {
		where += ` AND (subject LIKE ? OR body_preview LIKE ? OR from_address LIKE ?)`
		pattern := "%" + filter.Search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE `+where+`
		ORDER BY received_at DESC, id DESC
		LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages, err := s.collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// MessagesByThread retrieves all messages of a thread, newest first.
func (s *SQLiteStore) MessagesByThread(ctx context.Context, threadID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = ?
		ORDER BY received_at DESC, id DESC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

// UpdateMessage applies the partial update and returns the new state.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) (*models.Message, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			is_read = COALESCE(?, is_read),
			is_flagged = COALESCE(?, is_flagged),
			is_archived = COALESCE(?, is_archived),
			importance = COALESCE(?, importance)
		WHERE id = ?
	`, update.IsRead, update.IsFlagged, update.IsArchived, update.Importance, id)
	if err != nil {
		return nil, err
	}
	return s.MessageByID(ctx, id)
}

// SetProviderMessageID backfills the provider id on a message.
func (s *SQLiteStore) SetProviderMessageID(ctx context.Context, id, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET provider_message_id = ? WHERE id = ?
	`, textOrNil(providerMessageID), id)
	return err
}

// LatestMessageForParticipant finds the most recent message involving
// the participant whose thread carries the given category. Recipients
// are stored as JSON arrays, so containment is a quoted substring check.
func (s *SQLiteStore) LatestMessageForParticipant(ctx context.Context, participant string, category models.Category) (*models.Message, error) {
	quoted := `"` + strings.ToLower(participant) + `"`
	row := s.db.QueryRowContext(ctx, `
		SELECT `+qualifiedMessageColumns(`m`)+`
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE t.category = ?
		  AND (lower(m.from_address) = ? OR instr(lower(m.to_recipients), ?) > 0)
		ORDER BY m.received_at DESC, m.id DESC
		LIMIT 1
	`, category, strings.ToLower(participant), quoted)
	msg, err := s.scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// RecentMessages retrieves messages received since the cutoff, newest
// first, capped at limit.
func (s *SQLiteStore) RecentMessages(ctx context.Context, since time.Time, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE received_at >= ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

// MessagesInWindow retrieves messages received inside (start, end],
// newest first, capped at limit.
func (s *SQLiteStore) MessagesInWindow(ctx context.Context, start, end time.Time, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE received_at > ? AND received_at <= ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`, start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectMessages(rows)
}

// CountThreads returns the total number of threads.
func (s *SQLiteStore) CountThreads(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`).Scan(&count)
	return count, err
}

// CountMessages returns the total number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CountUnread returns the number of unread incoming messages.
func (s *SQLiteStore) CountUnread(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE is_read = 0 AND direction = 'incoming'
	`).Scan(&count)
	return count, err
}

// BusiestThreads returns the top N threads by message count.
func (s *SQLiteStore) BusiestThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE is_archived = 0
		ORDER BY message_count DESC, last_activity_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		thread, err := s.scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *thread)
	}
	return threads, rows.Err()
}

// LatestActivity returns the most recent thread activity timestamp.
func (s *SQLiteStore) LatestActivity(ctx context.Context) (*time.Time, error) {
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT MAX(last_activity_at) FROM threads`).Scan(&t)
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, nil
	}
	return &t.Time, nil
}

func (s *SQLiteStore) collectMessages(rows *sql.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
