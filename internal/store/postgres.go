package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threadline/threadline/internal/models"
)

const threadColumns = `id, subject, category, conversation_id, tracking_id,
	first_message_id, last_message_id, message_count, last_activity_at,
	status, is_archived, is_flagged, created_at`

const messageColumns = `id, thread_id, provider_message_id, internet_message_id,
	in_reply_to_id, references_header, conversation_id, conversation_index,
	tracking_id, subject, body_text, body_html, body_preview, from_address,
	from_name, to_recipients, cc_recipients, bcc_recipients, category,
	direction, status, is_read, is_flagged, is_archived, importance,
	has_attachments, attachment_count, received_at, sent_at, created_at`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanThread(row rowScanner) (*models.Thread, error) {
	thread := &models.Thread{}
	var conversationID, trackingID, firstMsg, lastMsg *string
	var lastActivity *time.Time

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

	thread.ConversationID = derefText(conversationID)
	thread.TrackingID = derefText(trackingID)
	thread.FirstMessageID = derefText(firstMsg)
	thread.LastMessageID = derefText(lastMsg)
	thread.LastActivityAt = derefTime(lastActivity)
	return thread, nil
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var providerID, internetID, inReplyTo, references *string
	var conversationID, conversationIndex, trackingID *string
	var bodyText, bodyHTML, bodyPreview, fromName *string
	var sentAt *time.Time

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
		&msg.ToRecipients,
		&msg.CcRecipients,
		&msg.BccRecipients,
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

	msg.ProviderMessageID = derefText(providerID)
	msg.InternetMessageID = derefText(internetID)
	msg.InReplyToID = derefText(inReplyTo)
	msg.References = derefText(references)
	msg.ConversationID = derefText(conversationID)
	msg.ConversationIndex = derefText(conversationIndex)
	msg.TrackingID = derefText(trackingID)
	msg.BodyText = derefText(bodyText)
	msg.BodyHTML = derefText(bodyHTML)
	msg.BodyPreview = derefText(bodyPreview)
	msg.FromName = derefText(fromName)
	msg.SentAt = derefTime(sentAt)
	return msg, nil
}

// CreateThread inserts a new thread record.
func (s *PostgresStore) CreateThread(ctx context.Context, thread *models.Thread) error {
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO threads (id, subject, category, conversation_id, tracking_id,
			first_message_id, last_message_id, message_count, last_activity_at,
			status, is_archived, is_flagged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, thread.ID, thread.Subject, thread.Category,
		textOrNil(thread.ConversationID), textOrNil(thread.TrackingID),
		textOrNil(thread.FirstMessageID), textOrNil(thread.LastMessageID),
		thread.MessageCount, timeOrNil(thread.LastActivityAt),
		thread.Status, thread.IsArchived, thread.IsFlagged, thread.CreatedAt)
	return err
}

func (s *PostgresStore) threadWhere(ctx context.Context, where string, args ...any) (*models.Thread, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE `+where, args...)
	thread, err := scanThread(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return thread, nil
}

// ThreadByID retrieves a thread by its id.
func (s *PostgresStore) ThreadByID(ctx context.Context, id string) (*models.Thread, error) {
	return s.threadWhere(ctx, `id = $1`, id)
}

// ThreadByConversationID retrieves the thread carrying the provider
// conversation id.
func (s *PostgresStore) ThreadByConversationID(ctx context.Context, conversationID string) (*models.Thread, error) {
	return s.threadWhere(ctx, `conversation_id = $1`, conversationID)
}

// ThreadByTrackingID retrieves the thread carrying the tracking id.
func (s *PostgresStore) ThreadByTrackingID(ctx context.Context, trackingID string) (*models.Thread, error) {
	return s.threadWhere(ctx, `tracking_id = $1`, trackingID)
}

// ListThreads retrieves threads matching the filter, newest activity
// first, with the total match count.
func (s *PostgresStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]models.Thread, int64, error) {
	where := `TRUE`
	args := []any{}

	if filter.Category != "" {
		args = append(args, filter.Category)
		where += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if !filter.IncludeArchived {
		where += ` AND is_archived = FALSE`
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM threads WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+threadColumns+` FROM threads
		WHERE `+where+`
		ORDER BY last_activity_at DESC NULLS LAST, created_at DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, 0, err
		}
		threads = append(threads, *thread)
	}
	return threads, total, rows.Err()
}

// UpdateThread applies the partial update and returns the new state.
func (s *PostgresStore) UpdateThread(ctx context.Context, id string, update ThreadUpdate) (*models.Thread, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE threads SET
			status = COALESCE($2, status),
			is_archived = COALESCE($3, is_archived),
			is_flagged = COALESCE($4, is_flagged)
		WHERE id = $1
	`, id, update.Status, update.IsArchived, update.IsFlagged)
	if err != nil {
		return nil, err
	}
	return s.ThreadByID(ctx, id)
}

// SetThreadTrackingID assigns a tracking id to a thread that has none.
func (s *PostgresStore) SetThreadTrackingID(ctx context.Context, id, trackingID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE threads SET tracking_id = $2 WHERE id = $1 AND tracking_id IS NULL
	`, id, textOrNil(trackingID))
	return err
}

// AssignMessage applies the lifecycle update for one new message. The
// single UPDATE keeps counters consistent under concurrent assignment.
func (s *PostgresStore) AssignMessage(ctx context.Context, threadID, messageID string, receivedAt time.Time, markReplied bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE threads SET
			message_count = message_count + 1,
			first_message_id = COALESCE(first_message_id, $2),
			last_message_id = $2,
			last_activity_at = CASE
				WHEN message_count = 0 OR last_activity_at IS NULL THEN $3
				WHEN $3 > last_activity_at THEN $3
				ELSE last_activity_at
			END,
			status = CASE
				WHEN $4 AND status IN ('awaiting_reply', 'replied') THEN 'replied'
				ELSE status
			END
		WHERE id = $1
	`, threadID, messageID, receivedAt, markReplied)
	return err
}

// CreateMessage inserts a new message record.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, thread_id, provider_message_id, internet_message_id,
			in_reply_to_id, references_header, conversation_id, conversation_index,
			tracking_id, subject, body_text, body_html, body_preview, from_address,
			from_name, to_recipients, cc_recipients, bcc_recipients, category,
			direction, status, is_read, is_flagged, is_archived, importance,
			has_attachments, attachment_count, received_at, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
	`, msg.ID, msg.ThreadID, textOrNil(msg.ProviderMessageID), textOrNil(msg.InternetMessageID),
		textOrNil(msg.InReplyToID), textOrNil(msg.References), textOrNil(msg.ConversationID),
		textOrNil(msg.ConversationIndex), textOrNil(msg.TrackingID), msg.Subject,
		textOrNil(msg.BodyText), textOrNil(msg.BodyHTML), textOrNil(msg.BodyPreview),
		msg.FromAddress, textOrNil(msg.FromName), msg.ToRecipients, msg.CcRecipients,
		msg.BccRecipients, msg.Category, msg.Direction, msg.Status, msg.IsRead,
		msg.IsFlagged, msg.IsArchived, msg.Importance, msg.HasAttachments,
		msg.AttachmentCount, msg.ReceivedAt, timeOrNil(msg.SentAt), msg.CreatedAt)
	return err
}

func (s *PostgresStore) messageWhere(ctx context.Context, where string, args ...any) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE `+where, args...)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// MessageByID retrieves a message by its id.
func (s *PostgresStore) MessageByID(ctx context.Context, id string) (*models.Message, error) {
	return s.messageWhere(ctx, `id = $1`, id)
}

// MessageByProviderID retrieves a message by its provider message id.
func (s *PostgresStore) MessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error) {
	return s.messageWhere(ctx, `provider_message_id = $1`, providerMessageID)
}

// MessageByTrackingID retrieves a message by its tracking id.
func (s *PostgresStore) MessageByTrackingID(ctx context.Context, trackingID string) (*models.Message, error) {
	return s.messageWhere(ctx, `tracking_id = $1`, trackingID)
}

// MessageByInternetID retrieves a message by its RFC 5322 message id.
func (s *PostgresStore) MessageByInternetID(ctx context.Context, internetMessageID string) (*models.Message, error) {
	return s.messageWhere(ctx, `internet_message_id = $1`, internetMessageID)
}

// ListMessages retrieves messages matching the filter, newest first,
// with the total match count.
func (s *PostgresStore) ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, int64, error) {
	where := `TRUE`
	args := []any{}

	if filter.Category != "" {
		args = append(args, filter.Category)
		where += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if filter.Direction != "" {
		args = append(args, filter.Direction)
		where += fmt.Sprintf(` AND direction = $%d`, len(args))
	}
	if filter.IsRead != nil {
		args = append(args, *filter.IsRead)
		where += fmt.Sprintf(` AND is_read = $%d`, len(args))
	}
	if filter.IsFlagged != nil {
		args = append(args, *filter.IsFlagged)
		where += fmt.Sprintf(` AND is_flagged = $%d`, len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		where += fmt.Sprintf(` AND (subject ILIKE $%d OR body_preview ILIKE $%d OR from_address ILIKE $%d)`, n, n, n)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Limit, filter.Offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+messageColumns+` FROM messages
		WHERE `+where+`
		ORDER BY received_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

// MessagesByThread retrieves all messages of a thread, newest first.
func (s *PostgresStore) MessagesByThread(ctx context.Context, threadID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = $1
		ORDER BY received_at DESC, id DESC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// UpdateMessage applies the partial update and returns the new state.
func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) (*models.Message, error) {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET
			is_read = COALESCE($2, is_read),
			is_flagged = COALESCE($3, is_flagged),
			is_archived = COALESCE($4, is_archived),
			importance = COALESCE($5, importance)
		WHERE id = $1
	`, id, update.IsRead, update.IsFlagged, update.IsArchived, update.Importance)
	if err != nil {
		return nil, err
	}
	return s.MessageByID(ctx, id)
}

// SetProviderMessageID backfills the provider id on a message that was
// created locally before the provider echoed it back.
func (s *PostgresStore) SetProviderMessageID(ctx context.Context, id, providerMessageID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages SET provider_message_id = $2 WHERE id = $1
	`, id, textOrNil(providerMessageID))
	return err
}

// LatestMessageForParticipant finds the most recent message involving
// the participant whose thread carries the given category.
func (s *PostgresStore) LatestMessageForParticipant(ctx context.Context, participant string, category models.Category) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+qualifiedMessageColumns(`m`)+`
		FROM messages m
		JOIN threads t ON t.id = m.thread_id
		WHERE t.category = $1
		  AND (m.from_address = $2 OR $2 = ANY(m.to_recipients))
		ORDER BY m.received_at DESC, m.id DESC
		LIMIT 1
	`, category, participant)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// RecentMessages retrieves messages received since the cutoff, newest
// first, capped at limit.
func (s *PostgresStore) RecentMessages(ctx context.Context, since time.Time, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE received_at >= $1
		ORDER BY received_at DESC, id DESC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// MessagesInWindow retrieves messages received inside (start, end],
// newest first, capped at limit. The far edge is exclusive.
func (s *PostgresStore) MessagesInWindow(ctx context.Context, start, end time.Time, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE received_at > $1 AND received_at <= $2
		ORDER BY received_at DESC, id DESC
		LIMIT $3
	`, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// CountThreads returns the total number of threads.
func (s *PostgresStore) CountThreads(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM threads`).Scan(&count)
	return count, err
}

// CountMessages returns the total number of messages.
func (s *PostgresStore) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CountUnread returns the number of unread incoming messages.
func (s *PostgresStore) CountUnread(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM messages WHERE is_read = FALSE AND direction = 'incoming'
	`).Scan(&count)
	return count, err
}

// BusiestThreads returns the top N threads by message count.
func (s *PostgresStore) BusiestThreads(ctx context.Context, limit int) ([]models.Thread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE is_archived = FALSE
		ORDER BY message_count DESC, last_activity_at DESC NULLS LAST
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, *thread)
	}
	return threads, rows.Err()
}

// LatestActivity returns the most recent thread activity timestamp.
func (s *PostgresStore) LatestActivity(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(last_activity_at) FROM threads`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// qualifiedMessageColumns prefixes every message column with the table
// alias for joined queries.
func qualifiedMessageColumns(alias string) string {
	cols := ""
	for i, c := range messageColumnList {
		if i > 0 {
			cols += ", "
		}
		cols += alias + "." + c
	}
	return cols
}

var messageColumnList = []string{
	"id", "thread_id", "provider_message_id", "internet_message_id",
	"in_reply_to_id", "references_header", "conversation_id", "conversation_index",
	"tracking_id", "subject", "body_text", "body_html", "body_preview", "from_address",
	"from_name", "to_recipients", "cc_recipients", "bcc_recipients", "category",
	"direction", "status", "is_read", "is_flagged", "is_archived", "importance",
	"has_attachments", "attachment_count", "received_at", "sent_at", "created_at",
}
