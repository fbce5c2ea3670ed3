package store

import (
	"context"
	"time"

	"github.com/threadline/threadline/internal/models"
)

// ThreadFilter narrows thread listings.
type ThreadFilter struct {
	Category        string
	Status          string
	IncludeArchived bool
	Limit           int
	Offset          int
}

// MessageFilter narrows message listings.
type MessageFilter struct {
	Category  string
	Direction string
	IsRead    *bool
	IsFlagged *bool
	Search    string // matches subject, preview, sender
	Limit     int
	Offset    int
}

// ThreadUpdate carries the mutable thread fields; nil means unchanged.
type ThreadUpdate struct {
	Status     *string
	IsArchived *bool
	IsFlagged  *bool
}

// MessageUpdate carries the mutable message fields; nil means unchanged.
type MessageUpdate struct {
	IsRead     *bool
	IsFlagged  *bool
	IsArchived *bool
	Importance *string
}

// DataStore defines the interface for persistent storage of threads and
// messages. Both PostgresStore and SQLiteStore implement this interface.
// Lookups return (nil, nil) when no row matches.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Thread operations
	CreateThread(ctx context.Context, thread *models.Thread) error
	ThreadByID(ctx context.Context, id string) (*models.Thread, error)
	ThreadByConversationID(ctx context.Context, conversationID string) (*models.Thread, error)
	ThreadByTrackingID(ctx context.Context, trackingID string) (*models.Thread, error)
	ListThreads(ctx context.Context, filter ThreadFilter) ([]models.Thread, int64, error)
	UpdateThread(ctx context.Context, id string, update ThreadUpdate) (*models.Thread, error)

	// SetThreadTrackingID assigns a tracking id to a thread that has
	// none yet. A thread that already carries one keeps it.
	SetThreadTrackingID(ctx context.Context, id, trackingID string) error

	// AssignMessage applies the thread lifecycle update for one new
	// message in a single atomic statement: bumps message_count, sets
	// first/last message ids, advances last_activity_at (always for
	// the thread's first message, otherwise only forward), and flips
	// status to replied when markReplied is set and the thread is not
	// resolved or archived.
	AssignMessage(ctx context.Context, threadID, messageID string, receivedAt time.Time, markReplied bool) error

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) error
	MessageByID(ctx context.Context, id string) (*models.Message, error)
	MessageByProviderID(ctx context.Context, providerMessageID string) (*models.Message, error)
	MessageByTrackingID(ctx context.Context, trackingID string) (*models.Message, error)
	MessageByInternetID(ctx context.Context, internetMessageID string) (*models.Message, error)
	ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, int64, error)
	MessagesByThread(ctx context.Context, threadID string) ([]models.Message, error)
	UpdateMessage(ctx context.Context, id string, update MessageUpdate) (*models.Message, error)
	SetProviderMessageID(ctx context.Context, id, providerMessageID string) error

	// Matcher scans, capped by the caller
	LatestMessageForParticipant(ctx context.Context, participant string, category models.Category) (*models.Message, error)
	RecentMessages(ctx context.Context, since time.Time, limit int) ([]models.Message, error)
	MessagesInWindow(ctx context.Context, start, end time.Time, limit int) ([]models.Message, error)

	// Aggregates for the stats endpoint
	CountThreads(ctx context.Context) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
	CountUnread(ctx context.Context) (int64, error)
	BusiestThreads(ctx context.Context, limit int) ([]models.Thread, error)
	LatestActivity(ctx context.Context) (*time.Time, error)
}

// textOrNil maps empty strings to NULL so nullable-unique columns
// (tracking id, internet message id, provider id) stay unique.
func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// timeOrNil maps the zero time to NULL.
func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefText(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
