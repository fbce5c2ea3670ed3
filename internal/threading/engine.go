// Package threading assigns incoming email to conversation threads.
//
// Resolution runs a fixed ladder of matchers ordered by decreasing
// reliability: provider identifiers first, RFC 5322 reply chains next,
// fuzzy heuristics last. The first matcher to produce a result wins;
// when none do, a fresh thread id is minted. Given identical store
// state and input, Resolve always returns the same decision, which is
// what makes re-syncing the same mailbox safe.
package threading

import (
	"context"
	"time"

	"github.com/threadline/threadline/internal/ids"
	"github.com/threadline/threadline/internal/models"
)

// Method tags carried on every decision.
const (
	MethodParticipantCategory     = "participant_category"
	MethodConversationID          = "conversation_id"
	MethodCustomHeaderDirect      = "custom_header_direct"
	MethodCustomHeaderInReference = "custom_header_in_references"
	MethodInReplyTo               = "rfc_in_reply_to"
	MethodReferences              = "rfc_references"
	MethodSubjectMatch            = "subject_match"
	MethodTimeRecipient           = "time_recipient_match"
	MethodNewThread               = "new_thread"
)

// Matcher tuning. The scan caps bound worst-case work as the mailbox
// grows; the windows and thresholds follow observed client behavior.
const (
	subjectMinLength     = 5
	subjectSimilarityMin = 0.90
	subjectWindow        = 30 * 24 * time.Hour
	subjectScanCap       = 500

	recipientOverlapMin = 0.70
	recipientWindow     = 24 * time.Hour
	recipientScanCap    = 100
)

// Decision is the resolver's output for one message.
type Decision struct {
	ThreadID   string  `json:"thread_id"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
	ParentID   string  `json:"parent_id,omitempty"`
	IsNew      bool    `json:"is_new"`
}

// Store is the persistence surface the engine reads from. Lookups
// return (nil, nil) when nothing matches; only infrastructure failures
// are errors.
type Store interface {
	ThreadByConversationID(ctx context.Context, conversationID string) (*models.Thread, error)
	ThreadByTrackingID(ctx context.Context, trackingID string) (*models.Thread, error)
	MessageByInternetID(ctx context.Context, internetMessageID string) (*models.Message, error)
	LatestMessageForParticipant(ctx context.Context, participant string, category models.Category) (*models.Message, error)
	RecentMessages(ctx context.Context, since time.Time, limit int) ([]models.Message, error)
	MessagesInWindow(ctx context.Context, start, end time.Time, limit int) ([]models.Message, error)
}

// Classifier labels a message so the participant matcher and thread
// creation can group by business purpose.
type Classifier interface {
	Classify(subject, preview string) models.Category
}

// matcher is one rung of the ladder.
type matcher struct {
	name string
	fn   func(ctx context.Context, c *candidate) (*Decision, error)
}

// Engine resolves messages to threads. It is stateless between calls;
// everything it knows comes from the store during resolution.
type Engine struct {
	store      Store
	classifier Classifier
	now        func() time.Time
	matchers   []matcher
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock, used by tests and replay tooling.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an engine with the matcher ladder in priority order.
func NewEngine(store Store, classifier Classifier, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		classifier: classifier,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.matchers = []matcher{
		{MethodParticipantCategory, e.matchParticipantCategory},
		{MethodConversationID, e.matchConversationID},
		{MethodCustomHeaderDirect, e.matchCustomHeader},
		{MethodInReplyTo, e.matchInReplyTo},
		{MethodReferences, e.matchReferences},
		{MethodSubjectMatch, e.matchSubject},
		{MethodTimeRecipient, e.matchTimeRecipient},
	}
	return e
}

// candidate carries the signals extracted once per resolution.
type candidate struct {
	email        *models.InboundEmail
	actingUser   string
	from         string
	receivedAt   time.Time
	normSubject  string
	participants map[string]struct{}
}

// Resolve assigns the message to a thread. actingUser is the mailbox
// owner's address, used to tell outgoing from incoming mail.
func (e *Engine) Resolve(ctx context.Context, email *models.InboundEmail, actingUser string) (Decision, error) {
	c := &candidate{
		email:        email,
		actingUser:   normalizeAddress(actingUser),
		from:         FromAddress(email),
		receivedAt:   ReceivedTime(email, e.now),
		normSubject:  NormalizeSubject(email.Subject),
		participants: ParticipantSet(email),
	}

	for _, m := range e.matchers {
		decision, err := m.fn(ctx, c)
		if err != nil {
			return Decision{}, err
		}
		if decision != nil {
			return *decision, nil
		}
	}

	return Decision{
		ThreadID:   ids.NewThreadID(),
		Confidence: 0.0,
		Method:     MethodNewThread,
		IsNew:      true,
	}, nil
}
