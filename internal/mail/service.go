// Package mail orchestrates ingest and send on top of the threading
// engine and the data store.
package mail

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/threadline/threadline/internal/ids"
	"github.com/threadline/threadline/internal/metrics"
	"github.com/threadline/threadline/internal/models"
	"github.com/threadline/threadline/internal/store"
	"github.com/threadline/threadline/internal/threading"
)

// ErrNoTransport is returned by Send when no outbound transport is
// configured.
var ErrNoTransport = errors.New("mail: no outbound transport configured")

// ErrThreadNotFound is returned by Send when the requested thread does
// not exist.
var ErrThreadNotFound = errors.New("mail: thread not found")

// MethodExplicitThread tags send results addressed to a caller-chosen
// thread id, where no resolution ran.
const MethodExplicitThread = "explicit_thread"

// Transport delivers outbound mail to the provider. Implementations
// return the provider's id for the sent message when the provider
// echoes one back.
type Transport interface {
	Send(ctx context.Context, out *OutboundEmail) (providerMessageID string, err error)
}

// OutboundEmail is what a Transport delivers.
type OutboundEmail struct {
	To       []string          `json:"to"`
	Cc       []string          `json:"cc,omitempty"`
	Bcc      []string          `json:"bcc,omitempty"`
	Subject  string            `json:"subject"`
	BodyText string            `json:"body_text,omitempty"`
	BodyHTML string            `json:"body_html,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// SendRequest is the caller's side of an outbound message.
type SendRequest struct {
	ThreadID string   `json:"thread_id,omitempty"`
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Bcc      []string `json:"bcc,omitempty"`
	Subject  string   `json:"subject"`
	BodyText string   `json:"body_text,omitempty"`
	BodyHTML string   `json:"body_html,omitempty"`
}

// IngestResult reports what happened to one synced email.
type IngestResult struct {
	MessageID string             `json:"message_id"`
	ThreadID  string             `json:"thread_id"`
	Duplicate bool               `json:"duplicate"`
	Decision  threading.Decision `json:"decision"`
}

// Service wires the threading engine, classifier, store and transport
// into the ingest and send flows.
type Service struct {
	store      store.DataStore
	engine     *threading.Engine
	classifier threading.Classifier
	transport  Transport
	mailbox    string // owner address, lower-cased
}

// NewService builds a Service. transport may be nil when the instance
// only ingests.
func NewService(st store.DataStore, engine *threading.Engine, classifier threading.Classifier, transport Transport, mailboxAddress string) *Service {
	return &Service{
		store:      st,
		engine:     engine,
		classifier: classifier,
		transport:  transport,
		mailbox:    strings.ToLower(strings.TrimSpace(mailboxAddress)),
	}
}

// Ingest processes one inbound payload: dedupe, resolve, persist,
// update thread lifecycle.
func (s *Service) Ingest(ctx context.Context, email *models.InboundEmail) (*IngestResult, error) {
	if dup, err := s.findDuplicate(ctx, email); err != nil {
		return nil, err
	} else if dup != nil {
		metrics.EmailsDeduplicated.Inc()
		return dup, nil
	}

	decision, err := s.engine.Resolve(ctx, email, s.mailbox)
	if err != nil {
		return nil, err
	}
	metrics.ThreadingDecisions.WithLabelValues(decision.Method).Inc()
	metrics.DecisionConfidence.Observe(decision.Confidence)

	msg := s.buildMessage(email, decision.ThreadID)

	thread, err := s.ensureThread(ctx, &decision, msg)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}

	markReplied := msg.Direction == models.DirectionIncoming
	if err := s.store.AssignMessage(ctx, thread.ID, msg.ID, msg.ReceivedAt, markReplied); err != nil {
		return nil, err
	}

	metrics.EmailsIngested.WithLabelValues(string(msg.Direction)).Inc()
	log.Debug().
		Str("message_id", msg.ID).
		Str("thread_id", thread.ID).
		Str("method", decision.Method).
		Float64("confidence", decision.Confidence).
		Msg("email ingested")

	return &IngestResult{
		MessageID: msg.ID,
		ThreadID:  thread.ID,
		Decision:  decision,
	}, nil
}

// IngestBatch processes a sync batch in order, one result per email.
// A failed email aborts the batch so the provider can retry from its
// delta token.
func (s *Service) IngestBatch(ctx context.Context, emails []models.InboundEmail) ([]IngestResult, error) {
	results := make([]IngestResult, 0, len(emails))
	for i := range emails {
		res, err := s.Ingest(ctx, &emails[i])
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// findDuplicate checks whether this payload was already ingested, by
// provider id first and then by our own tracking header. A tracking hit
// on a message without a provider id means the provider is echoing
// back mail we sent, so the provider id is backfilled. Duplicates still
// refresh the mutable flags, since a re-sync is how read state reaches
// us.
func (s *Service) findDuplicate(ctx context.Context, email *models.InboundEmail) (*IngestResult, error) {
	if email.ID != "" {
		existing, err := s.store.MessageByProviderID(ctx, email.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := s.refreshFlags(ctx, existing, email); err != nil {
				return nil, err
			}
			return &IngestResult{
				MessageID: existing.ID,
				ThreadID:  existing.ThreadID,
				Duplicate: true,
			}, nil
		}
	}

	trackingID := threading.HeaderValue(email.InternetMessageHeaders, ids.TrackingHeader)
	if trackingID == "" {
		return nil, nil
	}
	existing, err := s.store.MessageByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, nil
	}
	if existing.ProviderMessageID == "" && email.ID != "" {
		if err := s.store.SetProviderMessageID(ctx, existing.ID, email.ID); err != nil {
			return nil, err
		}
	}
	if err := s.refreshFlags(ctx, existing, email); err != nil {
		return nil, err
	}
	return &IngestResult{
		MessageID: existing.ID,
		ThreadID:  existing.ThreadID,
		Duplicate: true,
	}, nil
}

// refreshFlags carries the provider's current read state and importance
// onto an already-ingested message.
func (s *Service) refreshFlags(ctx context.Context, existing *models.Message, email *models.InboundEmail) error {
	update := store.MessageUpdate{}
	changed := false
	if existing.IsRead != email.IsRead {
		isRead := email.IsRead
		update.IsRead = &isRead
		changed = true
	}
	if importance := normalizeImportance(email.Importance); existing.Importance != importance {
		update.Importance = &importance
		changed = true
	}
	if !changed {
		return nil
	}
	_, err := s.store.UpdateMessage(ctx, existing.ID, update)
	return err
}

// ensureThread creates the thread a new decision points at, or loads
// the matched one.
func (s *Service) ensureThread(ctx context.Context, decision *threading.Decision, msg *models.Message) (*models.Thread, error) {
	if !decision.IsNew {
		thread, err := s.store.ThreadByID(ctx, decision.ThreadID)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			return thread, nil
		}
		// Matched thread vanished underneath us; fall through and mint
		// a fresh one so the message is never orphaned.
		decision.IsNew = true
	}

	subject := msg.Subject
	if subject == "" {
		subject = "No Subject"
	}
	// Tracking id only when the message carried one; threads created
	// from plain inbound mail get theirs on the first outbound send.
	thread := &models.Thread{
		ID:             decision.ThreadID,
		Subject:        subject,
		Category:       msg.Category,
		ConversationID: msg.ConversationID,
		TrackingID:     msg.TrackingID,
		Status:         models.StatusAwaitingReply,
	}
	if err := s.store.CreateThread(ctx, thread); err != nil {
		return nil, err
	}
	metrics.ThreadsCreated.Inc()
	return thread, nil
}

// buildMessage converts the provider payload into our message record.
func (s *Service) buildMessage(email *models.InboundEmail, threadID string) *models.Message {
	from := threading.FromAddress(email)
	direction := models.DirectionIncoming
	status := models.MessageReceived
	if s.mailbox != "" && from == s.mailbox {
		direction = models.DirectionOutgoing
		status = models.MessageSent
	}

	var fromName string
	if email.From != nil {
		fromName = email.From.EmailAddress.Name
	}

	var bodyText, bodyHTML string
	if strings.EqualFold(email.Body.ContentType, "html") {
		bodyHTML = email.Body.Content
	} else {
		bodyText = email.Body.Content
	}

	receivedAt := threading.ReceivedTime(email, time.Now)
	var sentAt time.Time
	if email.SentDateTime != "" {
		if ts, err := time.Parse(time.RFC3339, email.SentDateTime); err == nil {
			sentAt = ts
		}
	}

	return &models.Message{
		ID:                ids.NewMessageID(),
		ThreadID:          threadID,
		ProviderMessageID: email.ID,
		InternetMessageID: threading.CleanMessageID(threading.HeaderValue(email.InternetMessageHeaders, "Message-ID")),
		InReplyToID:       threading.CleanMessageID(threading.HeaderValue(email.InternetMessageHeaders, "In-Reply-To")),
		References:        threading.HeaderValue(email.InternetMessageHeaders, "References"),
		ConversationID:    email.ConversationID,
		ConversationIndex: email.ConversationIndex,
		TrackingID:        threading.HeaderValue(email.InternetMessageHeaders, ids.TrackingHeader),
		Subject:           email.Subject,
		BodyText:          bodyText,
		BodyHTML:          bodyHTML,
		BodyPreview:       email.BodyPreview,
		FromAddress:       from,
		FromName:          fromName,
		ToRecipients:      threading.RecipientAddresses(email.ToRecipients),
		CcRecipients:      threading.RecipientAddresses(email.CcRecipients),
		BccRecipients:     threading.RecipientAddresses(email.BccRecipients),
		Category:          s.classifier.Classify(email.Subject, email.BodyPreview),
		Direction:         direction,
		Status:            status,
		IsRead:            email.IsRead,
		Importance:        normalizeImportance(email.Importance),
		HasAttachments:    email.HasAttachments,
		ReceivedAt:        receivedAt,
		SentAt:            sentAt,
	}
}

// Send composes and delivers an outbound message, threading it into an
// existing conversation when req.ThreadID is set.
func (s *Service) Send(ctx context.Context, req *SendRequest) (*IngestResult, error) {
	if s.transport == nil {
		return nil, ErrNoTransport
	}

	var thread *models.Thread
	var err error
	if req.ThreadID != "" {
		thread, err = s.store.ThreadByID(ctx, req.ThreadID)
		if err != nil {
			return nil, err
		}
		if thread == nil {
			return nil, ErrThreadNotFound
		}
	} else {
		thread = &models.Thread{
			ID:         ids.NewThreadID(),
			Subject:    req.Subject,
			Category:   s.classifier.Classify(req.Subject, req.BodyText),
			TrackingID: ids.NewTrackingID(),
			Status:     models.StatusAwaitingReply,
		}
		if err := s.store.CreateThread(ctx, thread); err != nil {
			return nil, err
		}
		metrics.ThreadsCreated.Inc()
	}

	trackingID := thread.TrackingID
	if trackingID == "" {
		trackingID = ids.NewTrackingID()
		if err := s.store.SetThreadTrackingID(ctx, thread.ID, trackingID); err != nil {
			return nil, err
		}
		thread.TrackingID = trackingID
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ID:            ids.NewMessageID(),
		ThreadID:      thread.ID,
		TrackingID:    trackingID,
		Subject:       req.Subject,
		BodyText:      req.BodyText,
		BodyHTML:      req.BodyHTML,
		FromAddress:   s.mailbox,
		ToRecipients:  lowerAll(req.To),
		CcRecipients:  lowerAll(req.Cc),
		BccRecipients: lowerAll(req.Bcc),
		Category:      thread.Category,
		Direction:     models.DirectionOutgoing,
		Status:        models.MessageSent,
		IsRead:        true,
		Importance:    "normal",
		ReceivedAt:    now,
		SentAt:        now,
	}

	out := &OutboundEmail{
		To:       req.To,
		Cc:       req.Cc,
		Bcc:      req.Bcc,
		Subject:  req.Subject,
		BodyText: req.BodyText,
		BodyHTML: req.BodyHTML,
		Headers:  map[string]string{ids.TrackingHeader: trackingID},
	}

	providerID, err := s.transport.Send(ctx, out)
	if err != nil {
		msg.Status = models.MessageFailed
		if createErr := s.store.CreateMessage(ctx, msg); createErr != nil {
			return nil, createErr
		}
		log.Error().Err(err).Str("message_id", msg.ID).Msg("send failed")
		return nil, err
	}
	msg.ProviderMessageID = providerID

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.AssignMessage(ctx, thread.ID, msg.ID, msg.ReceivedAt, false); err != nil {
		return nil, err
	}
	metrics.EmailsIngested.WithLabelValues(string(models.DirectionOutgoing)).Inc()

	method := threading.MethodNewThread
	if req.ThreadID != "" {
		method = MethodExplicitThread
	}
	return &IngestResult{
		MessageID: msg.ID,
		ThreadID:  thread.ID,
		Decision: threading.Decision{
			ThreadID: thread.ID,
			Method:   method,
			IsNew:    req.ThreadID == "",
		},
	}, nil
}

func lowerAll(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func normalizeImportance(importance string) string {
	switch strings.ToLower(importance) {
	case "low", "high":
		return strings.ToLower(importance)
	default:
		return "normal"
	}
}
