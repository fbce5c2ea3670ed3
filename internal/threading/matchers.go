package threading

import (
	"context"
	"regexp"
	"strings"

	"github.com/threadline/threadline/internal/ids"
)

// trackingTokenRe recognizes a tracking id embedded anywhere in a
// References token.
var trackingTokenRe = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(ids.TrackingPrefix) + `[A-Za-z0-9_-]+`)

// matchParticipantCategory groups by (other participant, category):
// the most recent message involving the same counterparty in a thread
// of the same category wins. Requires knowing the acting user, since
// the counterparty differs for outgoing mail.
func (e *Engine) matchParticipantCategory(ctx context.Context, c *candidate) (*Decision, error) {
	if c.actingUser == "" {
		return nil, nil
	}

	var participant string
	if c.from == c.actingUser {
		// Outgoing: the counterparty is the first recipient.
		if to := RecipientAddresses(c.email.ToRecipients); len(to) > 0 {
			participant = to[0]
		}
	} else {
		participant = c.from
	}
	if participant == "" {
		return nil, nil
	}

	category := e.classifier.Classify(c.email.Subject, c.email.BodyPreview)

	msg, err := e.store.LatestMessageForParticipant(ctx, participant, category)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.ThreadID == "" {
		return nil, nil
	}
	return &Decision{
		ThreadID:   msg.ThreadID,
		Confidence: 1.0,
		Method:     MethodParticipantCategory,
		ParentID:   msg.ID,
	}, nil
}

// matchConversationID trusts the provider's own conversation grouping.
func (e *Engine) matchConversationID(ctx context.Context, c *candidate) (*Decision, error) {
	if c.email.ConversationID == "" {
		return nil, nil
	}
	thread, err := e.store.ThreadByConversationID(ctx, c.email.ConversationID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, nil
	}
	return &Decision{
		ThreadID:   thread.ID,
		Confidence: 1.0,
		Method:     MethodConversationID,
	}, nil
}

// matchCustomHeader looks for our tracking id, first as a direct
// header, then embedded in the References chain (clients that drop
// custom headers usually still echo References).
func (e *Engine) matchCustomHeader(ctx context.Context, c *candidate) (*Decision, error) {
	if value := HeaderValue(c.email.InternetMessageHeaders, ids.TrackingHeader); value != "" {
		thread, err := e.store.ThreadByTrackingID(ctx, value)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			return &Decision{
				ThreadID:   thread.ID,
				Confidence: 0.95,
				Method:     MethodCustomHeaderDirect,
			}, nil
		}
	}

	references := HeaderValue(c.email.InternetMessageHeaders, "References")
	for _, ref := range strings.Fields(references) {
		token := trackingTokenRe.FindString(ref)
		if token == "" {
			continue
		}
		thread, err := e.store.ThreadByTrackingID(ctx, token)
		if err != nil {
			return nil, err
		}
		if thread != nil {
			return &Decision{
				ThreadID:   thread.ID,
				Confidence: 0.85,
				Method:     MethodCustomHeaderInReference,
			}, nil
		}
	}

	return nil, nil
}

// matchInReplyTo follows the In-Reply-To header straight to the parent
// message.
func (e *Engine) matchInReplyTo(ctx context.Context, c *candidate) (*Decision, error) {
	inReplyTo := CleanMessageID(HeaderValue(c.email.InternetMessageHeaders, "In-Reply-To"))
	if inReplyTo == "" {
		return nil, nil
	}
	parent, err := e.store.MessageByInternetID(ctx, inReplyTo)
	if err != nil {
		return nil, err
	}
	if parent == nil || parent.ThreadID == "" {
		return nil, nil
	}
	return &Decision{
		ThreadID:   parent.ThreadID,
		Confidence: 0.99,
		Method:     MethodInReplyTo,
		ParentID:   parent.ID,
	}, nil
}

// matchReferences walks the References chain from the most recent id
// backwards; the first id we have a message for decides the thread.
func (e *Engine) matchReferences(ctx context.Context, c *candidate) (*Decision, error) {
	references := HeaderValue(c.email.InternetMessageHeaders, "References")
	if references == "" {
		return nil, nil
	}

	refs := strings.Fields(references)
	for i := len(refs) - 1; i >= 0; i-- {
		refID := CleanMessageID(refs[i])
		if refID == "" {
			continue
		}
		parent, err := e.store.MessageByInternetID(ctx, refID)
		if err != nil {
			return nil, err
		}
		if parent == nil || parent.ThreadID == "" {
			continue
		}
		return &Decision{
			ThreadID:   parent.ThreadID,
			Confidence: 0.95,
			Method:     MethodReferences,
			ParentID:   parent.ID,
		}, nil
	}

	return nil, nil
}

// matchSubject accepts a near-identical normalized subject when the
// messages also share at least one participant. The scan is capped to
// recent history so cost stays bounded.
func (e *Engine) matchSubject(ctx context.Context, c *candidate) (*Decision, error) {
	if len([]rune(c.normSubject)) < subjectMinLength {
		return nil, nil
	}

	since := e.now().Add(-subjectWindow)
	recent, err := e.store.RecentMessages(ctx, since, subjectScanCap)
	if err != nil {
		return nil, err
	}

	for i := range recent {
		msg := &recent[i]
		if msg.ThreadID == "" {
			continue
		}
		similarity := SimilarityRatio(c.normSubject, NormalizeSubject(msg.Subject))
		if similarity < subjectSimilarityMin {
			continue
		}
		if !sharesParticipant(c.participants, messageParticipants(msg)) {
			continue
		}
		return &Decision{
			ThreadID:   msg.ThreadID,
			Confidence: 0.70,
			Method:     MethodSubjectMatch,
			ParentID:   msg.ID,
		}, nil
	}

	return nil, nil
}

// matchTimeRecipient is the last resort: heavy participant overlap
// within the last 24 hours. Candidates exactly at the window edge are
// out; the overlap bar is high to keep false merges rare.
func (e *Engine) matchTimeRecipient(ctx context.Context, c *candidate) (*Decision, error) {
	if len(c.participants) < 2 {
		return nil, nil
	}

	start := c.receivedAt.Add(-recipientWindow)
	window, err := e.store.MessagesInWindow(ctx, start, c.receivedAt, recipientScanCap)
	if err != nil {
		return nil, err
	}

	for i := range window {
		msg := &window[i]
		if msg.ThreadID == "" {
			continue
		}
		theirs := messageParticipants(msg)
		if len(theirs) == 0 {
			continue
		}
		if JaccardOverlap(c.participants, theirs) < recipientOverlapMin {
			continue
		}
		return &Decision{
			ThreadID:   msg.ThreadID,
			Confidence: 0.50,
			Method:     MethodTimeRecipient,
			ParentID:   msg.ID,
		}, nil
	}

	return nil, nil
}

// sharesParticipant reports whether the two sets intersect.
func sharesParticipant(a, b map[string]struct{}) bool {
	for addr := range a {
		if _, ok := b[addr]; ok {
			return true
		}
	}
	return false
}
