package threading

import (
	"strings"
	"time"

	"github.com/threadline/threadline/internal/models"
)

// normalizeAddress lower-cases and trims an email address.
func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// FromAddress returns the lower-cased sender address, or "" when the
// payload has no sender.
func FromAddress(e *models.InboundEmail) string {
	if e.From == nil {
		return ""
	}
	return normalizeAddress(e.From.EmailAddress.Address)
}

// RecipientAddresses lower-cases a recipient list and filters out
// empty entries.
func RecipientAddresses(recipients []models.Recipient) []string {
	addrs := make([]string, 0, len(recipients))
	for _, r := range recipients {
		addr := strings.ToLower(strings.TrimSpace(r.EmailAddress.Address))
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs
}

// HeaderValue returns the value of the named internet message header,
// matched case-insensitively. Empty string when absent.
func HeaderValue(headers []models.Header, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ParticipantSet collects the sender plus to/cc recipients of a
// payload into a set of lower-cased addresses.
func ParticipantSet(e *models.InboundEmail) map[string]struct{} {
	set := make(map[string]struct{})
	for _, addr := range RecipientAddresses(e.ToRecipients) {
		set[addr] = struct{}{}
	}
	for _, addr := range RecipientAddresses(e.CcRecipients) {
		set[addr] = struct{}{}
	}
	if from := FromAddress(e); from != "" {
		set[from] = struct{}{}
	}
	return set
}

// messageParticipants builds the same set for a stored message.
func messageParticipants(m *models.Message) map[string]struct{} {
	set := make(map[string]struct{})
	for _, addr := range m.ToRecipients {
		if addr != "" {
			set[strings.ToLower(addr)] = struct{}{}
		}
	}
	for _, addr := range m.CcRecipients {
		if addr != "" {
			set[strings.ToLower(addr)] = struct{}{}
		}
	}
	if m.FromAddress != "" {
		set[strings.ToLower(m.FromAddress)] = struct{}{}
	}
	return set
}

// ReceivedTime parses the payload's received timestamp, falling back
// to the sent timestamp and then to now. A missing or unparseable
// timestamp is degraded input, not an error.
func ReceivedTime(e *models.InboundEmail, now func() time.Time) time.Time {
	for _, raw := range []string{e.ReceivedDateTime, e.SentDateTime} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return now()
}
