package threading

import (
	"regexp"
	"strings"
)

// Localized reply/forward tokens seen across common mail clients.
var subjectPrefixRe = regexp.MustCompile(`(?i)^(re|fwd?|aw|rv|enc|tr|vs|sv|antw|odp|yant|doorst):\s*`)

// Leading bracketed tags such as "[External]" or "[EXT]".
var subjectBracketRe = regexp.MustCompile(`^\[[^\]]*\]\s*`)

// NormalizeSubject prepares a subject line for comparison: it strips
// reply/forward prefixes and bracketed tags until none remain (handling
// compounds like "[EXT] Re: Fwd: ..."), collapses whitespace and
// lower-cases. Normalizing an already-normalized subject is a no-op.
func NormalizeSubject(subject string) string {
	cleaned := strings.TrimSpace(subject)
	for {
		next := subjectPrefixRe.ReplaceAllString(cleaned, "")
		next = subjectBracketRe.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == cleaned {
			break
		}
		cleaned = next
	}
	return strings.ToLower(strings.Join(strings.Fields(cleaned), " "))
}

// CleanMessageID strips surrounding whitespace and angle brackets from
// an RFC 5322 message id.
func CleanMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
