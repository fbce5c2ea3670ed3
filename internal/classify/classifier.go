// Package classify maps email content to a business category.
package classify

import (
	"regexp"

	"github.com/threadline/threadline/internal/models"
)

// Classifier assigns a category to a message from its subject and
// preview text.
type Classifier interface {
	Classify(subject, preview string) models.Category
}

// rule pairs a category with the patterns that select it. Rules are
// evaluated in order; the first hit wins.
type rule struct {
	category models.Category
	patterns []*regexp.Regexp
}

// KeywordClassifier is the default Classifier: an ordered keyword
// ladder over subject and preview.
type KeywordClassifier struct {
	rules []rule
}

// NewKeywordClassifier builds the default rule set.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{rules: []rule{
		{
			category: models.CategoryComplianceNotice,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(compliance|penalty|notice\s+of|audit|violation|overdue\s+filing)\b`),
				regexp.MustCompile(`(?i)\bfinal\s+(notice|reminder|warning)\b`),
			},
		},
		{
			category: models.CategoryInvoice,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\binvoice\b`),
				regexp.MustCompile(`(?i)\b(payment\s+(due|received|reminder)|billing\s+statement|receipt\s+for)\b`),
			},
		},
		{
			category: models.CategoryDocRequest,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(please\s+(send|provide|share|upload)|missing|required)\b.{0,40}\b(document|statement|record|form|paperwork)s?\b`),
				regexp.MustCompile(`(?i)\bdocuments?\s+(request|needed|required)\b`),
			},
		},
		{
			category: models.CategoryFiling,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(vat|gst|tax|annual|quarterly)\s+(return|filing|submission)\b`),
				regexp.MustCompile(`(?i)\b(filed|filing)\s+(successfully|confirmation|deadline)\b`),
			},
		},
		{
			category: models.CategoryAppointment,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(appointment|meeting|call)\s+(request|confirm(ed|ation)?|reschedul)`),
				regexp.MustCompile(`(?i)\b(schedule|book)\s+(a\s+)?(call|meeting|appointment)\b`),
			},
		},
	}}
}

// Classify returns the first matching category, or CategoryGeneral.
func (c *KeywordClassifier) Classify(subject, preview string) models.Category {
	text := subject + "\n" + preview
	for _, r := range c.rules {
		for _, p := range r.patterns {
			if p.MatchString(text) {
				return r.category
			}
		}
	}
	return models.CategoryGeneral
}
