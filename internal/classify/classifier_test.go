package classify

import (
	"testing"

	"github.com/threadline/threadline/internal/models"
)

func TestClassifyCategories(t *testing.T) {
	c := NewKeywordClassifier()

	cases := []struct {
		subject string
		preview string
		want    models.Category
	}{
		{"Invoice #2025-114", "", models.CategoryInvoice},
		{"Payment due on your account", "", models.CategoryInvoice},
		{"", "Please find the receipt for your payment", models.CategoryInvoice},
		{"Please send the missing documents", "", models.CategoryDocRequest},
		{"Documents needed for onboarding", "", models.CategoryDocRequest},
		{"Final notice of late filing", "", models.CategoryComplianceNotice},
		{"Compliance audit scheduled", "", models.CategoryComplianceNotice},
		{"Quarterly VAT return ready for review", "", models.CategoryFiling},
		{"Annual return filing deadline", "", models.CategoryFiling},
		{"Meeting request for next week", "", models.CategoryAppointment},
		{"Can we schedule a call?", "", models.CategoryAppointment},
		{"Hello there", "just checking in", models.CategoryGeneral},
		{"", "", models.CategoryGeneral},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.subject, tc.preview); got != tc.want {
			t.Errorf("Classify(%q, %q) = %q, want %q", tc.subject, tc.preview, got, tc.want)
		}
	}
}

func TestClassifyFirstRuleWins(t *testing.T) {
	c := NewKeywordClassifier()

	// Compliance outranks invoice when both keyword families appear.
	got := c.Classify("Final notice: unpaid invoice", "")
	if got != models.CategoryComplianceNotice {
		t.Fatalf("got %q, want compliance_notice", got)
	}
}

func TestClassifyUsesPreview(t *testing.T) {
	c := NewKeywordClassifier()

	got := c.Classify("Following up", "your quarterly tax return was filed successfully")
	if got != models.CategoryFiling {
		t.Fatalf("got %q, want filing", got)
	}
}
