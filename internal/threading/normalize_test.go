package threading

import "testing"

func TestNormalizeSubjectPrefixes(t *testing.T) {
	cases := map[string]string{
		"Re: Invoice 1234":           "invoice 1234",
		"RE: RE: Invoice 1234":       "invoice 1234",
		"Fwd: Quarterly filing":      "quarterly filing",
		"FW: Quarterly filing":       "quarterly filing",
		"AW: Besprechung":            "besprechung",
		"SV: Faktura":                "faktura",
		"Invoice 1234":               "invoice 1234",
		"  Invoice   1234  ":         "invoice 1234",
		"[EXT] Re: Fwd: Invoice 99":  "invoice 99",
		"[External] Payment due":     "payment due",
		"Re: [Client] Re: Documents": "documents",
	}
	for in, want := range cases {
		if got := NormalizeSubject(in); got != want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeSubjectIdempotent(t *testing.T) {
	subjects := []string{
		"Re: Invoice 1234",
		" re: annual return ",
		"[EXT] Fwd: [Tag] Re: hello world",
		"plain subject",
		"",
	}
	for _, s := range subjects {
		once := NormalizeSubject(s)
		twice := NormalizeSubject(once)
		if once != twice {
			t.Errorf("NormalizeSubject not idempotent for %q: %q != %q", s, once, twice)
		}
	}
}

func TestNormalizeSubjectKeepsInnerTokens(t *testing.T) {
	// "re:" in the middle of a subject is content, not a prefix.
	if got := NormalizeSubject("Question re: your invoice"); got != "question re: your invoice" {
		t.Errorf("got %q", got)
	}
}

func TestCleanMessageID(t *testing.T) {
	cases := map[string]string{
		"<abc@mail.example.com>":   "abc@mail.example.com",
		"  <abc@mail.example.com>": "abc@mail.example.com",
		"abc@mail.example.com":     "abc@mail.example.com",
		"":                         "",
		"<>":                       "",
	}
	for in, want := range cases {
		if got := CleanMessageID(in); got != want {
			t.Errorf("CleanMessageID(%q) = %q, want %q", in, got, want)
		}
	}
}
