package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestCategoriesEndpoint(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Categories(rec, httptest.NewRequest(http.MethodGet, "/emails/categories", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body["categories"]) != 6 {
		t.Fatalf("expected 6 categories, got %v", body["categories"])
	}
}

func TestThreadStatusesEndpoint(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	h.ThreadStatuses(rec, httptest.NewRequest(http.MethodGet, "/threads/statuses", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string][]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	want := []string{"awaiting_reply", "replied", "resolved", "archived"}
	got := body["statuses"]
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("statuses out of lifecycle order: %v", got)
		}
	}
}

// withURLParam builds a request carrying a chi route parameter.
func withURLParam(method, target, key, value string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetEmailRejectsBadID(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	h.GetEmail(rec, withURLParam(http.MethodGet, "/emails/not-a-uuid", "id", "not-a-uuid"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetThreadRejectsBadID(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	h.GetThread(rec, withURLParam(http.MethodGet, "/threads/xyz", "id", "xyz"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"a@b.co", "first.last+tag@example.com"}
	invalid := []string{"", "not-an-email", "@example.com", "a@b"}
	for _, e := range valid {
		if !isValidEmail(e) {
			t.Errorf("expected %q to be valid", e)
		}
	}
	for _, e := range invalid {
		if isValidEmail(e) {
			t.Errorf("expected %q to be invalid", e)
		}
	}
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/emails?limit=500&offset=abc", nil)
	if got := queryInt(r, "limit", 50, 200); got != 200 {
		t.Fatalf("limit = %d, want capped 200", got)
	}
	if got := queryInt(r, "offset", 0, 0); got != 0 {
		t.Fatalf("offset = %d, want default 0", got)
	}
	if got := queryInt(r, "missing", 50, 200); got != 50 {
		t.Fatalf("missing = %d, want default 50", got)
	}
}
