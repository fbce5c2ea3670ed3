package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/threadline/threadline/internal/mail"
	"github.com/threadline/threadline/internal/models"
	"github.com/threadline/threadline/internal/store"
)

const maxSyncBatch = 100

// SyncRequest represents a provider sync batch.
type SyncRequest struct {
	Emails []models.InboundEmail `json:"emails"`
}

// SyncResponse represents the outcome of a sync batch.
type SyncResponse struct {
	Processed int                 `json:"processed"`
	Results   []mail.IngestResult `json:"results"`
}

// SyncEmails ingests a batch of provider payloads and reports the
// threading decision for each.
func (h *Handler) SyncEmails(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Emails) == 0 {
		h.Error(w, http.StatusBadRequest, "emails is required")
		return
	}
	if len(req.Emails) > maxSyncBatch {
		h.Error(w, http.StatusUnprocessableEntity, "too many emails in one batch (max 100)")
		return
	}

	results, err := h.service.IngestBatch(r.Context(), req.Emails)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to ingest batch")
		return
	}

	h.JSON(w, http.StatusOK, SyncResponse{
		Processed: len(results),
		Results:   results,
	})
}

// SendEmail composes and delivers an outbound message.
func (h *Handler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req mail.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.To) == 0 {
		h.Error(w, http.StatusBadRequest, "to is required")
		return
	}
	for _, addr := range req.To {
		if !isValidEmail(addr) {
			h.Error(w, http.StatusBadRequest, "invalid recipient address")
			return
		}
	}
	if req.Subject == "" {
		h.Error(w, http.StatusBadRequest, "subject is required")
		return
	}
	if req.ThreadID != "" {
		if _, err := uuid.Parse(req.ThreadID); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid thread ID format")
			return
		}
	}

	result, err := h.service.Send(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, mail.ErrThreadNotFound):
			h.Error(w, http.StatusNotFound, "thread not found")
		case errors.Is(err, mail.ErrNoTransport):
			h.Error(w, http.StatusServiceUnavailable, "outbound transport not configured")
		default:
			h.Error(w, http.StatusInternalServerError, "failed to send email")
		}
		return
	}

	h.JSON(w, http.StatusCreated, result)
}

// EmailListResponse represents a page of messages.
type EmailListResponse struct {
	Emails []models.Message `json:"emails"`
	Total  int64            `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

// ListEmails returns messages filtered by query parameters.
func (h *Handler) ListEmails(w http.ResponseWriter, r *http.Request) {
	filter := store.MessageFilter{
		Category:  r.URL.Query().Get("category"),
		Direction: r.URL.Query().Get("direction"),
		IsRead:    queryBool(r, "is_read"),
		IsFlagged: queryBool(r, "is_flagged"),
		Search:    r.URL.Query().Get("search"),
		Limit:     queryInt(r, "limit", 50, 200),
		Offset:    queryInt(r, "offset", 0, 0),
	}

	emails, total, err := h.db.ListMessages(r.Context(), filter)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list emails")
		return
	}
	if emails == nil {
		emails = []models.Message{}
	}

	h.JSON(w, http.StatusOK, EmailListResponse{
		Emails: emails,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetEmail returns one message by id.
func (h *Handler) GetEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid email ID format")
		return
	}

	msg, err := h.db.MessageByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if msg == nil {
		h.Error(w, http.StatusNotFound, "email not found")
		return
	}

	h.JSON(w, http.StatusOK, msg)
}

// UpdateEmailRequest represents a partial message update.
type UpdateEmailRequest struct {
	IsRead     *bool   `json:"is_read,omitempty"`
	IsFlagged  *bool   `json:"is_flagged,omitempty"`
	IsArchived *bool   `json:"is_archived,omitempty"`
	Importance *string `json:"importance,omitempty"`
}

// UpdateEmail applies read/flag/archive/importance changes to a message.
func (h *Handler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid email ID format")
		return
	}

	var req UpdateEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Importance != nil {
		switch *req.Importance {
		case "low", "normal", "high":
		default:
			h.Error(w, http.StatusBadRequest, "importance must be low, normal or high")
			return
		}
	}

	existing, err := h.db.MessageByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if existing == nil {
		h.Error(w, http.StatusNotFound, "email not found")
		return
	}

	msg, err := h.db.UpdateMessage(r.Context(), id, store.MessageUpdate{
		IsRead:     req.IsRead,
		IsFlagged:  req.IsFlagged,
		IsArchived: req.IsArchived,
		Importance: req.Importance,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update email")
		return
	}

	h.JSON(w, http.StatusOK, msg)
}

// Categories lists the known message categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string][]models.Category{"categories": models.Categories})
}
