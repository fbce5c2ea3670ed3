package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/threadline/threadline/internal/models"
	"github.com/threadline/threadline/internal/store"
)

// ThreadListResponse represents a page of threads.
type ThreadListResponse struct {
	Threads []models.Thread `json:"threads"`
	Total   int64           `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListThreads returns threads filtered by query parameters, most
// recently active first.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" && !models.ValidStatus(status) {
		h.Error(w, http.StatusBadRequest, "unknown thread status")
		return
	}

	filter := store.ThreadFilter{
		Category:        r.URL.Query().Get("category"),
		Status:          status,
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
		Limit:           queryInt(r, "limit", 50, 200),
		Offset:          queryInt(r, "offset", 0, 0),
	}

	threads, total, err := h.db.ListThreads(r.Context(), filter)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	if threads == nil {
		threads = []models.Thread{}
	}

	h.JSON(w, http.StatusOK, ThreadListResponse{
		Threads: threads,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// ThreadDetailResponse is a thread with its messages, newest first.
type ThreadDetailResponse struct {
	Thread   models.Thread    `json:"thread"`
	Messages []models.Message `json:"messages"`
}

// GetThread returns one thread with its full message history.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.loadThread(w, r)
	if !ok {
		return
	}

	messages, err := h.db.MessagesByThread(r.Context(), thread.ID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	h.JSON(w, http.StatusOK, ThreadDetailResponse{
		Thread:   *thread,
		Messages: messages,
	})
}

// UpdateThreadRequest represents a partial thread update.
type UpdateThreadRequest struct {
	IsFlagged *bool `json:"is_flagged,omitempty"`
}

// UpdateThread applies flag changes to a thread. Status transitions go
// through the dedicated lifecycle endpoints.
func (h *Handler) UpdateThread(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.loadThread(w, r)
	if !ok {
		return
	}

	var req UpdateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := h.db.UpdateThread(r.Context(), thread.ID, store.ThreadUpdate{
		IsFlagged: req.IsFlagged,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update thread")
		return
	}

	h.JSON(w, http.StatusOK, updated)
}

// ResolveThread marks a thread resolved. Later messages still land in
// it, but its status stays resolved until it is explicitly reopened.
func (h *Handler) ResolveThread(w http.ResponseWriter, r *http.Request) {
	h.setThreadStatus(w, r, models.StatusResolved)
}

// ReopenThread moves a resolved or archived thread back to replied.
func (h *Handler) ReopenThread(w http.ResponseWriter, r *http.Request) {
	h.setThreadStatus(w, r, models.StatusReplied)
}

// ArchiveThread hides a thread from default listings.
func (h *Handler) ArchiveThread(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

// UnarchiveThread restores an archived thread to default listings.
func (h *Handler) UnarchiveThread(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

// ThreadStatuses lists the thread lifecycle states.
func (h *Handler) ThreadStatuses(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string][]models.ThreadStatus{"statuses": models.ThreadStatuses})
}

// loadThread validates the id parameter and fetches the thread,
// writing the error response itself on failure.
func (h *Handler) loadThread(w http.ResponseWriter, r *http.Request) (*models.Thread, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid thread ID format")
		return nil, false
	}

	thread, err := h.db.ThreadByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if thread == nil {
		h.Error(w, http.StatusNotFound, "thread not found")
		return nil, false
	}
	return thread, true
}

func (h *Handler) setThreadStatus(w http.ResponseWriter, r *http.Request, status models.ThreadStatus) {
	thread, ok := h.loadThread(w, r)
	if !ok {
		return
	}

	s := string(status)
	updated, err := h.db.UpdateThread(r.Context(), thread.ID, store.ThreadUpdate{Status: &s})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update thread")
		return
	}

	h.JSON(w, http.StatusOK, updated)
}

// setArchived flips the archive flag and moves the lifecycle status
// with it: archived threads carry status archived, unarchived ones go
// back to replied.
func (h *Handler) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	thread, ok := h.loadThread(w, r)
	if !ok {
		return
	}

	status := string(models.StatusReplied)
	if archived {
		status = string(models.StatusArchived)
	}
	updated, err := h.db.UpdateThread(r.Context(), thread.ID, store.ThreadUpdate{
		Status:     &status,
		IsArchived: &archived,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to update thread")
		return
	}

	h.JSON(w, http.StatusOK, updated)
}
