package handlers

import (
	"net/http"
	"time"

	"github.com/threadline/threadline/internal/models"
)

// ThreadStats represents stats for a single thread.
type ThreadStats struct {
	ID           string          `json:"id"`
	Subject      string          `json:"subject"`
	Category     models.Category `json:"category"`
	MessageCount int64           `json:"message_count"`
}

// StatsResponse represents the response from the stats endpoint.
type StatsResponse struct {
	TotalThreads   int64         `json:"total_threads"`
	TotalEmails    int64         `json:"total_emails"`
	UnreadEmails   int64         `json:"unread_emails"`
	LastActivity   string        `json:"last_activity"`
	BusiestThreads []ThreadStats `json:"busiest_threads"`
}

// Stats returns mailbox statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	totalThreads, err := h.db.CountThreads(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count threads")
		return
	}

	totalEmails, err := h.db.CountMessages(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count emails")
		return
	}

	unread, err := h.db.CountUnread(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to count unread emails")
		return
	}

	lastActivityTime, err := h.db.LatestActivity(ctx)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get last activity")
		return
	}

	lastActivity := "no activity yet"
	if lastActivityTime != nil {
		lastActivity = formatTimeAgo(*lastActivityTime)
	}

	busiest, err := h.db.BusiestThreads(ctx, 5)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to get busiest threads")
		return
	}

	threadStats := make([]ThreadStats, 0, len(busiest))
	for _, t := range busiest {
		threadStats = append(threadStats, ThreadStats{
			ID:           t.ID,
			Subject:      t.Subject,
			Category:     t.Category,
			MessageCount: t.MessageCount,
		})
	}

	h.JSON(w, http.StatusOK, StatsResponse{
		TotalThreads:   totalThreads,
		TotalEmails:    totalEmails,
		UnreadEmails:   unread,
		LastActivity:   lastActivity,
		BusiestThreads: threadStats,
	})
}

// formatTimeAgo formats a time as a human-readable "X ago" string.
func formatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return formatInt(mins) + " minutes ago"
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return formatInt(hours) + " hours ago"
	default:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return formatInt(days) + " days ago"
	}
}

// formatInt converts an int to string without importing strconv.
func formatInt(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
