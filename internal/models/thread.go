package models

import "time"

// ThreadStatus tracks where a conversation stands from the mailbox
// owner's point of view.
type ThreadStatus string

const (
	StatusAwaitingReply ThreadStatus = "awaiting_reply"
	StatusReplied       ThreadStatus = "replied"
	StatusResolved      ThreadStatus = "resolved"
	StatusArchived      ThreadStatus = "archived"
)

// ThreadStatuses lists all valid statuses, in lifecycle order.
var ThreadStatuses = []ThreadStatus{
	StatusAwaitingReply,
	StatusReplied,
	StatusResolved,
	StatusArchived,
}

// ValidStatus reports whether s is a known thread status.
func ValidStatus(s string) bool {
	for _, st := range ThreadStatuses {
		if string(st) == s {
			return true
		}
	}
	return false
}

// Thread is a conversation aggregate grouping messages believed to be
// the same email exchange.
type Thread struct {
	ID             string       `json:"id"`
	Subject        string       `json:"subject"`
	Category       Category     `json:"category"`
	ConversationID string       `json:"conversation_id,omitempty"` // provider-assigned, immutable once set
	TrackingID     string       `json:"tracking_id,omitempty"`     // ours, embedded in outbound headers
	FirstMessageID string       `json:"first_message_id,omitempty"`
	LastMessageID  string       `json:"last_message_id,omitempty"`
	MessageCount   int64        `json:"message_count"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	Status         ThreadStatus `json:"status"`
	IsArchived     bool         `json:"is_archived"`
	IsFlagged      bool         `json:"is_flagged"`
	CreatedAt      time.Time    `json:"created_at"`
}
