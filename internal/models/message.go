package models

import "time"

// Direction of a message relative to the mailbox owner.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageStatus tracks delivery state of a single message.
type MessageStatus string

const (
	MessageReceived MessageStatus = "received"
	MessageSent     MessageStatus = "sent"
	MessageDraft    MessageStatus = "draft"
	MessageFailed   MessageStatus = "failed"
)

// Message is one email, incoming or outgoing, persisted once it has
// been assigned to a thread.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`

	// Provider and RFC 5322 identifiers. Each is unique when present;
	// the store maps empty strings to NULL.
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	InternetMessageID string `json:"internet_message_id,omitempty"`
	InReplyToID       string `json:"in_reply_to_id,omitempty"`
	References        string `json:"references,omitempty"` // space-separated message ids
	ConversationID    string `json:"conversation_id,omitempty"`
	ConversationIndex string `json:"conversation_index,omitempty"`
	TrackingID        string `json:"tracking_id,omitempty"`

	Subject     string `json:"subject"`
	BodyText    string `json:"body,omitempty"`
	BodyHTML    string `json:"body_html,omitempty"`
	BodyPreview string `json:"body_preview,omitempty"`

	FromAddress   string   `json:"from_address"`
	FromName      string   `json:"from_name,omitempty"`
	ToRecipients  []string `json:"to_recipients"`
	CcRecipients  []string `json:"cc_recipients,omitempty"`
	BccRecipients []string `json:"bcc_recipients,omitempty"`

	Category  Category      `json:"category"`
	Direction Direction     `json:"direction"`
	Status    MessageStatus `json:"status"`

	IsRead     bool   `json:"is_read"`
	IsFlagged  bool   `json:"is_flagged"`
	IsArchived bool   `json:"is_archived"`
	Importance string `json:"importance,omitempty"`

	HasAttachments  bool `json:"has_attachments"`
	AttachmentCount int  `json:"attachment_count"`

	ReceivedAt time.Time `json:"received_at"`
	SentAt     time.Time `json:"sent_at"`
	CreatedAt  time.Time `json:"created_at"`
}
