package models

// EmailAddress is a name/address pair as delivered by the mail provider.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// Recipient wraps an address the way provider payloads nest it.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// Header is a single internet message header from the provider payload.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Body carries message content with its MIME flavor.
type Body struct {
	ContentType string `json:"contentType"` // "Text" or "HTML"
	Content     string `json:"content"`
}

// InboundEmail is the raw provider payload handed to the sync pipeline.
// Field names follow the provider's camelCase JSON.
type InboundEmail struct {
	ID                     string      `json:"id"` // provider message id
	Subject                string      `json:"subject"`
	BodyPreview            string      `json:"bodyPreview"`
	Body                   Body        `json:"body"`
	From                   *Recipient  `json:"from"`
	ToRecipients           []Recipient `json:"toRecipients"`
	CcRecipients           []Recipient `json:"ccRecipients"`
	BccRecipients          []Recipient `json:"bccRecipients"`
	InternetMessageHeaders []Header    `json:"internetMessageHeaders"`
	ConversationID         string      `json:"conversationId"`
	ConversationIndex      string      `json:"conversationIndex"`
	ReceivedDateTime       string      `json:"receivedDateTime"`
	SentDateTime           string      `json:"sentDateTime"`
	IsRead                 bool        `json:"isRead"`
	HasAttachments         bool        `json:"hasAttachments"`
	Importance             string      `json:"importance"`
}
