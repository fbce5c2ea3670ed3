package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPTransport delivers outbound mail by POSTing it to the provider
// bridge, which owns the actual SMTP or Graph session.
type HTTPTransport struct {
	url    string
	client *http.Client
}

// NewHTTPTransport creates a transport targeting the bridge URL.
func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts the email to the bridge and returns the provider message
// id the bridge reports.
func (t *HTTPTransport) Send(ctx context.Context, out *OutboundEmail) (string, error) {
	body, err := json.Marshal(out)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mail: bridge returned status %d", resp.StatusCode)
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		// A bridge that delivers but returns no id is still a success.
		return "", nil
	}
	return parsed.MessageID, nil
}
