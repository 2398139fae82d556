package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/routinesense/store"
)

// webhookTimeout is the timeout for one webhook request.
var webhookTimeout = 30 * time.Second

// WebhookPayload is the JSON body posted for a notification.
type WebhookPayload struct {
	UserID    int32          `json:"userId"`
	Kind      string         `json:"kind"`
	Priority  string         `json:"priority"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload"`
	CreatedTs int64          `json:"createdTs"`
}

// WebhookSink posts notifications as JSON to a URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Emit posts the notification. A non-2xx status, or a JSON body carrying a
// non-zero "code", is an error.
func (s *WebhookSink) Emit(ctx context.Context, n *store.Notification) error {
	body, err := json.Marshal(&WebhookPayload{
		UserID:    n.UserID,
		Kind:      string(n.Kind),
		Priority:  string(n.Priority),
		Title:     n.Title,
		Body:      n.Body,
		Payload:   n.Payload,
		CreatedTs: n.CreatedTs,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal webhook request to %s", s.url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrapf(err, "failed to construct webhook request to %s", s.url)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to post webhook to %s", s.url)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "failed to read webhook response from %s", s.url)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("failed to post webhook %s, status code: %d, response body: %s", s.url, resp.StatusCode, b)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	response := &struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}{}
	if err := json.Unmarshal(b, response); err != nil {
		// Non-JSON 2xx bodies are accepted.
		return nil
	}
	if response.Code != 0 {
		return errors.Errorf("receive error code sent by webhook server, code %d, msg: %s", response.Code, response.Message)
	}
	return nil
}
