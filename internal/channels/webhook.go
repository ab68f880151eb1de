package channels

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// WebhookChannel posts the notification as JSON to the recipient URL.
type WebhookChannel struct {
	client *resty.Client
}

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	SentAt  string `json:"sent_at"`
}

func NewWebhookChannel(timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "pulsewatch/1.0")
	return &WebhookChannel{client: client}
}

func (c *WebhookChannel) Type() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("webhook channel is not initialized")
	}

	endpoint := strings.TrimSpace(msg.Recipient)
	parsed, err := url.ParseRequestURI(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Permanent(fmt.Errorf("recipient %q is not a valid webhook URL", msg.Recipient))
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{
			Subject: msg.Subject,
			Body:    msg.Body,
			SentAt:  time.Now().UTC().Format(time.RFC3339),
		}).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500 && status != 408 && status != 429:
		return Permanent(fmt.Errorf("webhook rejected with status %d", status))
	default:
		return fmt.Errorf("webhook returned status %d", status)
	}
}
