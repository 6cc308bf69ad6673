// Package notify forwards emergency alerts to an external facility or SMS
// gateway over HTTP.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/asha/records/internal/platform/events"
)

// Payload is the body POSTed to the webhook.
type Payload struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Webhook posts events to a single URL. It implements events.Publisher.
type Webhook struct {
	client *resty.Client
	url    string
}

// Option tunes a Webhook.
type Option func(*resty.Client)

// WithRetry sets retry count and wait.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(4 * wait)
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(d) }
}

// WithHeader adds a header to every call, e.g. a gateway API key.
func WithHeader(k, v string) Option {
	return func(c *resty.Client) { c.SetHeader(k, v) }
}

func NewWebhook(url string, opts ...Option) *Webhook {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "asha-records-notifier").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	for _, o := range opts {
		o(client)
	}
	return &Webhook{client: client, url: url}
}

func (w *Webhook) Publish(ctx context.Context, msg events.Message) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Event-Type", msg.Type).
		SetBody(Payload{Event: msg.Type, Data: msg.Data, Timestamp: msg.Timestamp}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", msg.Type, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s: unexpected status %d", msg.Type, resp.StatusCode())
	}
	return nil
}
