// Package notify sends best-effort push notifications via ntfy. It is not
// named by spec.md; it exists because original_source's webhook-driven
// Sonarr/Radarr integrations commonly page an ntfy/Pushover topic on
// completion. Unlike the teacher's ntfy client it never decides what to
// say or when to say it: internal/worker owns that, building the
// title/message from a terminal job or batch transition and calling Send
// directly, so this package is reduced to transport: build the HTTP
// request and retry it the same way internal/prober retries a flaky
// ffprobe call, using the same cenkalti/backoff/v4 policy.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultServerURL = "https://ntfy.sh"

// Client posts notifications to an ntfy topic. A Client with an empty Topic
// is inert: IsConfigured reports false and Send returns an error immediately.
type Client struct {
	ServerURL  string
	Topic      string
	Token      string
	MaxRetries uint64

	httpClient *http.Client
}

// NewClient builds a notify client. serverURL defaults to ntfy.sh when empty.
func NewClient(serverURL, topic, token string) *Client {
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	return &Client{
		ServerURL:  serverURL,
		Topic:      topic,
		Token:      token,
		MaxRetries: 2,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured reports whether a topic has been set.
func (c *Client) IsConfigured() bool {
	return c != nil && c.Topic != "" && c.ServerURL != ""
}

// permanentError marks a post failure that retrying cannot fix (a bad
// topic/token produces the same 4xx every time).
type permanentError struct{ cause error }

func (e *permanentError) Error() string { return e.cause.Error() }

// Send posts a notification, retrying transient transport/5xx failures with
// the same exponential-backoff policy internal/prober uses around ffprobe.
// A 4xx response is treated as permanent and is not retried.
func (c *Client) Send(ctx context.Context, title, message string) error {
	if !c.IsConfigured() {
		return fmt.Errorf("notify: ntfy credentials not configured")
	}

	operation := func() error {
		err := c.post(ctx, title, message)
		if perr, ok := err.(*permanentError); ok {
			return backoff.Permanent(perr.cause)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 1 * time.Second
	bo.MaxElapsedTime = 0

	return backoff.Retry(operation, backoff.WithMaxRetries(bo, c.MaxRetries))
}

func (c *Client) post(ctx context.Context, title, message string) error {
	url := strings.TrimRight(c.ServerURL, "/") + "/" + strings.TrimLeft(c.Topic, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(message))
	if err != nil {
		return &permanentError{fmt.Errorf("notify: build request: %w", err)}
	}

	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &permanentError{fmt.Errorf("notify: ntfy rejected request with status %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: ntfy returned status %d", resp.StatusCode)
	}

	return nil
}
