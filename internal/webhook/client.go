// Package webhook delivers notification events to an external HTTP
// endpoint (mail or push gateway).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"campusattend/internal/notify"
)

// EventHeader carries the event id so the receiver can drop duplicates.
const EventHeader = "X-Event-ID"

// Client posts events to BaseURL/notifications.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

var _ notify.Deliverer = (*Client)(nil)

// New creates a client with the given request timeout. An empty baseURL
// yields a client that accepts every event without sending it.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Skip:    baseURL == "",
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Deliver sends evt as JSON. Any non-2xx response is an error.
func (c *Client) Deliver(ctx context.Context, evt notify.Event) error {
	if c.Skip {
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/notifications", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, evt.ID)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery rejected: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Health checks if the delivery endpoint is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("delivery service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("delivery service unhealthy: %s", resp.Status)
	}
	return nil
}
