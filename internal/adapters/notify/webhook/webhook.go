// Package webhook delivers report-ready notifications to an outbound
// webhook endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumiscan/lumiscan-api/internal/core"
)

// Config captures the subset of webhook behaviour we need.
type Config struct {
	URL        string
	Source     string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client posts notification messages to a webhook endpoint.
type Client struct {
	url        string
	source     string
	retryLimit int
	client     *http.Client
}

var _ core.NotificationDispatcher = (*Client)(nil)

// NewClient builds a webhook notification client. Callers should pass a
// validated config.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("webhook url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retries := cfg.RetryLimit
	if retries < 0 {
		retries = 0
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		url:        endpoint,
		source:     fallbackString(strings.TrimSpace(cfg.Source), "lumiscan"),
		retryLimit: retries,
		client:     hc,
	}, nil
}

type message struct {
	DeliveryID  string `json:"deliveryId"`
	Destination string `json:"destination"`
	Text        string `json:"text"`
	Source      string `json:"source"`
	SentAt      string `json:"sentAt"`
}

// Send posts one message to the webhook and returns the delivery id.
func (c *Client) Send(ctx context.Context, destination, text string) (string, error) {
	deliveryID := uuid.NewString()
	body, err := json.Marshal(message{
		DeliveryID:  deliveryID,
		Destination: destination,
		Text:        text,
		Source:      c.source,
		SentAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("encode webhook payload: %w", err)
	}

	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err = c.post(ctx, body)
		if err == nil {
			return deliveryID, nil
		}
		lastErr = err
		if attempt < attempts-1 {
			// Simple linear backoff to avoid thundering retries.
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return "", ctx.Err()
			case <-timer.C:
			}
		}
	}

	return "", lastErr
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	return nil
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
