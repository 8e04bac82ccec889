package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Kinds of envelopes the device gateway understands.
const (
	KindReminder = "reminder"
	KindLaunch   = "launch"
)

const defaultTimeout = 10 * time.Second

// ErrRejected is returned when the gateway answers with a non-2xx status.
var ErrRejected = errors.New("gateway rejected envelope")

// WebhookClient talks to the device gateway that relays reminders and launch
// intents to the user's phone.
type WebhookClient struct {
	url    string
	token  string
	client *http.Client
}

type Option func(*WebhookClient)

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *WebhookClient) { c.token = token }
}

func WithTimeout(d time.Duration) Option {
	return func(c *WebhookClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func NewWebhookClient(url string, opts ...Option) *WebhookClient {
	c := &WebhookClient{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Envelope struct {
	Kind        string `json:"kind"`
	ItemID      string `json:"itemId,omitempty"`
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	URL         string `json:"url,omitempty"`
}

type deliverReceipt struct {
	Status     string `json:"message"`
	DeliveryID string `json:"messageId"`
}

// Deliver posts env to the gateway and returns the gateway's delivery id.
func (c *WebhookClient) Deliver(ctx context.Context, env Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode %s envelope: %w", env.Kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deliver %s envelope: %w", env.Kind, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d body=%q", ErrRejected, resp.StatusCode, string(raw))
	}

	var receipt deliverReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return "", fmt.Errorf("decode gateway receipt: %w body=%q", err, string(raw))
	}
	if receipt.DeliveryID == "" {
		return "", fmt.Errorf("gateway receipt without messageId body=%q", string(raw))
	}

	return receipt.DeliveryID, nil
}
