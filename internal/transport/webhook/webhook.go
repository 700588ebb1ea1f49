// Package webhook delivers bus events to externally configured HTTP
// endpoints, adapted from the teacher's internal/notify: the same
// glob-matched routing, per-destination suppression/escalation state
// machine, and exponential-backoff retry dispatcher with a bounded
// concurrency semaphore — generalized from "notify a human about a
// service health transition" to "POST an emitted event to a configured
// destination."
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Destination is one configured webhook target.
type Destination struct {
	Name                string
	URL                 string
	Topics              []string // dotted glob patterns matched against bus.Event.Topic
	SuppressionInterval time.Duration
	EscalateAfter       time.Duration
	EscalationURL       string // optional; escalated deliveries additionally POST here
}

// Event is the JSON body POSTed to a destination.
type Event struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
	Escalated     bool      `json:"escalated,omitempty"`
}

// Adapter delivers an Event to an external system.
type Adapter interface {
	Name() string
	Send(ctx context.Context, evt Event) error
}

// HTTPOption configures an HTTPAdapter.
type HTTPOption func(*HTTPAdapter)

// HTTPAdapter delivers events via HTTP POST to a webhook URL.
type HTTPAdapter struct {
	name   string
	url    string
	client *http.Client
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates an HTTPAdapter posting to url under name.
func NewHTTPAdapter(name, url string, opts ...HTTPOption) *HTTPAdapter {
	a := &HTTPAdapter{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithHTTPClient overrides the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(a *HTTPAdapter) { a.client = c }
}

// Name returns the adapter's destination name.
func (a *HTTPAdapter) Name() string { return a.name }

// Send POSTs evt as JSON to the adapter's URL.
func (a *HTTPAdapter) Send(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("webhook %s: marshal: %w", a.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook %s: create request: %w", a.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook %s: send: %w", a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: non-2xx response: %d", a.name, resp.StatusCode)
	}
	return nil
}
