package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/noexlabs/rulesengine/pkg/value"
)

// HTTPProber abstracts *http.Client for testability, grounded on the
// teacher's internal/health.Checker HTTPProber interface.
type HTTPProber interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPOption configures an HTTPService.
type HTTPOption func(*HTTPService)

// HTTPService proxies service calls to a remote HTTP endpoint. Each
// Call POSTs {"method": method, "args": args} to baseURL and decodes
// the JSON response body as the resulting Value.
type HTTPService struct {
	baseURL string
	client  HTTPProber
	timeout time.Duration
}

var _ Adapter = (*HTTPService)(nil)

// NewHTTPService creates an HTTPService posting to baseURL.
func NewHTTPService(baseURL string, opts ...HTTPOption) *HTTPService {
	s := &HTTPService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithHTTPClient overrides the HTTP client (or fake) used for delivery.
func WithHTTPClient(c HTTPProber) HTTPOption {
	return func(s *HTTPService) { s.client = c }
}

// WithTimeout overrides the per-call context timeout applied when the
// caller's context carries no deadline.
func WithTimeout(d time.Duration) HTTPOption {
	return func(s *HTTPService) { s.timeout = d }
}

type callRequest struct {
	Method string `json:"method"`
	Args   any    `json:"args"`
}

// Call POSTs method and args to the remote endpoint and decodes the
// response body as the resulting Value.
func (s *HTTPService) Call(ctx context.Context, method string, args value.Value) (value.Value, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	body, err := json.Marshal(callRequest{Method: method, Args: args.Interface()})
	if err != nil {
		return value.Null(), fmt.Errorf("services: marshal call to %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return value.Null(), fmt.Errorf("services: build request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return value.Null(), fmt.Errorf("services: call %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return value.Null(), fmt.Errorf("services: call %s: non-2xx response: %d", method, resp.StatusCode)
	}

	var decoded any
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return value.Null(), fmt.Errorf("services: decode response for %s: %w", method, err)
	}
	return value.FromAny(decoded), nil
}
