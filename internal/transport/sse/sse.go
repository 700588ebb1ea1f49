// Package sse broadcasts engine bus events over Server-Sent Events,
// adapted from the teacher's internal/sse.Broker: the same client
// registry, non-blocking-select broadcast, and keepalive-ticker shape,
// generalized from a fixed state.Event taxonomy to any bus.Event whose
// topic matches a configured pattern.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
)

const defaultKeepaliveInterval = 15 * time.Second

// clientEvent is a pre-formatted SSE message ready to write.
type clientEvent struct {
	data []byte
}

// Broker subscribes to a bus.Bus pattern and streams matching events to
// every connected SSE client.
type Broker struct {
	bus               *bus.Bus
	pattern           string
	logger            *slog.Logger
	keepaliveInterval time.Duration
	mu                sync.Mutex
	clients           map[chan clientEvent]struct{}
	unsubscribe       func()
}

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithKeepalive overrides the keepalive comment interval.
func WithKeepalive(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.keepaliveInterval = d
		}
	}
}

// WithLogger overrides the broker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// NewBroker creates a Broker that streams every event on busInstance
// matching pattern (e.g. "rule.*", "*" for everything). Call Start to
// begin subscribing and Stop to tear the subscription down.
func NewBroker(busInstance *bus.Bus, pattern string, opts ...Option) *Broker {
	b := &Broker{
		bus:               busInstance,
		pattern:           pattern,
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		keepaliveInterval: defaultKeepaliveInterval,
		clients:           make(map[chan clientEvent]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes the broker to the bus. It is idempotent: a second
// call before Stop is a no-op.
func (b *Broker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unsubscribe != nil {
		return
	}
	b.unsubscribe = b.bus.Subscribe(b.pattern, func(evt bus.Event) error {
		data, err := formatEvent(evt)
		if err != nil {
			b.logger.Debug("failed to format SSE event", "error", err)
			return nil
		}
		b.broadcast(clientEvent{data: data})
		return nil
	})
}

// Stop unsubscribes from the bus and disconnects every client.
func (b *Broker) Stop() {
	b.mu.Lock()
	unsub := b.unsubscribe
	b.unsubscribe = nil
	for ch := range b.clients {
		close(ch)
		delete(b.clients, ch)
	}
	b.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (b *Broker) broadcast(evt clientEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- evt:
		default:
			// client too slow, drop this event rather than block the bus
		}
	}
}

func (b *Broker) addClient(ch chan clientEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[ch] = struct{}{}
	b.logger.Info("sse client connected", "clients", len(b.clients))
}

func (b *Broker) removeClient(ch chan clientEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, ch)
	b.logger.Info("sse client disconnected", "clients", len(b.clients))
}

// ServeHTTP streams matching bus events to the connecting client.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCh := make(chan clientEvent, 64)
	b.addClient(clientCh)
	defer b.removeClient(clientCh)

	keepalive := time.NewTicker(b.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-clientCh:
			if !ok {
				return
			}
			if err := writeAndFlush(w, flusher, evt.data); err != nil {
				b.logger.Debug("failed to write sse event", "error", err)
				return
			}
			keepalive.Reset(b.keepaliveInterval)
		case <-keepalive.C:
			if err := writeAndFlush(w, flusher, formatKeepalive()); err != nil {
				b.logger.Debug("failed to write keepalive", "error", err)
				return
			}
		}
	}
}

func writeAndFlush(w http.ResponseWriter, flusher http.Flusher, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// wirePayload is the JSON shape streamed for every matching bus event.
type wirePayload struct {
	ID            string `json:"id"`
	Topic         string `json:"topic"`
	Data          any    `json:"data"`
	Timestamp     string `json:"timestamp"`
	Source        string `json:"source,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	CausationID   string `json:"causationId,omitempty"`
}

func formatEvent(evt bus.Event) ([]byte, error) {
	payload := wirePayload{
		ID:            evt.ID,
		Topic:         evt.Topic,
		Data:          evt.Data.Interface(),
		Timestamp:     evt.Timestamp.UTC().Format(time.RFC3339Nano),
		Source:        evt.Source,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sse event data: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", evt.Topic, jsonData)
	return buf.Bytes(), nil
}

func formatKeepalive() []byte {
	return []byte(":keepalive\n\n")
}
