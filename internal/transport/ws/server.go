package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	wsconn "nhooyr.io/websocket"

	"github.com/noexlabs/rulesengine/pkg/engine"
)

// Accept upgrades an HTTP request to a WebSocket connection.
func Accept(w http.ResponseWriter, r *http.Request, acceptOpts *wsconn.AcceptOptions) (*wsconn.Conn, error) {
	return wsconn.Accept(w, r, acceptOpts)
}

// wireTraceEntry is the JSON shape streamed for each trace entry.
type wireTraceEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	RuleID      string    `json:"ruleId"`
	TriggerKind string    `json:"triggerKind"`
	TriggerKey  string    `json:"triggerKey"`
	DurationMs  float64   `json:"durationMs"`
	Error       string    `json:"error,omitempty"`
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server streams an engine.TraceCollector's entries to connected
// WebSocket clients by polling it at a fixed interval, adapted from the
// teacher's terminal-session WebSocket handler: TraceCollector has no
// push/subscribe API of its own (it is a bounded ring buffer meant for
// poll-on-demand inspection, per pkg/engine/trace.go), so streaming
// means diffing against the last-seen entry count on each tick rather
// than registering a callback.
type Server struct {
	collector    *engine.TraceCollector
	registry     *ConnectionRegistry
	pollInterval time.Duration
	logger       *slog.Logger
	connOpts     []Option
}

// NewServer creates a Server streaming collector's entries.
func NewServer(collector *engine.TraceCollector, opts ...ServerOption) *Server {
	s := &Server{
		collector:    collector,
		registry:     NewRegistry(nil),
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithPollInterval overrides the trace-collector poll interval.
func WithPollInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithServerLogger overrides the server's logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithConnOptions passes through options applied to every wrapped Conn.
func WithConnOptions(opts ...Option) ServerOption {
	return func(s *Server) { s.connOpts = opts }
}

// Registry exposes the server's connection registry, e.g. for graceful
// shutdown via CloseAll.
func (s *Server) Registry() *ConnectionRegistry { return s.registry }

// ServeHTTP upgrades the request to a WebSocket and streams trace
// entries to it until the client disconnects or the request context is
// cancelled.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()
	conn := WrapConn(ctx, raw, s.connOpts...)
	s.registry.Register(conn)
	defer s.registry.Unregister(conn)
	defer conn.ForceClose()

	lastSent := 0
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries := s.collector.Entries()
			if len(entries) <= lastSent {
				if len(entries) < lastSent {
					// collector wrapped past what we'd already sent
					lastSent = 0
				}
				continue
			}
			for _, entry := range entries[lastSent:] {
				if err := s.writeEntry(ctx, conn, entry); err != nil {
					s.logger.Debug("failed to write trace entry", "error", err)
					return
				}
			}
			lastSent = len(entries)
		}
	}
}

func (s *Server) writeEntry(ctx context.Context, conn *Conn, entry engine.TraceEntry) error {
	payload, err := json.Marshal(wireTraceEntry{
		Timestamp:   entry.Timestamp,
		RuleID:      entry.RuleID,
		TriggerKind: entry.TriggerKind,
		TriggerKey:  entry.TriggerKey,
		DurationMs:  entry.DurationMs,
		Error:       entry.Error,
	})
	if err != nil {
		return err
	}
	return conn.Inner().Write(ctx, wsconn.MessageText, payload)
}
