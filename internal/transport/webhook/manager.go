package webhook

import (
	"context"
	"log/slog"

	"github.com/noexlabs/rulesengine/pkg/bus"
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// Manager wires a Matcher, SuppressionEngine, RetryDispatcher, and a set
// of named Adapters to a bus subscription, adapted from the teacher's
// notify.Engine: where the teacher derives notifications from health
// state transitions on a dedicated StateSource channel, Manager is a
// plain bus.Bus subscriber (per SPEC_FULL.md §12.4, nothing here is
// special-cased inside pkg/engine) that matches every emitted event's
// topic against configured destinations directly.
type Manager struct {
	bus         *bus.Bus
	adapters    map[string]Adapter
	matcher     *Matcher
	suppression *SuppressionEngine
	dispatcher  *RetryDispatcher
	logger      *slog.Logger
	unsubscribe func()
}

// NewManager creates a Manager routing bus events to adapters via
// matcher's configured destinations.
func NewManager(adapters map[string]Adapter, matcher *Matcher, opts ...ManagerOption) *Manager {
	m := &Manager{
		adapters: adapters,
		matcher:  matcher,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.suppression == nil {
		m.suppression = NewSuppressionEngine()
	}
	if m.dispatcher == nil {
		m.dispatcher = NewRetryDispatcher(WithRetryLogger(m.logger))
	}
	return m
}

// WithSuppression sets the suppression engine.
func WithSuppression(s *SuppressionEngine) ManagerOption {
	return func(m *Manager) { m.suppression = s }
}

// WithRetryDispatcher sets the retry dispatcher.
func WithRetryDispatcher(d *RetryDispatcher) ManagerOption {
	return func(m *Manager) { m.dispatcher = d }
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// Subscribe attaches the manager to b, dispatching every matching event
// to its destinations until Stop is called. Subscribe is idempotent.
func (m *Manager) Subscribe(b *bus.Bus) {
	if m.unsubscribe != nil {
		return
	}
	m.bus = b
	m.unsubscribe = b.Subscribe("*", func(evt bus.Event) error {
		m.handleEvent(context.Background(), evt)
		return nil
	})
}

// Stop detaches the manager from the bus.
func (m *Manager) Stop() {
	if m.unsubscribe == nil {
		return
	}
	m.unsubscribe()
	m.unsubscribe = nil
}

func (m *Manager) handleEvent(ctx context.Context, evt bus.Event) {
	names := m.matcher.Match(evt.Topic)
	if len(names) == 0 {
		return
	}

	wireEvt := Event{
		ID:            evt.ID,
		Topic:         evt.Topic,
		Data:          evt.Data.Interface(),
		Timestamp:     evt.Timestamp,
		Source:        evt.Source,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
	}

	for _, dest := range m.matcher.Destinations() {
		if !containsName(names, dest.Name) {
			continue
		}
		decision := m.suppression.Evaluate(dest.Name, evt.Topic, dest)
		destEvt := wireEvt
		switch decision.Action {
		case Suppress:
			m.logger.Debug("webhook delivery suppressed", "destination", dest.Name, "topic", evt.Topic)
			continue
		case Escalate:
			destEvt.Escalated = true
		}

		adapter, ok := m.adapters[dest.Name]
		if !ok {
			m.logger.Warn("no adapter registered for destination", "destination", dest.Name)
			continue
		}
		m.dispatcher.Dispatch(ctx, adapter, destEvt)

		if destEvt.Escalated && dest.EscalationURL != "" {
			if escAdapter, ok := m.adapters[dest.Name+":escalation"]; ok {
				m.dispatcher.Dispatch(ctx, escAdapter, destEvt)
			}
		}
	}
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
