package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/pkg/topicmatch"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// Handler receives a delivered Event. A returned error is reported to the
// bus's error callback but never stops delivery to other subscribers.
type Handler func(evt Event) error

// ErrorFunc is invoked when a handler returns an error or panics.
type ErrorFunc func(evt Event, subscriptionID string, err error)

type subscription struct {
	id      string
	pattern string
	matcher *topicmatch.Matcher
	handler Handler
}

// Bus is the in-process event bus described in §4.3. Emit delivers to every
// matching subscriber, serially, in subscription order. An Emit invoked from
// within a handler does not recurse into dispatch: it is appended to the
// bus's internal FIFO queue and drained breadth-first by the outermost Emit
// call still in progress.
type Bus struct {
	mu          sync.Mutex
	subs        []*subscription
	queue       []Event
	dispatching bool
	nextSubID   uint64
	clock       func() time.Time
	onError     ErrorFunc
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithClock overrides the bus's source of Event.Timestamp, for deterministic
// tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.clock = now }
}

// WithErrorHandler registers the callback invoked when a handler fails.
func WithErrorHandler(fn ErrorFunc) Option {
	return func(b *Bus) { b.onError = fn }
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{clock: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for every topic matching pattern (§4.1 glob
// rules over '.'-delimited topics). The returned func removes the
// subscription.
func (b *Bus) Subscribe(pattern string, handler Handler) func() {
	b.mu.Lock()
	b.nextSubID++
	sub := &subscription{
		id:      fmt.Sprintf("sub-%d", b.nextSubID),
		pattern: pattern,
		matcher: topicmatch.Get(pattern, '.'),
		handler: handler,
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit publishes an event built from topic, data and meta, and returns it.
func (b *Bus) Emit(topic string, data value.Value, meta Meta) Event {
	evt := Event{
		ID:             newEventID(),
		Topic:          topic,
		Data:           data,
		Timestamp:      b.clock(),
		Source:         meta.Source,
		CorrelationID:  meta.CorrelationID,
		CausationID:    meta.CausationID,
		CausationDepth: meta.CausationDepth,
	}
	b.publish(evt)
	return evt
}

// EmitCorrelated is a convenience wrapper for the common case of a fresh
// correlation chain rooted at a causing event.
func (b *Bus) EmitCorrelated(topic string, data value.Value, source, correlationID, causationID string) Event {
	return b.Emit(topic, data, Meta{Source: source, CorrelationID: correlationID, CausationID: causationID})
}

// publish appends evt to the queue and, if no Emit call is already draining
// the queue, drains it: pop the front event, snapshot its matching
// subscribers, invoke them in order. Any Emit performed by a handler during
// that invocation only appends to the queue — it never starts its own drain
// loop — so nested emissions are processed breadth-first once the current
// event's handlers have all run.
func (b *Bus) publish(evt Event) {
	b.mu.Lock()
	b.queue = append(b.queue, evt)
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.dispatching = false
			b.mu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		subs := b.matchingSubs(next.Topic)
		b.mu.Unlock()

		for _, sub := range subs {
			b.invoke(sub, next)
		}
	}
}

// matchingSubs must be called with b.mu held. It returns a snapshot so the
// handler loop can run outside the lock.
func (b *Bus) matchingSubs(topic string) []*subscription {
	var out []*subscription
	for _, s := range b.subs {
		if s.matcher.Match(topic) {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) invoke(sub *subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil && b.onError != nil {
			b.onError(evt, sub.id, fmt.Errorf("handler panic: %v", r))
		}
	}()
	if err := sub.handler(evt); err != nil && b.onError != nil {
		b.onError(evt, sub.id, err)
	}
}
