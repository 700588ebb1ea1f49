package ruleset

import (
	"context"
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/pkg/value"
)

// Incoming is one trigger offered to the dispatcher: the kind/key pair
// matched against the index, plus the evaluation context and fire metadata
// the engine built for it.
type Incoming struct {
	Kind    TriggerKind
	Key     string
	Context value.Context
	Source  string // provenance for FireMeta.Source on any actions this fire performs
}

// FireFunc runs one candidate rule against one Incoming trigger (lookups,
// conditions, actions — C5/C6/C7), returning an error if the fire failed.
type FireFunc func(ctx context.Context, rule *Rule, in Incoming) error

// StatsRecorder observes the outcome of every attempted fire, independent
// of whatever aggregate counters the engine orchestrator keeps.
type StatsRecorder interface {
	RecordFire(ruleID string, duration time.Duration, err error)
}

// ErrorFunc is invoked when a rule fire returns an error. Firing continues
// with the next candidate regardless.
type ErrorFunc func(rule *Rule, in Incoming, err error)

// Dispatcher processes Incoming triggers from a single FIFO queue (§4.8):
// a trigger's full candidate list fires to completion before the next
// queued trigger is considered, and any Dispatch call made from within a
// fire (a re-entrant emission) is appended to the tail instead of
// recursing — mirroring bus.Bus's breadth-first nested-emit handling.
type Dispatcher struct {
	mu         sync.Mutex
	index      *Index
	queue      []Incoming
	processing bool
	fire       FireFunc
	onError    ErrorFunc
	stats      StatsRecorder
	clock      func() time.Time
}

// DispatcherOption configures a Dispatcher at construction time.
type DispatcherOption func(*Dispatcher)

func WithOnError(fn ErrorFunc) DispatcherOption {
	return func(d *Dispatcher) { d.onError = fn }
}

func WithStatsRecorder(s StatsRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.stats = s }
}

func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.clock = now }
}

// NewDispatcher builds a Dispatcher over index, firing candidates through
// fire.
func NewDispatcher(index *Index, fire FireFunc, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{index: index, fire: fire, clock: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch enqueues in and, if no Dispatch call is already draining the
// queue, drains it to completion.
func (d *Dispatcher) Dispatch(ctx context.Context, in Incoming) {
	d.mu.Lock()
	d.queue = append(d.queue, in)
	if d.processing {
		d.mu.Unlock()
		return
	}
	d.processing = true
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.processing = false
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		for _, r := range d.index.Candidates(next.Kind, next.Key) {
			d.fireOne(ctx, r, next)
		}
	}
}

func (d *Dispatcher) fireOne(ctx context.Context, r *Rule, in Incoming) {
	start := d.clock()
	err := d.fire(ctx, r, in)
	if d.stats != nil {
		d.stats.RecordFire(r.ID, d.clock().Sub(start), err)
	}
	if err != nil && d.onError != nil {
		d.onError(r, in, err)
	}
}
