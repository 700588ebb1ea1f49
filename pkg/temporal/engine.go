package temporal

import (
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// Completion is a satisfied pattern fed back as a synthesized trigger
// through the dispatcher (§4.10, final paragraph).
type Completion struct {
	PatternName string
	Context     value.Context
}

// Engine advances every registered Pattern's partitioned state machine as
// events are observed, invoking onComplete whenever one is satisfied.
type Engine struct {
	mu         sync.Mutex
	patterns   map[string]Pattern
	sequences  map[string]map[string]*sequenceState
	absences   map[string]map[string]*absenceState
	counts     map[string]map[string]*countState
	aggregates map[string]map[string]*aggregateState
	clock      func() time.Time
	onComplete func(Completion)
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the engine's source of "now", for deterministic
// tests driving virtual time through windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// New creates an Engine. onComplete is invoked synchronously from Observe
// or Sweep whenever a pattern's completion condition is met.
func New(onComplete func(Completion), opts ...Option) *Engine {
	e := &Engine{
		patterns:   make(map[string]Pattern),
		sequences:  make(map[string]map[string]*sequenceState),
		absences:   make(map[string]map[string]*absenceState),
		counts:     make(map[string]map[string]*countState),
		aggregates: make(map[string]map[string]*aggregateState),
		clock:      time.Now,
		onComplete: onComplete,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds or replaces a named pattern definition.
func (e *Engine) Register(p Pattern) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patterns[p.Name] = p
}

// Unregister removes a pattern and all its partition state.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.patterns, name)
	delete(e.sequences, name)
	delete(e.absences, name)
	delete(e.counts, name)
	delete(e.aggregates, name)
}

// Observe advances every registered pattern's state against evt, emitting
// completions through onComplete (outside the lock, so a completion
// handler may safely call back into Register/Observe).
func (e *Engine) Observe(evt bus.Event) {
	e.mu.Lock()
	var completions []Completion
	for _, p := range e.patterns {
		var c *Completion
		switch p.Kind {
		case KindSequence:
			c = e.observeSequence(p, evt)
		case KindAbsence:
			c = e.observeAbsence(p, evt)
		case KindCount:
			c = e.observeCount(p, evt)
		case KindAggregate:
			c = e.observeAggregate(p, evt)
		}
		if c != nil {
			completions = append(completions, *c)
		}
	}
	e.mu.Unlock()

	for _, c := range completions {
		e.onComplete(c)
	}
}

// Sweep checks every armed Absence partition's deadline and garbage
// collects partitions idle for 2x their pattern's window (§4.10, final
// paragraph). Intended to be called periodically by the engine
// orchestrator (C11).
func (e *Engine) Sweep(now time.Time) {
	e.mu.Lock()
	var completions []Completion

	for name, partitions := range e.absences {
		p := e.patterns[name]
		for key, st := range partitions {
			if st.armed && !now.Before(st.deadline) {
				ctx := value.NewContext()
				ctx.Event = st.afterEvent
				completions = append(completions, Completion{PatternName: name, Context: ctx})
				st.armed = false
			}
			if now.Sub(st.lastActivity) > 2*p.Within {
				delete(partitions, key)
			}
		}
	}
	for name, partitions := range e.sequences {
		p := e.patterns[name]
		for key, st := range partitions {
			if now.Sub(st.lastActivity) > 2*p.Within {
				delete(partitions, key)
			}
		}
	}
	for name, partitions := range e.counts {
		p := e.patterns[name]
		for key, st := range partitions {
			if now.Sub(st.lastActivity) > 2*p.Window {
				delete(partitions, key)
			}
		}
	}
	for name, partitions := range e.aggregates {
		p := e.patterns[name]
		for key, st := range partitions {
			if now.Sub(st.lastActivity) > 2*p.Window {
				delete(partitions, key)
			}
		}
	}
	e.mu.Unlock()

	for _, c := range completions {
		e.onComplete(c)
	}
}
