// Package fact implements the versioned fact store (§4.2): a colon-keyed map
// of Values, where every Set bumps a per-key version counter and emits a
// fact_created/fact_updated/fact_deleted event, mirroring the teacher's
// Store (internal/state/store.go) generalized from named services to
// arbitrary versioned facts.
package fact

import (
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/topicmatch"
	"github.com/noexlabs/rulesengine/pkg/value"
)

const (
	TopicFactCreated = "fact.created"
	TopicFactUpdated = "fact.updated"
	TopicFactDeleted = "fact.deleted"
)

// Fact is a stored value plus its version and provenance.
type Fact struct {
	Key       string
	Value     value.Value
	Version   int
	UpdatedAt time.Time
	Source    string
}

// ChangeData is the Data payload of fact.* events: the key, new value (Null
// for deletes), version and source.
type ChangeData struct {
	Key     string
	Value   value.Value
	Version int
	Source  string
}

func (c ChangeData) toValue() value.Value {
	return value.Map(map[string]value.Value{
		"key":     value.String(c.Key),
		"value":   c.Value,
		"version": value.Number(float64(c.Version)),
		"source":  value.String(c.Source),
	})
}

// Emitter is the narrow slice of bus.Bus the store needs to publish change
// events. Satisfied by *bus.Bus.
type Emitter interface {
	Emit(topic string, data value.Value, meta bus.Meta) bus.Event
}

// Store holds the current value of every fact, guarded by a single mutex,
// per §4.2 (no component mutates a Fact in place; every change replaces it).
type Store struct {
	mu      sync.RWMutex
	facts   map[string]Fact
	emitter Emitter
	clock   func() time.Time
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithEmitter wires the store to publish fact.* events on emitter (normally
// the engine's *bus.Bus).
func WithEmitter(e Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// WithClock overrides the store's source of Fact.UpdatedAt, for
// deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		facts: make(map[string]Fact),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current value at key, implementing value.FactAccessor so
// a Store can be wired directly into a value.Context.
func (s *Store) Get(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok {
		return value.Null(), false
	}
	return f.Value, true
}

// GetFull returns the full Fact record (value, version, provenance) at key.
func (s *Store) GetFull(key string) (Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	return f, ok
}

// Set stores v at key, always incrementing the version counter — setFact
// bumps the version even when the new value deep-equals the old one (§9
// Open Question 1, resolved in DESIGN.md: always bump). Emits
// fact.created on first write, fact.updated thereafter.
func (s *Store) Set(key string, v value.Value, source string) Fact {
	s.mu.Lock()
	existing, existed := s.facts[key]
	version := 1
	if existed {
		version = existing.Version + 1
	}
	f := Fact{Key: key, Value: v, Version: version, UpdatedAt: s.clock(), Source: source}
	s.facts[key] = f
	s.mu.Unlock()

	topic := TopicFactUpdated
	if !existed {
		topic = TopicFactCreated
	}
	s.emit(topic, ChangeData{Key: key, Value: v, Version: f.Version, Source: source})
	return f
}

// Delete removes key, returning false if it did not exist. Emits
// fact.deleted with the final version number and a Null value.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	existing, ok := s.facts[key]
	if ok {
		delete(s.facts, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.emit(TopicFactDeleted, ChangeData{Key: key, Value: value.Null(), Version: existing.Version + 1, Source: ""})
	return true
}

// Query returns every Fact whose key matches the colon-delimited glob
// pattern (§4.1).
func (s *Store) Query(pattern string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fact
	for k, f := range s.facts {
		if topicmatch.MatchKey(pattern, k) {
			out = append(out, f)
		}
	}
	return out
}

// All returns every stored Fact.
func (s *Store) All() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	return out
}

func (s *Store) emit(topic string, data ChangeData) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(topic, data.toValue(), bus.Meta{Source: data.Source})
}
