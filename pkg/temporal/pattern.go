// Package temporal implements the temporal pattern engine (§4.10):
// sequence/absence/count/aggregate detection over windowed, groupBy-
// partitioned event streams, synthesizing a completion trigger fed back
// through the dispatcher (C8) when a pattern is satisfied.
package temporal

import (
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// Comparison is the threshold comparison used by Count/Aggregate patterns.
type Comparison string

const (
	Gte Comparison = "gte"
	Lte Comparison = "lte"
	Eq  Comparison = "eq"
)

func (c Comparison) satisfied(value, threshold float64) bool {
	switch c {
	case Gte:
		return value >= threshold
	case Lte:
		return value <= threshold
	case Eq:
		return value == threshold
	default:
		return false
	}
}

// AggregateFunc is the reduction applied over an Aggregate pattern's
// windowed numeric field values.
type AggregateFunc string

const (
	Sum   AggregateFunc = "sum"
	Avg   AggregateFunc = "avg"
	Min   AggregateFunc = "min"
	Max   AggregateFunc = "max"
	Count AggregateFunc = "count"
)

func (f AggregateFunc) reduce(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	switch f {
	case Sum:
		var s float64
		for _, v := range values {
			s += v
		}
		return s
	case Avg:
		var s float64
		for _, v := range values {
			s += v
		}
		return s / float64(len(values))
	case Min:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case Max:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case Count:
		return float64(len(values))
	default:
		return 0
	}
}

// EventMatcher matches one step of a pattern against an incoming bus.Event:
// an exact topic (patterns are registered with concrete topics, not globs,
// per §3 "topic, filter?, as?"), an optional subset-match filter evaluated
// against the event's data, and an optional alias the matched event is
// recorded under.
type EventMatcher struct {
	Topic  string
	Filter *condition.Condition
	As     string
}

// matches reports whether evt satisfies m, building the Context the filter
// (and any later context exposure) is evaluated against.
func (m EventMatcher) matches(evt bus.Event) bool {
	if evt.Topic != m.Topic {
		return false
	}
	if m.Filter == nil {
		return true
	}
	ctx := value.NewContext()
	ctx.Event = evt.Data
	ok, err := condition.Evaluate(*m.Filter, ctx)
	return err == nil && ok
}

// Kind discriminates the four temporal pattern variants (§3).
type Kind int

const (
	KindSequence Kind = iota
	KindAbsence
	KindCount
	KindAggregate
)

// Pattern is one named temporal pattern definition (§3). Exactly the
// fields relevant to Kind are used; build with the constructor functions.
type Pattern struct {
	Kind Kind
	Name string

	// sequence
	Events  []EventMatcher
	Within  time.Duration
	GroupBy string
	Strict  bool

	// absence
	After    EventMatcher
	Expected EventMatcher

	// count / aggregate (reuse Within's sibling Window, GroupBy above)
	Event      EventMatcher
	Threshold  float64
	Comparison Comparison
	Window     time.Duration
	Sliding    bool

	// aggregate only
	Field    string
	Function AggregateFunc
}

// Sequence builds a sequence pattern (§4.10.1). len(events) must be >= 2.
func Sequence(name string, events []EventMatcher, within time.Duration, groupBy string, strict bool) Pattern {
	return Pattern{Kind: KindSequence, Name: name, Events: events, Within: within, GroupBy: groupBy, Strict: strict}
}

// Absence builds an absence pattern (§4.10.2).
func Absence(name string, after, expected EventMatcher, within time.Duration, groupBy string) Pattern {
	return Pattern{Kind: KindAbsence, Name: name, After: after, Expected: expected, Within: within, GroupBy: groupBy}
}

// CountPattern builds a count pattern (§4.10.3).
func CountPattern(name string, event EventMatcher, threshold float64, cmp Comparison, window time.Duration, groupBy string, sliding bool) Pattern {
	return Pattern{Kind: KindCount, Name: name, Event: event, Threshold: threshold, Comparison: cmp, Window: window, GroupBy: groupBy, Sliding: sliding}
}

// AggregatePattern builds an aggregate pattern (§4.10.4); windowing
// semantics (tumbling vs. sliding) are the same as Count (§4.10.3).
func AggregatePattern(name string, event EventMatcher, field string, fn AggregateFunc, threshold float64, cmp Comparison, window time.Duration, groupBy string, sliding bool) Pattern {
	return Pattern{Kind: KindAggregate, Name: name, Event: event, Field: field, Function: fn, Threshold: threshold, Comparison: cmp, Window: window, GroupBy: groupBy, Sliding: sliding}
}

// partitionKey resolves groupBy against evt.Data; "" groupBy means one
// shared partition for the whole pattern.
func partitionKey(groupBy string, evt bus.Event) string {
	if groupBy == "" {
		return ""
	}
	ctx := value.NewContext()
	ctx.Event = evt.Data
	v, ok := ctx.Resolve("event." + groupBy)
	if !ok {
		return ""
	}
	return v.AsString()
}
