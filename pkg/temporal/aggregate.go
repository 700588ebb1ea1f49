package temporal

import (
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// aggregateState tracks one partition's windowed (timestamp, field value)
// pairs for an Aggregate pattern (§4.10.4); same windowing semantics as
// Count (tumbling vs. sliding).
type aggregateState struct {
	timestamps    []time.Time
	values        []float64
	windowStart   time.Time
	satisfied     bool // debounce: sliding mode only
	lastActivity  time.Time
	lastEventData value.Value
}

func (e *Engine) aggPartition(patternName, key string) *aggregateState {
	partitions, ok := e.aggregates[patternName]
	if !ok {
		partitions = make(map[string]*aggregateState)
		e.aggregates[patternName] = partitions
	}
	st, ok := partitions[key]
	if !ok {
		st = &aggregateState{}
		partitions[key] = st
	}
	return st
}

func (e *Engine) observeAggregate(p Pattern, evt bus.Event) *Completion {
	if !p.Event.matches(evt) {
		return nil
	}
	ctx := value.NewContext()
	ctx.Event = evt.Data
	fieldVal, ok := ctx.Resolve("event." + p.Field)
	if !ok {
		return nil
	}
	n, ok := fieldVal.Number()
	if !ok {
		return nil
	}

	key := partitionKey(p.GroupBy, evt)
	st := e.aggPartition(p.Name, key)
	now := e.clock()
	st.lastActivity = now
	st.lastEventData = evt.Data

	if p.Sliding {
		st.timestamps = append(st.timestamps, now)
		st.values = append(st.values, n)
		cutoff := now.Add(-p.Window)
		i := 0
		for i < len(st.timestamps) && st.timestamps[i].Before(cutoff) {
			i++
		}
		st.timestamps = st.timestamps[i:]
		st.values = st.values[i:]
	} else {
		if st.windowStart.IsZero() || now.Sub(st.windowStart) > p.Window {
			st.windowStart = now
			st.timestamps = nil
			st.values = nil
		}
		st.timestamps = append(st.timestamps, now)
		st.values = append(st.values, n)
	}

	agg := p.Function.reduce(st.values)
	satisfied := p.Comparison.satisfied(agg, p.Threshold)

	if p.Sliding {
		if satisfied && !st.satisfied {
			st.satisfied = true
			return aggregateCompletion(p.Name, evt.Data, agg)
		}
		if !satisfied {
			st.satisfied = false
		}
		return nil
	}

	if satisfied {
		return aggregateCompletion(p.Name, evt.Data, agg)
	}
	return nil
}

func aggregateCompletion(patternName string, lastEvent value.Value, agg float64) *Completion {
	ctx := value.NewContext()
	ctx.Event = lastEvent
	ctx.Aliases["aggregate"] = value.Map(map[string]value.Value{"value": value.Number(agg)})
	return &Completion{PatternName: patternName, Context: ctx}
}
