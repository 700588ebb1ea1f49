package temporal

import (
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// countState tracks one partition's time-ordered ring of matching event
// timestamps for a Count pattern (§4.10.3).
type countState struct {
	timestamps    []time.Time
	windowStart   time.Time
	satisfied     bool // debounce: sliding mode only
	lastActivity  time.Time
	lastEventData value.Value
}

func (e *Engine) countPartition(patternName, key string) *countState {
	partitions, ok := e.counts[patternName]
	if !ok {
		partitions = make(map[string]*countState)
		e.counts[patternName] = partitions
	}
	st, ok := partitions[key]
	if !ok {
		st = &countState{}
		partitions[key] = st
	}
	return st
}

func (e *Engine) observeCount(p Pattern, evt bus.Event) *Completion {
	if !p.Event.matches(evt) {
		return nil
	}
	key := partitionKey(p.GroupBy, evt)
	st := e.countPartition(p.Name, key)
	now := e.clock()
	st.lastActivity = now
	st.lastEventData = evt.Data

	var count int
	if p.Sliding {
		st.timestamps = append(st.timestamps, now)
		st.timestamps = evictBefore(st.timestamps, now.Add(-p.Window))
		count = len(st.timestamps)
	} else {
		if st.windowStart.IsZero() || now.Sub(st.windowStart) > p.Window {
			st.windowStart = now
			st.timestamps = nil
		}
		st.timestamps = append(st.timestamps, now)
		count = len(st.timestamps)
	}

	satisfied := p.Comparison.satisfied(float64(count), p.Threshold)

	if p.Sliding {
		if satisfied && !st.satisfied {
			st.satisfied = true
			return countCompletion(p.Name, evt.Data, count)
		}
		if !satisfied {
			st.satisfied = false
		}
		return nil
	}

	if satisfied {
		return countCompletion(p.Name, evt.Data, count)
	}
	return nil
}

func countCompletion(patternName string, lastEvent value.Value, count int) *Completion {
	ctx := value.NewContext()
	ctx.Event = lastEvent
	ctx.Aliases["count"] = value.Map(map[string]value.Value{"value": value.Number(float64(count))})
	return &Completion{PatternName: patternName, Context: ctx}
}

// evictBefore drops every timestamp strictly before cutoff, preserving
// order (the slice is always appended to in increasing time order).
func evictBefore(timestamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(timestamps) && timestamps[i].Before(cutoff) {
		i++
	}
	return timestamps[i:]
}
