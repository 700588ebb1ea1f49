package temporal

import (
	"strconv"
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// sequenceState tracks one partition's progress through a Sequence
// pattern's ordered event list (§4.10.1).
type sequenceState struct {
	cursor       int
	windowStart  time.Time
	recorded     map[string]value.Value
	lastActivity time.Time
}

func (e *Engine) seqPartition(patternName, key string) *sequenceState {
	partitions, ok := e.sequences[patternName]
	if !ok {
		partitions = make(map[string]*sequenceState)
		e.sequences[patternName] = partitions
	}
	st, ok := partitions[key]
	if !ok {
		st = &sequenceState{recorded: make(map[string]value.Value)}
		partitions[key] = st
	}
	return st
}

func resetSequenceState(st *sequenceState) {
	st.cursor = 0
	st.recorded = make(map[string]value.Value)
}

func (e *Engine) observeSequence(p Pattern, evt bus.Event) *Completion {
	key := partitionKey(p.GroupBy, evt)
	st := e.seqPartition(p.Name, key)
	now := e.clock()

	if st.cursor > 0 && now.Sub(st.windowStart) > p.Within {
		resetSequenceState(st)
	}

	cursorMatcher := p.Events[st.cursor]
	if cursorMatcher.matches(evt) {
		if st.cursor == 0 {
			st.windowStart = now
		}
		label := cursorMatcher.As
		if label == "" {
			label = strconv.Itoa(st.cursor)
		}
		st.recorded[label] = evt.Data
		st.cursor++
		st.lastActivity = now

		if st.cursor == len(p.Events) {
			ctx := value.NewContext()
			ctx.Event = evt.Data
			events := make(map[string]value.Value, len(st.recorded))
			for k, v := range st.recorded {
				events[k] = v
			}
			ctx.Aliases["events"] = value.Map(events)
			resetSequenceState(st)
			return &Completion{PatternName: p.Name, Context: ctx}
		}
		return nil
	}

	if p.Strict && st.cursor > 0 {
		matchesAnyStep := false
		for _, m := range p.Events {
			if m.Topic == evt.Topic {
				matchesAnyStep = true
				break
			}
		}
		if !matchesAnyStep {
			resetSequenceState(st)
		}
	}
	return nil
}
