package temporal

import (
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// absenceState tracks one partition's armed/cancelled status for an
// Absence pattern (§4.10.2).
type absenceState struct {
	armed        bool
	deadline     time.Time
	afterEvent   value.Value
	lastActivity time.Time
}

func (e *Engine) absPartition(patternName, key string) *absenceState {
	partitions, ok := e.absences[patternName]
	if !ok {
		partitions = make(map[string]*absenceState)
		e.absences[patternName] = partitions
	}
	st, ok := partitions[key]
	if !ok {
		st = &absenceState{}
		partitions[key] = st
	}
	return st
}

// observeAbsence arms the partition on an After match and cancels it on an
// Expected match; the completion itself is only raised by Sweep once the
// deadline elapses without cancellation.
func (e *Engine) observeAbsence(p Pattern, evt bus.Event) *Completion {
	key := partitionKey(p.GroupBy, evt)
	now := e.clock()

	if p.After.matches(evt) {
		st := e.absPartition(p.Name, key)
		st.armed = true
		st.deadline = now.Add(p.Within)
		st.afterEvent = evt.Data
		st.lastActivity = now
		return nil
	}

	if partitions, ok := e.absences[p.Name]; ok {
		if st, ok := partitions[key]; ok && st.armed && p.Expected.matches(evt) {
			st.armed = false
			st.lastActivity = now
		}
	}
	return nil
}
