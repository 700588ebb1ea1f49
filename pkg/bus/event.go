// Package bus implements the in-process event bus (§4.3): pattern-matched
// pub/sub over dotted topics, serial in-subscription-order delivery, and
// breadth-first queuing of emissions nested inside a handler so dispatch
// never recurses.
package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/noexlabs/rulesengine/pkg/value"
)

// Event is a published message: an id, a dotted topic, a data payload, and
// provenance/correlation metadata (§3). CausationDepth counts how many
// emit_event hops separate this event from the root event that started its
// causation chain, letting a subscriber bound re-entrant re-triggering
// without tracking any state of its own.
type Event struct {
	ID             string
	Topic          string
	Data           value.Value
	Timestamp      time.Time
	Source         string
	CorrelationID  string
	CausationID    string
	CausationDepth int
}

// Meta carries the optional fields Emit accepts beyond topic and data.
type Meta struct {
	Source         string
	CorrelationID  string
	CausationID    string
	CausationDepth int
}

func newEventID() string {
	return uuid.NewString()
}
