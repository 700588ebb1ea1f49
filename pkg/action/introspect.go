package action

import "github.com/noexlabs/rulesengine/pkg/value"

// Kind identifies which of the eight action variants (§3) an Action holds,
// exposed read-only for introspection — currently the backward-chaining
// query engine (pkg/engine), which must find actions that could produce a
// given goal without executing anything.
type Kind int

const (
	KindSetFact Kind = iota
	KindDeleteFact
	KindEmitEvent
	KindSetTimer
	KindCancelTimer
	KindCallService
	KindLog
	KindConditional
)

// Kind reports which variant a holds.
func (a Action) Kind() Kind { return Kind(a.kind) }

// FactKey returns the (possibly unresolved) key of a set_fact/delete_fact
// action. Only meaningful when Kind() is KindSetFact or KindDeleteFact.
func (a Action) FactKey() value.Value { return a.factKey }

// FactValue returns a set_fact action's value expression.
func (a Action) FactValue() value.Value { return a.factValue }

// Topic returns the topic expression of an emit_event action, or the
// onExpire topic of a set_timer action.
func (a Action) Topic() value.Value { return a.topic }

// Then returns a conditional action's true branch.
func (a Action) Then() []Action { return a.then }

// Else returns a conditional action's false branch.
func (a Action) Else() []Action { return a.els }
