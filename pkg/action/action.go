// Package action implements the action executor (§4.7): a sequential,
// in-order runner over the Action tagged variant (§3), with conditional
// branching re-evaluated against the fire's live context.
package action

import (
	"context"

	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/value"
)

type kind int

const (
	kindSetFact kind = iota
	kindDeleteFact
	kindEmitEvent
	kindSetTimer
	kindCancelTimer
	kindCallService
	kindLog
	kindConditional
)

// Action is a tagged union over the eight action types in §3. Build one
// with the constructor functions, not a composite literal.
type Action struct {
	kind kind

	factKey   value.Value
	factValue value.Value

	topic value.Value
	data  value.Value

	timerName     value.Value
	timerDuration value.Value // seconds, numeric
	timerCron     value.Value // string
	timerRepeat   *RepeatSpec

	service string
	method  string
	args    value.Value

	level   string
	message value.Value

	conditions condition.Condition
	then       []Action
	els        []Action
}

// RepeatSpec mirrors timerwheel.RepeatSpec in already-interpolatable form:
// Interval is a numeric-seconds Value, MaxCount a numeric Value (0/absent
// means unbounded).
type RepeatSpec struct {
	Interval value.Value
	MaxCount value.Value
}

// SetFact builds a set_fact action. key may itself contain interpolation
// tokens (resolved before the write); val is fully resolved before write.
func SetFact(key, val value.Value) Action {
	return Action{kind: kindSetFact, factKey: key, factValue: val}
}

// DeleteFact builds a delete_fact action.
func DeleteFact(key value.Value) Action {
	return Action{kind: kindDeleteFact, factKey: key}
}

// EmitEvent builds an emit_event action. data is a mapping resolved before
// emission.
func EmitEvent(topic, data value.Value) Action {
	return Action{kind: kindEmitEvent, topic: topic, data: data}
}

// SetTimer builds a set_timer action. duration is numeric seconds; cron, if
// non-empty once resolved, takes precedence over duration.
func SetTimer(name, duration, cron, onExpireTopic, onExpireData value.Value, repeat *RepeatSpec) Action {
	return Action{
		kind:          kindSetTimer,
		timerName:     name,
		timerDuration: duration,
		timerCron:     cron,
		timerRepeat:   repeat,
		topic:         onExpireTopic,
		data:          onExpireData,
	}
}

// CancelTimer builds a cancel_timer action.
func CancelTimer(name value.Value) Action {
	return Action{kind: kindCancelTimer, timerName: name}
}

// CallService builds a call_service action.
func CallService(service, method string, args value.Value) Action {
	return Action{kind: kindCallService, service: service, method: method, args: args}
}

// Log builds a log action.
func Log(level string, message value.Value) Action {
	return Action{kind: kindLog, level: level, message: message}
}

// Conditional builds a conditional action: cond is ANDed over (build with
// condition.All for multiple conditions); then/els are nested action lists.
func Conditional(cond condition.Condition, then, els []Action) Action {
	return Action{kind: kindConditional, conditions: cond, then: then, els: els}
}

// FireMeta identifies the provenance of a rule fire, threaded into every
// emit_event/set_timer action's causation chain (§3 Event.causationId).
// CausationDepth is the depth of the event that caused this fire; any
// emit_event action run under this meta stamps its new event one level
// deeper, so a chain of self-retriggering rules can be bounded without the
// executor itself tracking any state.
type FireMeta struct {
	Source         string // e.g. "rule:<id>"
	CorrelationID  string
	CausationID    string
	CausationDepth int
}

// Run executes actions in declaration order against evalCtx, which is
// mutated in place by set_fact/delete_fact's live store writes and observed
// by every later action in the same run (§4.7). Execution stops at the
// first error; already-applied actions are not rolled back. An unknown
// action kind is a programming error, not a possible runtime state — every
// Action is built through this package's constructors.
func (e *Executor) Run(ctx context.Context, actions []Action, evalCtx value.Context, meta FireMeta) error {
	for _, a := range actions {
		if err := e.runOne(ctx, a, evalCtx, meta); err != nil {
			return err
		}
	}
	return nil
}
