package engine

import (
	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/fact"
	"github.com/noexlabs/rulesengine/pkg/ruleset"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// GoalKind discriminates the two things a Goal can ask about (§4.11 backward
// chaining).
type GoalKind int

const (
	GoalFact GoalKind = iota
	GoalEvent
)

// Goal is the query entry point: "is this fact ever true" or "is this event
// ever emitted", optionally constrained to a specific value/comparison
// rather than mere existence.
type Goal struct {
	Kind     GoalKind
	Key      string // fact key or event topic
	Value    value.Value
	Operator string // condition.Operator; "" means plain existence
	HasValue bool
}

// ProofKind discriminates a Proof node's shape (§4.11): a directly satisfied
// fact, a rule whose actions could produce the goal, or a dead end.
type ProofKind int

const (
	ProofFactExists ProofKind = iota
	ProofRule
	ProofUnachievable
)

// Proof is one node of the backward-chaining proof tree. Query never
// executes an action — it only reads the current fact store and inspects
// registered rules' declared actions.
type Proof struct {
	Kind ProofKind

	Fact *fact.Fact // set when Kind == ProofFactExists and backed by a live fact

	RuleID string        // set when Kind == ProofRule
	Rule   *ruleset.Rule // set when Kind == ProofRule
	Via    []Proof       // the rule's own trigger, proved achievable in turn

	Why string // set when Kind == ProofUnachievable, or an explanatory note otherwise

	MaxDepthReached bool
}

// DefaultMaxQueryDepth bounds how deep Query recurses through rule chains
// before giving up, preventing a cyclic rule graph from looping forever.
const DefaultMaxQueryDepth = 10

// Query answers goal by backward chaining (§4.11): if the fact already
// holds, that's the proof; otherwise it looks for a registered, enabled
// rule whose actions (including inside conditional branches) could produce
// it, and recursively proves that rule's own trigger is achievable.
func (e *Engine) Query(goal Goal) Proof {
	return e.proveGoal(goal, 0, DefaultMaxQueryDepth)
}

// QueryWithDepth is Query with an explicit depth bound, for callers that
// want a tighter (or looser) search than DefaultMaxQueryDepth.
func (e *Engine) QueryWithDepth(goal Goal, maxDepth int) Proof {
	return e.proveGoal(goal, 0, maxDepth)
}

func (e *Engine) proveGoal(goal Goal, depth, maxDepth int) Proof {
	if depth > maxDepth {
		return Proof{Kind: ProofUnachievable, Why: "query: max depth reached", MaxDepthReached: true}
	}

	if goal.Kind == GoalFact {
		if f, ok := e.facts.GetFull(goal.Key); ok && factSatisfiesGoal(f, goal) {
			fc := f
			return Proof{Kind: ProofFactExists, Fact: &fc}
		}
	}

	for _, r := range e.index.AllRules() {
		if !r.Enabled {
			continue
		}
		if !ruleProducesGoal(r, goal) {
			continue
		}
		return Proof{
			Kind:   ProofRule,
			RuleID: r.ID,
			Rule:   r,
			Via:    []Proof{e.proveTriggerAchievable(r, depth+1, maxDepth)},
		}
	}

	return Proof{Kind: ProofUnachievable, Why: "query: no fact or registered rule can produce this goal"}
}

// proveTriggerAchievable recurses into a producing rule's own trigger.
// Event/fact triggers reduce to the same kind of goal one level up; timer
// and temporal triggers are driven by wall-clock/window state rather than
// another rule's output, so they're treated as externally achievable
// without further recursion.
func (e *Engine) proveTriggerAchievable(r *ruleset.Rule, depth, maxDepth int) Proof {
	switch r.Trigger.Kind {
	case ruleset.TriggerFact:
		return e.proveGoal(Goal{Kind: GoalFact, Key: r.Trigger.Pattern}, depth, maxDepth)
	case ruleset.TriggerEvent:
		return e.proveGoal(Goal{Kind: GoalEvent, Key: r.Trigger.Pattern}, depth, maxDepth)
	default:
		return Proof{Kind: ProofFactExists, Why: "triggered externally (timer/temporal), not chained through another rule"}
	}
}

// factSatisfiesGoal reports whether f's current value satisfies goal's
// optional value constraint (plain existence if none was given).
func factSatisfiesGoal(f fact.Fact, goal Goal) bool {
	if !goal.HasValue {
		return true
	}
	if goal.Operator == "" || goal.Operator == "eq" {
		return value.Equal(f.Value, goal.Value)
	}
	ok, err := condition.Evaluate(condition.Leaf(f.Value, condition.Operator(goal.Operator), goal.Value), value.NewContext())
	return err == nil && ok
}

// ruleProducesGoal reports whether any of r's actions — including inside
// conditional branches — could produce goal, by literal key/topic match.
// Interpolated or Ref-valued keys/topics can't be resolved without a live
// fire context, so they're conservatively treated as not matching.
func ruleProducesGoal(r *ruleset.Rule, goal Goal) bool {
	return actionsProduceGoal(r.Actions, goal)
}

func actionsProduceGoal(actions []action.Action, goal Goal) bool {
	for _, a := range actions {
		if actionProducesGoal(a, goal) {
			return true
		}
	}
	return false
}

func actionProducesGoal(a action.Action, goal Goal) bool {
	switch a.Kind() {
	case action.KindSetFact:
		return goal.Kind == GoalFact && literalMatches(a.FactKey(), goal.Key)
	case action.KindEmitEvent:
		return goal.Kind == GoalEvent && literalMatches(a.Topic(), goal.Key)
	case action.KindConditional:
		return actionsProduceGoal(a.Then(), goal) || actionsProduceGoal(a.Else(), goal)
	default:
		return false
	}
}

func literalMatches(v value.Value, key string) bool {
	s, ok := v.Str()
	return ok && s == key
}
