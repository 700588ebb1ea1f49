// Package ruleset implements the rule/group data model, the per-kind
// indices, and the FIFO dispatcher (§4.8): given an incoming trigger, find
// the active candidate rules in priority/createdAt order and fire them
// through an injected callback, never recursing into dispatch for
// emissions performed mid-fire.
package ruleset

import (
	"time"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/lookup"
)

// TriggerKind discriminates the four trigger variants (§3).
type TriggerKind int

const (
	TriggerEvent TriggerKind = iota
	TriggerFact
	TriggerTimer
	TriggerTemporal
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerEvent:
		return "event"
	case TriggerFact:
		return "fact"
	case TriggerTimer:
		return "timer"
	case TriggerTemporal:
		return "temporal"
	default:
		return "unknown"
	}
}

// Trigger is a rule's trigger declaration: exactly one kind, with a glob
// pattern matched against incoming topics/fact-keys/timer-names/temporal
// pattern names.
type Trigger struct {
	Kind    TriggerKind
	Pattern string
}

// Rule is the engine's rule definition (§3).
type Rule struct {
	ID          string
	Name        string
	Description string
	Priority    float64
	Enabled     bool
	Tags        []string
	Group       string // "" = ungrouped
	Trigger     Trigger
	Conditions  condition.Condition
	Actions     []action.Action
	Lookups     []lookup.Requirement
	Version     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Group is a RuleGroup (§3): disabling it gates every rule referencing it;
// deleting it ungates them (a stale Group reference on a Rule is treated
// as ungrouped, per §3).
type Group struct {
	ID          string
	Name        string
	Description string
	Enabled     bool
	CreatedAt   time.Time
}
