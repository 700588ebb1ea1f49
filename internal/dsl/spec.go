// Package dsl defines the YAML-authorable shape of rules, groups and their
// conditions/actions, and converts them into pkg/ruleset, pkg/condition,
// pkg/action and pkg/lookup's tagged-union types.
//
// Those packages deliberately build their tagged unions through constructor
// functions over unexported fields, not composite literals, so YAML can't
// unmarshal into them directly. RuleSpec/ConditionSpec/ActionSpec are the
// plain, exported-field mirror a rule author actually writes; ToRule/
// ToCondition/ToAction walk them into the real types. Every field that can
// hold a literal-or-reference value is typed `any` and goes through
// value.FromAny, which already normalizes "${path}" strings and
// {ref: path} maps to value.Ref — so a rule author writes
// `value: "${event.amount}"` in YAML with no DSL-specific ref syntax.
package dsl

import (
	"fmt"
	"time"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/engine/enginerr"
	"github.com/noexlabs/rulesengine/pkg/lookup"
	"github.com/noexlabs/rulesengine/pkg/ruleset"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// RuleSpec is a rule as written in YAML.
type RuleSpec struct {
	ID          string         `yaml:"id"          json:"id"`
	Name        string         `yaml:"name"        json:"name"`
	Description string         `yaml:"description" json:"description"`
	Priority    float64        `yaml:"priority"    json:"priority"`
	Enabled     *bool          `yaml:"enabled"      json:"enabled"`
	Tags        []string       `yaml:"tags"        json:"tags"`
	Group       string         `yaml:"group"       json:"group"`
	Trigger     TriggerSpec    `yaml:"trigger"     json:"trigger"`
	Conditions  *ConditionSpec `yaml:"conditions"  json:"conditions"`
	Actions     []ActionSpec   `yaml:"actions"     json:"actions"`
	Lookups     []LookupSpec   `yaml:"lookups"     json:"lookups"`
}

// TriggerSpec names one of the four trigger kinds and the glob pattern it
// matches against.
type TriggerSpec struct {
	Kind    string `yaml:"kind"    json:"kind"` // event | fact | timer | temporal
	Pattern string `yaml:"pattern" json:"pattern"`
}

// ConditionSpec is the YAML mirror of condition.Condition: exactly one of
// All/Any/Not/{Left,Op,Right} should be set.
type ConditionSpec struct {
	All []ConditionSpec `yaml:"all" json:"all"`
	Any []ConditionSpec `yaml:"any" json:"any"`
	Not *ConditionSpec  `yaml:"not" json:"not"`

	Left  any    `yaml:"left"  json:"left"`
	Op    string `yaml:"op"    json:"op"`
	Right any    `yaml:"right" json:"right"`
}

// LookupSpec is the YAML mirror of lookup.Requirement.
type LookupSpec struct {
	Name    string `yaml:"name"    json:"name"`
	Service string `yaml:"service" json:"service"`
	Method  string `yaml:"method"  json:"method"`
	Params  any    `yaml:"params"  json:"params"`
	TTL     string `yaml:"ttl"     json:"ttl"`
	OnError string `yaml:"onError" json:"onError"`
}

// GroupSpec is the YAML mirror of ruleset.Group.
type GroupSpec struct {
	ID          string `yaml:"id"          json:"id"`
	Name        string `yaml:"name"        json:"name"`
	Description string `yaml:"description" json:"description"`
	Enabled     *bool  `yaml:"enabled"     json:"enabled"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// ToGroup converts g into a ruleset.Group, stamping CreatedAt with now.
func (g GroupSpec) ToGroup(now time.Time) ruleset.Group {
	return ruleset.Group{
		ID:          g.ID,
		Name:        g.Name,
		Description: g.Description,
		Enabled:     boolOr(g.Enabled, true),
		CreatedAt:   now,
	}
}

var triggerKinds = map[string]ruleset.TriggerKind{
	"event":    ruleset.TriggerEvent,
	"fact":     ruleset.TriggerFact,
	"timer":    ruleset.TriggerTimer,
	"temporal": ruleset.TriggerTemporal,
}

// ToRule converts r into a ruleset.Rule ready for Engine.RegisterRule,
// stamping CreatedAt/UpdatedAt with now. Version is left at zero; the
// engine's index assigns it.
func (r RuleSpec) ToRule(now time.Time) (ruleset.Rule, error) {
	kind, ok := triggerKinds[r.Trigger.Kind]
	if !ok {
		return ruleset.Rule{}, enginerr.Validationf("rule %q: unknown trigger kind %q", r.ID, r.Trigger.Kind)
	}

	var cond condition.Condition
	if r.Conditions != nil {
		c, err := r.Conditions.ToCondition()
		if err != nil {
			return ruleset.Rule{}, enginerr.Wrap(enginerr.Validation, err, "rule %q: conditions", r.ID)
		}
		cond = c
	} else {
		cond = condition.All()
	}

	actions := make([]action.Action, 0, len(r.Actions))
	for i, as := range r.Actions {
		a, err := as.ToAction()
		if err != nil {
			return ruleset.Rule{}, enginerr.Wrap(enginerr.Validation, err, "rule %q: actions[%d]", r.ID, i)
		}
		actions = append(actions, a)
	}

	lookups := make([]lookup.Requirement, 0, len(r.Lookups))
	for i, ls := range r.Lookups {
		l, err := ls.ToRequirement()
		if err != nil {
			return ruleset.Rule{}, enginerr.Wrap(enginerr.Validation, err, "rule %q: lookups[%d]", r.ID, i)
		}
		lookups = append(lookups, l)
	}

	return ruleset.Rule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		Enabled:     boolOr(r.Enabled, true),
		Tags:        r.Tags,
		Group:       r.Group,
		Trigger:     ruleset.Trigger{Kind: kind, Pattern: r.Trigger.Pattern},
		Conditions:  cond,
		Actions:     actions,
		Lookups:     lookups,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ToRequirement converts l into a lookup.Requirement.
func (l LookupSpec) ToRequirement() (lookup.Requirement, error) {
	var ttl time.Duration
	if l.TTL != "" {
		d, err := time.ParseDuration(l.TTL)
		if err != nil {
			return lookup.Requirement{}, fmt.Errorf("ttl: %w", err)
		}
		ttl = d
	}
	return lookup.Requirement{
		Name:    l.Name,
		Service: l.Service,
		Method:  l.Method,
		Params:  value.FromAny(l.Params),
		TTL:     ttl,
		OnError: l.OnError,
	}, nil
}

// ToCondition recursively converts c into a condition.Condition.
func (c ConditionSpec) ToCondition() (condition.Condition, error) {
	switch {
	case len(c.All) > 0:
		children, err := convertConditions(c.All)
		if err != nil {
			return condition.Condition{}, err
		}
		return condition.All(children...), nil
	case len(c.Any) > 0:
		children, err := convertConditions(c.Any)
		if err != nil {
			return condition.Condition{}, err
		}
		return condition.Any(children...), nil
	case c.Not != nil:
		child, err := c.Not.ToCondition()
		if err != nil {
			return condition.Condition{}, err
		}
		return condition.Not(child), nil
	case c.Op != "":
		return condition.Leaf(value.FromAny(c.Left), condition.Operator(c.Op), value.FromAny(c.Right)), nil
	default:
		return condition.All(), nil
	}
}

func convertConditions(specs []ConditionSpec) ([]condition.Condition, error) {
	out := make([]condition.Condition, 0, len(specs))
	for i, s := range specs {
		c, err := s.ToCondition()
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}
