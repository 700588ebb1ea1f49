package config

import (
	"time"

	"github.com/noexlabs/rulesengine/internal/dsl"
	"github.com/noexlabs/rulesengine/pkg/ruleset"
)

// RuleRegistrar is the interface for applying rules/groups to a running
// engine. Defined at the consumer per Go convention — pkg/engine.Engine
// satisfies it without either package importing the other.
type RuleRegistrar interface {
	RegisterRule(r ruleset.Rule) (*ruleset.Rule, error)
	UpdateRule(r ruleset.Rule) (*ruleset.Rule, error)
	UnregisterRule(id string) (bool, error)
	GetRule(id string) (*ruleset.Rule, bool)
	RegisterGroup(g ruleset.Group) error
	UnregisterGroup(id string) (bool, error)
}

// RegisterAll applies every rule and group in cfg to engine for the first
// time (at startup, before the engine is Started).
func RegisterAll(engine RuleRegistrar, cfg *Config, now time.Time) []error {
	if cfg == nil {
		return nil
	}
	var errs []error
	for _, g := range cfg.Groups {
		if err := engine.RegisterGroup(g.ToGroup(now)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, rs := range cfg.Rules {
		rule, err := rs.ToRule(now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := engine.RegisterRule(rule); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ReconcileOnReload diffs oldCfg against newCfg and applies additions,
// removals, and updates to a running engine — the hot-reload counterpart
// to RegisterAll, generalized from the teacher's ReconcileOnReload (which
// diffed Kubernetes-service topology) to rule/group topology. A parse
// failure must not blow away the last-known-good rule set, so callers
// should only invoke this with a newCfg that Load returned non-nil.
func ReconcileOnReload(engine RuleRegistrar, oldCfg, newCfg *Config, now time.Time) (added, removed, updated int, errs []error) {
	if newCfg == nil {
		return 0, 0, 0, nil
	}

	oldGroups := make(map[string]dsl.GroupSpec)
	if oldCfg != nil {
		for _, g := range oldCfg.Groups {
			oldGroups[g.ID] = g
		}
	}
	newGroups := make(map[string]dsl.GroupSpec)
	for _, g := range newCfg.Groups {
		newGroups[g.ID] = g
	}
	for id, g := range newGroups {
		if old, exists := oldGroups[id]; !exists || old != g {
			if err := engine.RegisterGroup(g.ToGroup(now)); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for id := range oldGroups {
		if _, exists := newGroups[id]; !exists {
			if _, err := engine.UnregisterGroup(id); err != nil {
				errs = append(errs, err)
			}
		}
	}

	oldRules := make(map[string]dsl.RuleSpec)
	if oldCfg != nil {
		for _, r := range oldCfg.Rules {
			oldRules[r.ID] = r
		}
	}
	newRules := make(map[string]dsl.RuleSpec)
	for _, r := range newCfg.Rules {
		newRules[r.ID] = r
	}

	for id, rs := range newRules {
		old, exists := oldRules[id]
		rule, err := rs.ToRule(now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !exists {
			if _, err := engine.RegisterRule(rule); err != nil {
				errs = append(errs, err)
				continue
			}
			added++
			continue
		}
		if ruleSpecEqual(old, rs) {
			continue
		}
		if existing, ok := engine.GetRule(id); ok {
			rule.Version = existing.Version
			rule.CreatedAt = existing.CreatedAt
		}
		if _, err := engine.UpdateRule(rule); err != nil {
			errs = append(errs, err)
			continue
		}
		updated++
	}

	for id := range oldRules {
		if _, exists := newRules[id]; !exists {
			if _, err := engine.UnregisterRule(id); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}

	return added, removed, updated, errs
}

// ruleSpecEqual reports whether two rule specs are equal as far as config
// reload checks. Full structural equality is impractical because
// ConditionSpec/ActionSpec hold `any` fields, so it compares name,
// description, priority, group, enabled state and trigger, the counts of
// actions, lookups and tags, and whether conditions are present. A change
// inside an action, lookup, tag or condition that leaves these the same is
// not detected.
func ruleSpecEqual(a, b dsl.RuleSpec) bool {
	if a.Name != b.Name || a.Description != b.Description || a.Priority != b.Priority || a.Group != b.Group {
		return false
	}
	if boolPtrEqual(a.Enabled, b.Enabled) == false {
		return false
	}
	if a.Trigger != b.Trigger {
		return false
	}
	if len(a.Actions) != len(b.Actions) || len(a.Lookups) != len(b.Lookups) || len(a.Tags) != len(b.Tags) {
		return false
	}
	if (a.Conditions == nil) != (b.Conditions == nil) {
		return false
	}
	return true
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
