package dsl

import (
	"testing"
	"time"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/ruleset"
	"github.com/noexlabs/rulesengine/pkg/value"
)

func TestRuleSpec_ToRule_Basic(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	spec := RuleSpec{
		ID:       "r1",
		Name:     "Notify on order placed",
		Priority: 5,
		Trigger:  TriggerSpec{Kind: "event", Pattern: "order.placed"},
		Conditions: &ConditionSpec{
			Left: "${event.amount}", Op: "gt", Right: 100.0,
		},
		Actions: []ActionSpec{
			{Type: "set_fact", Key: "order:notified", Value: true},
		},
	}

	rule, err := spec.ToRule(now)
	if err != nil {
		t.Fatalf("ToRule: %v", err)
	}
	if rule.ID != "r1" || rule.Trigger.Kind != ruleset.TriggerEvent || rule.Trigger.Pattern != "order.placed" {
		t.Fatalf("unexpected rule: %+v", rule)
	}
	if !rule.Enabled {
		t.Error("expected default-enabled rule")
	}
	if len(rule.Actions) != 1 {
		t.Fatalf("expected 1 action, got %d", len(rule.Actions))
	}
}

func TestRuleSpec_ToRule_UnknownTriggerKind(t *testing.T) {
	spec := RuleSpec{ID: "bad", Trigger: TriggerSpec{Kind: "bogus"}}
	if _, err := spec.ToRule(time.Now()); err == nil {
		t.Fatal("expected error for unknown trigger kind")
	}
}

func TestConditionSpec_AllAnyNot(t *testing.T) {
	spec := ConditionSpec{
		All: []ConditionSpec{
			{Op: "eq", Left: "${event.status}", Right: "open"},
			{Any: []ConditionSpec{
				{Op: "gt", Left: "${event.amount}", Right: 10.0},
				{Not: &ConditionSpec{Op: "exists", Left: "${event.discount}"}},
			}},
		},
	}
	cond, err := spec.ToCondition()
	if err != nil {
		t.Fatalf("ToCondition: %v", err)
	}
	ctx := value.NewContext()
	ctx.Event = value.FromAny(map[string]any{"status": "open", "amount": 5.0})
	ok, err := condition.Evaluate(cond, ctx)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Error("expected condition to hold (amount below 10 but discount absent satisfies Not(exists))")
	}
}

func TestActionSpec_Conditional(t *testing.T) {
	spec := ActionSpec{
		Type: "conditional",
		Conditions: &ConditionSpec{
			Op: "eq", Left: "${event.vip}", Right: true,
		},
		Then: []ActionSpec{{Type: "set_fact", Key: "tier", Value: "gold"}},
		Else: []ActionSpec{{Type: "set_fact", Key: "tier", Value: "standard"}},
	}
	a, err := spec.ToAction()
	if err != nil {
		t.Fatalf("ToAction: %v", err)
	}
	if a.Kind() != action.KindConditional {
		t.Errorf("expected conditional action, got %v", a.Kind())
	}
}

func TestLookupSpec_ToRequirement(t *testing.T) {
	spec := LookupSpec{Name: "acct", Service: "accounts", Method: "get", TTL: "30s", Params: map[string]any{"id": "${event.id}"}}
	req, err := spec.ToRequirement()
	if err != nil {
		t.Fatalf("ToRequirement: %v", err)
	}
	if req.TTL != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", req.TTL)
	}
	if !req.Params.IsRef() {
		// Params is a map containing a ref field, not itself a ref.
		if _, ok := req.Params.MapValue(); !ok {
			t.Errorf("expected map params, got %v", req.Params.Kind())
		}
	}
}

func TestGroupSpec_ToGroup_DefaultsEnabled(t *testing.T) {
	g := GroupSpec{ID: "g1", Name: "Orders"}.ToGroup(time.Now())
	if !g.Enabled {
		t.Error("expected group to default to enabled")
	}
}
