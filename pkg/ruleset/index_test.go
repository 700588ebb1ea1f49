package ruleset

import (
	"testing"
	"time"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/value"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func ruleWithActions(id string, priority float64, trigger Trigger) Rule {
	return Rule{
		ID:       id,
		Enabled:  true,
		Priority: priority,
		Trigger:  trigger,
		Actions:  []action.Action{action.Log("info", value.String("fired"))},
	}
}

func TestRegisterRule_RejectsNoActions(t *testing.T) {
	idx := NewIndex()
	_, err := idx.RegisterRule(Rule{ID: "r1", Trigger: Trigger{Kind: TriggerEvent, Pattern: "a.*"}}, time.Now)
	if err == nil {
		t.Fatal("expected error for rule with no actions")
	}
}

func TestRegisterRule_RejectsDuplicateID(t *testing.T) {
	idx := NewIndex()
	r := ruleWithActions("r1", 1, Trigger{Kind: TriggerEvent, Pattern: "a.*"})
	if _, err := idx.RegisterRule(r, time.Now); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.RegisterRule(r, time.Now); err == nil {
		t.Fatal("expected conflict on duplicate id")
	}
}

func TestCandidates_OrderedByPriorityThenCreatedAt(t *testing.T) {
	idx := NewIndex()
	t0 := time.Unix(0, 0)
	idx.RegisterRule(ruleWithActions("low", 1, Trigger{Kind: TriggerEvent, Pattern: "order.*"}), fixedNow(t0))
	idx.RegisterRule(ruleWithActions("high", 5, Trigger{Kind: TriggerEvent, Pattern: "order.*"}), fixedNow(t0))
	idx.RegisterRule(ruleWithActions("high-later", 5, Trigger{Kind: TriggerEvent, Pattern: "order.*"}), fixedNow(t0.Add(time.Second)))

	got := idx.Candidates(TriggerEvent, "order.created")
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	want := []string{"high", "high-later", "low"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("order = %v, want %v", ruleIDs(got), want)
		}
	}
}

func ruleIDs(rs []*Rule) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestCandidates_ExcludesDisabledRules(t *testing.T) {
	idx := NewIndex()
	r := ruleWithActions("r1", 1, Trigger{Kind: TriggerEvent, Pattern: "a.*"})
	r.Enabled = false
	idx.RegisterRule(r, time.Now)

	if got := idx.Candidates(TriggerEvent, "a.b"); len(got) != 0 {
		t.Fatalf("got %d, want 0", len(got))
	}
}

func TestCandidates_GroupGating(t *testing.T) {
	idx := NewIndex()
	idx.RegisterGroup(Group{ID: "g1", Enabled: false})
	r := ruleWithActions("r1", 1, Trigger{Kind: TriggerEvent, Pattern: "a.*"})
	r.Group = "g1"
	idx.RegisterRule(r, time.Now)

	if got := idx.Candidates(TriggerEvent, "a.b"); len(got) != 0 {
		t.Fatalf("expected rule gated off by disabled group, got %d", len(got))
	}

	idx.RegisterGroup(Group{ID: "g1", Enabled: true})
	if got := idx.Candidates(TriggerEvent, "a.b"); len(got) != 1 {
		t.Fatalf("expected rule active once group enabled, got %d", len(got))
	}
}

func TestCandidates_StaleGroupReferenceTreatedAsUngrouped(t *testing.T) {
	idx := NewIndex()
	idx.RegisterGroup(Group{ID: "g1", Enabled: true})
	r := ruleWithActions("r1", 1, Trigger{Kind: TriggerEvent, Pattern: "a.*"})
	r.Group = "g1"
	idx.RegisterRule(r, time.Now)

	idx.UnregisterGroup("g1")

	got := idx.Candidates(TriggerEvent, "a.b")
	if len(got) != 1 {
		t.Fatalf("expected stale group reference to not gate rule, got %d", len(got))
	}
}

func TestUpdateRule_BumpsVersionPreservesCreatedAt(t *testing.T) {
	idx := NewIndex()
	t0 := time.Unix(0, 0)
	r, _ := idx.RegisterRule(ruleWithActions("r1", 1, Trigger{Kind: TriggerEvent, Pattern: "a.*"}), fixedNow(t0))
	if r.Version != 1 {
		t.Fatalf("version = %d, want 1", r.Version)
	}

	r2 := ruleWithActions("r1", 2, Trigger{Kind: TriggerEvent, Pattern: "b.*"})
	updated, err := idx.UpdateRule(r2, fixedNow(t0.Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}
	if !updated.CreatedAt.Equal(t0) {
		t.Errorf("createdAt changed: %v", updated.CreatedAt)
	}

	if got := idx.Candidates(TriggerEvent, "a.b"); len(got) != 0 {
		t.Error("expected old pattern unindexed after update")
	}
	if got := idx.Candidates(TriggerEvent, "b.c"); len(got) != 1 {
		t.Error("expected new pattern indexed after update")
	}
}

func TestUnregisterRule_RemovesFromIndex(t *testing.T) {
	idx := NewIndex()
	idx.RegisterRule(ruleWithActions("r1", 1, Trigger{Kind: TriggerEvent, Pattern: "a.*"}), time.Now)
	if !idx.UnregisterRule("r1") {
		t.Fatal("expected unregister to succeed")
	}
	if idx.UnregisterRule("r1") {
		t.Error("expected second unregister to report not found")
	}
	if got := idx.Candidates(TriggerEvent, "a.b"); len(got) != 0 {
		t.Error("expected rule gone from index")
	}
}
