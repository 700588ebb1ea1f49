package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/lookup"
	"github.com/noexlabs/rulesengine/pkg/ruleset"
	"github.com/noexlabs/rulesengine/pkg/temporal"
	"github.com/noexlabs/rulesengine/pkg/timerwheel"
	"github.com/noexlabs/rulesengine/pkg/value"
)

type virtualClock struct{ now time.Time }

func (c *virtualClock) Now() time.Time          { return c.now }
func (c *virtualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(clk *virtualClock, opts ...Option) *Engine {
	all := append([]Option{WithClock(clk.Now)}, opts...)
	return New(all...)
}

func mustRegister(t *testing.T, e *Engine, r ruleset.Rule) *ruleset.Rule {
	t.Helper()
	stored, err := e.RegisterRule(r)
	if err != nil {
		t.Fatalf("RegisterRule(%q): %v", r.ID, err)
	}
	return stored
}

func TestEngine_EventTriggeredRuleSetsFact(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:      "r1",
		Name:    "greet",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "user.created"},
		Actions: []action.Action{action.SetFact(value.String("user:name"), value.Ref("event.name"))},
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	if _, err := e.Emit("user.created", value.Map(map[string]value.Value{"name": value.String("alice")}), "test"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	got, ok := e.GetFact("user:name")
	if !ok {
		t.Fatalf("expected fact user:name to be set")
	}
	if s, _ := got.Str(); s != "alice" {
		t.Errorf("user:name = %q, want alice", s)
	}
}

func TestEngine_ConditionGatesFire(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:         "big-order",
		Enabled:    true,
		Trigger:    ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "order.placed"},
		Conditions: condition.Leaf(value.Ref("event.amount"), condition.Gt, value.Number(100)),
		Actions:    []action.Action{action.SetFact(value.String("order:flagged"), value.Bool(true))},
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Emit("order.placed", value.Map(map[string]value.Value{"amount": value.Number(10)}), "test")
	if _, ok := e.GetFact("order:flagged"); ok {
		t.Fatalf("expected order:flagged unset for amount below threshold")
	}

	e.Emit("order.placed", value.Map(map[string]value.Value{"amount": value.Number(500)}), "test")
	if _, ok := e.GetFact("order:flagged"); !ok {
		t.Fatalf("expected order:flagged set for amount above threshold")
	}
}

func TestEngine_FactTriggerChainsToSecondRule(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:      "mark-placed",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "order.placed"},
		Actions: []action.Action{action.SetFact(value.String("order:status"), value.String("placed"))},
	})
	mustRegister(t, e, ruleset.Rule{
		ID:      "notify-on-status",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerFact, Pattern: "order:status"},
		Actions: []action.Action{action.SetFact(value.String("order:notified"), value.Bool(true))},
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Emit("order.placed", value.Map(nil), "test")

	if _, ok := e.GetFact("order:status"); !ok {
		t.Fatalf("expected order:status set")
	}
	if _, ok := e.GetFact("order:notified"); !ok {
		t.Fatalf("expected order:notified set via chained fact trigger")
	}
}

func TestEngine_DisabledRuleDoesNotFire(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:      "r1",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "ping"},
		Actions: []action.Action{action.SetFact(value.String("pong"), value.Bool(true))},
	})
	if _, err := e.DisableRule("r1"); err != nil {
		t.Fatalf("DisableRule: %v", err)
	}

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Emit("ping", value.Null(), "test")
	if _, ok := e.GetFact("pong"); ok {
		t.Fatalf("expected disabled rule not to fire")
	}
}

func TestEngine_TimerFiredDispatchesTimerTrigger(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)

	mustRegister(t, e, ruleset.Rule{
		ID:      "on-reminder",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerTimer, Pattern: "reminder1"},
		Actions: []action.Action{action.SetFact(value.String("reminder:fired"), value.Bool(true))},
	})

	e.onTimerFired(timerwheel.Fired{Name: "reminder1", FiredCount: 1})

	if _, ok := e.GetFact("reminder:fired"); !ok {
		t.Fatalf("expected reminder:fired set by timer trigger")
	}
}

func TestEngine_TimerOnExpireEventAlsoFiresEventRules(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)

	mustRegister(t, e, ruleset.Rule{
		ID:      "on-expire-event",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "reminder.expired"},
		Actions: []action.Action{action.SetFact(value.String("expired:seen"), value.Bool(true))},
	})

	e.onTimerFired(timerwheel.Fired{
		Name:          "reminder1",
		OnExpireTopic: "reminder.expired",
		OnExpireData:  value.Null(),
	})

	if _, ok := e.GetFact("expired:seen"); !ok {
		t.Fatalf("expected onExpire event to fire the event-triggered rule")
	}
}

func TestEngine_TemporalCompletionFiresRule(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)
	ctx := context.Background()

	if err := e.RegisterTemporalPattern(temporal.Sequence(
		"login-then-purchase",
		[]temporal.EventMatcher{{Topic: "login"}, {Topic: "purchase"}},
		time.Minute, "", true,
	)); err != nil {
		t.Fatalf("RegisterTemporalPattern: %v", err)
	}
	mustRegister(t, e, ruleset.Rule{
		ID:      "on-sequence",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerTemporal, Pattern: "login-then-purchase"},
		Actions: []action.Action{action.SetFact(value.String("funnel:completed"), value.Bool(true))},
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Emit("login", value.Null(), "test")
	e.Emit("purchase", value.Null(), "test")

	if _, ok := e.GetFact("funnel:completed"); !ok {
		t.Fatalf("expected sequence completion to fire the temporal-triggered rule")
	}
}

type fakeServices struct {
	response value.Value
	err      error
	calls    int
}

func (f *fakeServices) Call(ctx context.Context, service, method string, args value.Value) (value.Value, error) {
	f.calls++
	return f.response, f.err
}

func TestEngine_LookupResolvesBeforeConditions(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	services := &fakeServices{response: value.Map(map[string]value.Value{"active": value.Bool(true)})}
	e := newTestEngine(clk, WithServices(services))
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:      "acct-active",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "check.account"},
		Lookups: []lookup.Requirement{{
			Name:    "acct",
			Service: "accounts",
			Method:  "get",
			Params:  value.Map(map[string]value.Value{"id": value.Ref("event.id")}),
		}},
		Conditions: condition.Leaf(value.Ref("lookups.acct.active"), condition.Eq, value.Bool(true)),
		Actions:    []action.Action{action.SetFact(value.String("acct:ok"), value.Bool(true))},
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Emit("check.account", value.Map(map[string]value.Value{"id": value.Number(1)}), "test")

	if _, ok := e.GetFact("acct:ok"); !ok {
		t.Fatalf("expected acct:ok set once the lookup resolves true")
	}
	if services.calls == 0 {
		t.Errorf("expected the service registry to be called at least once")
	}
}

type namedLookupServices struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *namedLookupServices) Call(ctx context.Context, service, method string, args value.Value) (value.Value, error) {
	f.mu.Lock()
	f.calls[service]++
	f.mu.Unlock()
	return value.Map(map[string]value.Value{"ok": value.Bool(true)}), nil
}

func TestEngine_MultipleLookupsAllResolve(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	services := &namedLookupServices{calls: map[string]int{}}
	e := newTestEngine(clk, WithServices(services))
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:      "two-lookups",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "check.both"},
		Lookups: []lookup.Requirement{
			{Name: "a", Service: "svc-a", Method: "get"},
			{Name: "b", Service: "svc-b", Method: "get"},
		},
		Conditions: condition.All(
			condition.Leaf(value.Ref("lookups.a.ok"), condition.Eq, value.Bool(true)),
			condition.Leaf(value.Ref("lookups.b.ok"), condition.Eq, value.Bool(true)),
		),
		Actions: []action.Action{action.SetFact(value.String("both:ok"), value.Bool(true))},
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Emit("check.both", value.Null(), "test")

	if _, ok := e.GetFact("both:ok"); !ok {
		t.Fatalf("expected both:ok set once both lookups resolve")
	}
	if services.calls["svc-a"] == 0 || services.calls["svc-b"] == 0 {
		t.Errorf("expected both services called, got %+v", services.calls)
	}
}

func TestEngine_CausationDepthLimitStopsReentrantRule(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk, WithMaxCausationDepth(3))
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:      "self-retrigger",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "loop.me"},
		Actions: []action.Action{
			action.EmitEvent(value.String("loop.me"), value.Null()),
		},
	})

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	if _, err := e.Emit("loop.me", value.Null(), "test"); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	snap := e.GetStats()
	if snap.RulesExecuted > 4 {
		t.Fatalf("expected the causation depth ceiling to bound re-entrant fires, got %d executions", snap.RulesExecuted)
	}
}

func TestEngine_QueryFactExists(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)

	if _, err := e.SetFact("color", value.String("blue"), "test"); err != nil {
		t.Fatalf("SetFact: %v", err)
	}

	proof := e.Query(Goal{Kind: GoalFact, Key: "color"})
	if proof.Kind != ProofFactExists {
		t.Fatalf("Query kind = %v, want ProofFactExists", proof.Kind)
	}
}

func TestEngine_QueryFindsProducingRule(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)

	mustRegister(t, e, ruleset.Rule{
		ID:      "sets-color",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "paint"},
		Actions: []action.Action{action.SetFact(value.String("color"), value.String("red"))},
	})

	proof := e.Query(Goal{Kind: GoalFact, Key: "color"})
	if proof.Kind != ProofRule {
		t.Fatalf("Query kind = %v, want ProofRule", proof.Kind)
	}
	if proof.RuleID != "sets-color" {
		t.Errorf("RuleID = %q, want sets-color", proof.RuleID)
	}
}

func TestEngine_QueryUnachievable(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)

	proof := e.Query(Goal{Kind: GoalFact, Key: "nonexistent"})
	if proof.Kind != ProofUnachievable {
		t.Fatalf("Query kind = %v, want ProofUnachievable", proof.Kind)
	}
}

func TestEngine_QueryMaxDepthOnCycle(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)

	mustRegister(t, e, ruleset.Rule{
		ID:      "a-from-b",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerFact, Pattern: "b"},
		Actions: []action.Action{action.SetFact(value.String("a"), value.Bool(true))},
	})
	mustRegister(t, e, ruleset.Rule{
		ID:      "b-from-a",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerFact, Pattern: "a"},
		Actions: []action.Action{action.SetFact(value.String("b"), value.Bool(true))},
	})

	proof := e.QueryWithDepth(Goal{Kind: GoalFact, Key: "a"}, 3)

	found := false
	p := &proof
	for p != nil {
		if p.MaxDepthReached {
			found = true
			break
		}
		if len(p.Via) == 0 {
			break
		}
		p = &p.Via[0]
	}
	if !found {
		t.Fatalf("expected the cyclic chain to eventually hit MaxDepthReached")
	}
}

func TestEngine_StopRejectsFurtherMutation(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := e.RegisterRule(ruleset.Rule{
		ID:      "too-late",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "x"},
		Actions: []action.Action{action.Log("info", value.String("hi"))},
	}); err == nil {
		t.Fatalf("expected RegisterRule to fail after Stop")
	}
}

func TestEngine_StatsAndTraceRecordFires(t *testing.T) {
	clk := &virtualClock{now: time.Unix(0, 0)}
	e := newTestEngine(clk)
	ctx := context.Background()

	mustRegister(t, e, ruleset.Rule{
		ID:      "r1",
		Enabled: true,
		Trigger: ruleset.Trigger{Kind: ruleset.TriggerEvent, Pattern: "tick"},
		Actions: []action.Action{action.SetFact(value.String("ticked"), value.Bool(true))},
	})

	e.EnableTracing()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop(ctx)

	e.Emit("tick", value.Null(), "test")

	snap := e.GetStats()
	if snap.RulesExecuted != 1 {
		t.Errorf("RulesExecuted = %d, want 1", snap.RulesExecuted)
	}

	entries := e.GetTraceCollector().Entries()
	if len(entries) != 1 {
		t.Fatalf("trace entries = %d, want 1", len(entries))
	}
	if entries[0].RuleID != "r1" {
		t.Errorf("trace RuleID = %q, want r1", entries[0].RuleID)
	}
}
