package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/engine/enginerr"
	"github.com/noexlabs/rulesengine/pkg/fact"
	"github.com/noexlabs/rulesengine/pkg/ruleset"
	"github.com/noexlabs/rulesengine/pkg/temporal"
	"github.com/noexlabs/rulesengine/pkg/timerwheel"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// onBusEvent is the engine's single subscription to every topic on the bus
// (§5: a single cooperative dispatch loop, not one subscription per trigger
// kind). It advances the temporal engine, dispatches an "event" trigger for
// every event, and additionally dispatches a "fact" trigger whenever the
// event is one of the fact store's own change notifications.
func (e *Engine) onBusEvent(evt bus.Event) error {
	if evt.CausationDepth >= e.maxCausationDepth {
		e.bus.Emit(TopicCausationLimitExceeded, value.Map(map[string]value.Value{
			"topic": value.String(evt.Topic),
			"depth": value.Number(float64(evt.CausationDepth)),
		}), bus.Meta{Source: "engine"})
		return enginerr.Internalf("engine: causation chain for %q exceeded max depth %d, dropping re-entrant trigger", evt.Topic, e.maxCausationDepth)
	}

	e.temporal.Observe(evt)

	ctx := context.Background()
	e.dispatcher.Dispatch(ctx, ruleset.Incoming{
		Kind:    ruleset.TriggerEvent,
		Key:     evt.Topic,
		Context: e.eventContext(evt),
		Source:  "event:" + evt.Topic,
	})

	switch evt.Topic {
	case fact.TopicFactCreated, fact.TopicFactUpdated, fact.TopicFactDeleted:
		key, ok := evt.Data.Field("key")
		if !ok {
			return nil
		}
		keyStr, ok := key.Str()
		if !ok {
			return nil
		}
		e.dispatcher.Dispatch(ctx, ruleset.Incoming{
			Kind:    ruleset.TriggerFact,
			Key:     keyStr,
			Context: e.eventContext(evt),
			Source:  "fact:" + keyStr,
		})
	}
	return nil
}

// onTimerFired is the timer wheel's onFire callback (§4.9): emits the
// timer's resolved onExpire event for ordinary event-triggered rules, a
// timer.fired observer event for audit/trace subscribers, and dispatches a
// synthetic "timer" trigger directly for any rule that listens for this
// named timer itself.
func (e *Engine) onTimerFired(f timerwheel.Fired) {
	ctx := context.Background()

	e.bus.Emit(TopicTimerFired, value.Map(map[string]value.Value{
		"name":       value.String(f.Name),
		"firedCount": value.Number(float64(f.FiredCount)),
	}), bus.Meta{Source: "timer:" + f.Name})

	if f.OnExpireTopic != "" {
		e.bus.Emit(f.OnExpireTopic, f.OnExpireData, bus.Meta{Source: "timer:" + f.Name})
	}

	evalCtx := value.NewContext()
	evalCtx.Facts = e.facts
	evalCtx.Aliases["timer"] = value.Map(map[string]value.Value{
		"name":       value.String(f.Name),
		"firedCount": value.Number(float64(f.FiredCount)),
	})
	e.dispatcher.Dispatch(ctx, ruleset.Incoming{
		Kind:    ruleset.TriggerTimer,
		Key:     f.Name,
		Context: evalCtx,
		Source:  "timer:" + f.Name,
	})
}

// onTemporalCompletion feeds a satisfied temporal pattern back through the
// dispatcher as a synthetic trigger (§4.10, final paragraph).
func (e *Engine) onTemporalCompletion(c temporal.Completion) {
	ctx := c.Context
	ctx.Facts = e.facts
	e.dispatcher.Dispatch(context.Background(), ruleset.Incoming{
		Kind:    ruleset.TriggerTemporal,
		Key:     c.PatternName,
		Context: ctx,
		Source:  "temporal:" + c.PatternName,
	})
}

// onFireError is the dispatcher's error callback: every failed fire is
// reported as a rule.failed observer event, the counterpart to
// TopicRuleFired emitted by fire itself.
func (e *Engine) onFireError(r *ruleset.Rule, in ruleset.Incoming, err error) {
	e.bus.Emit(TopicRuleFailed, value.Map(map[string]value.Value{
		"ruleId": value.String(r.ID),
		"error":  value.String(err.Error()),
	}), bus.Meta{Source: "engine"})
}

// eventContext builds the evaluation context an event/fact trigger fires
// with: event.* resolves against the bus event's data, fact.* against the
// live store, and context.correlationId/causationId carry the provenance
// chain through to any actions the fire performs (ruleset.Incoming has no
// dedicated fields for these, so they ride in Scratch, exposed at
// "context.*" per value.Context.Resolve).
func (e *Engine) eventContext(evt bus.Event) value.Context {
	ctx := value.NewContext()
	ctx.Event = evt.Data
	ctx.Facts = e.facts

	correlationID := evt.CorrelationID
	if correlationID == "" {
		correlationID = evt.ID
	}
	ctx.Scratch["correlationId"] = value.String(correlationID)
	ctx.Scratch["causationId"] = value.String(evt.ID)
	ctx.Scratch["causationDepth"] = value.Number(float64(evt.CausationDepth))
	return ctx
}

func scratchString(ctx value.Context, key string) string {
	v, ok := ctx.Scratch[key]
	if !ok {
		return ""
	}
	s, _ := v.Str()
	return s
}

func scratchInt(ctx value.Context, key string) int {
	v, ok := ctx.Scratch[key]
	if !ok {
		return 0
	}
	n, _ := v.Number()
	return int(n)
}

// fire is the ruleset.FireFunc (§4.8 step 3/§4.11): resolves the rule's
// lookups, evaluates its conditions, and — only if they pass — runs its
// actions. Conditions failing (rather than erroring) is not itself a
// failure: the rule simply didn't fire this time.
func (e *Engine) fire(ctx context.Context, rule *ruleset.Rule, in ruleset.Incoming) error {
	e.inFlight.Add(1)
	defer e.inFlight.Done()

	start := e.clock()
	evalCtx := in.Context
	if evalCtx.Facts == nil {
		evalCtx.Facts = e.facts
	}
	if evalCtx.Lookups == nil {
		evalCtx.Lookups = map[string]value.Value{}
	}

	fired := false
	var fireErr error

	if err := e.resolveLookups(ctx, rule, &evalCtx); err != nil {
		fireErr = err
	} else {
		ok, err := condition.Evaluate(rule.Conditions, evalCtx)
		if err != nil {
			fireErr = enginerr.Wrap(enginerr.Internal, err, "engine: evaluating conditions for rule %q", rule.ID)
		} else if ok {
			fired = true
			meta := action.FireMeta{
				Source:         "rule:" + rule.ID,
				CorrelationID:  scratchString(evalCtx, "correlationId"),
				CausationID:    scratchString(evalCtx, "causationId"),
				CausationDepth: scratchInt(evalCtx, "causationDepth"),
			}
			fireErr = e.executor.Run(ctx, rule.Actions, evalCtx, meta)
		}
	}

	entry := TraceEntry{
		Timestamp:   start,
		RuleID:      rule.ID,
		TriggerKind: in.Kind.String(),
		TriggerKey:  in.Key,
		DurationMs:  float64(e.clock().Sub(start)) / float64(time.Millisecond),
	}
	if fireErr != nil {
		entry.Error = fireErr.Error()
	}
	e.trace.Record(entry)

	if fireErr != nil {
		return fireErr
	}
	if fired {
		e.bus.Emit(TopicRuleFired, value.Map(map[string]value.Value{
			"ruleId":      value.String(rule.ID),
			"triggerKind": value.String(in.Kind.String()),
			"triggerKey":  value.String(in.Key),
		}), bus.Meta{Source: "engine", CorrelationID: scratchString(evalCtx, "correlationId"), CausationID: scratchString(evalCtx, "causationId")})
	}
	return nil
}

// resolveLookups satisfies rule.Lookups into evalCtx.Lookups, honoring each
// DataRequirement's onError (§3: "skip" drops the lookup's result and lets
// evaluation proceed, anything else aborts the fire). Per §4.5, requirements
// are independent of each other, so they fan out in parallel — each either
// hits the manager's cache or makes its own service call — and every result
// is awaited even when one of them fails.
func (e *Engine) resolveLookups(ctx context.Context, rule *ruleset.Rule, evalCtx *value.Context) error {
	if len(rule.Lookups) == 0 {
		return nil
	}

	type result struct {
		value value.Value
		err   error
	}
	results := make([]result, len(rule.Lookups))
	snapshot := *evalCtx

	var g errgroup.Group
	for i, req := range rule.Lookups {
		i, req := i, req
		g.Go(func() error {
			resolved := req
			resolved.Params = value.Resolve(req.Params, snapshot)
			v, err := e.lookups.Get(ctx, resolved)
			results[i] = result{value: v, err: err}
			return nil
		})
	}
	_ = g.Wait() // goroutines never return a non-nil error; failures ride in results

	for i, req := range rule.Lookups {
		r := results[i]
		if r.err != nil {
			if req.OnError == "skip" {
				evalCtx.Lookups[req.Name] = value.Null()
				continue
			}
			return enginerr.Wrap(enginerr.DataResolution, r.err, "engine: resolving lookup %q for rule %q", req.Name, rule.ID)
		}
		evalCtx.Lookups[req.Name] = r.value
	}
	return nil
}
