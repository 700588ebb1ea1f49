package ruleset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/noexlabs/rulesengine/pkg/value"
)

func TestDispatch_FiresCandidatesInOrder(t *testing.T) {
	idx := NewIndex()
	idx.RegisterRule(ruleWithActions("low", 1, Trigger{Kind: TriggerEvent, Pattern: "order.*"}), time.Now)
	idx.RegisterRule(ruleWithActions("high", 5, Trigger{Kind: TriggerEvent, Pattern: "order.*"}), time.Now)

	var order []string
	d := NewDispatcher(idx, func(ctx context.Context, r *Rule, in Incoming) error {
		order = append(order, r.ID)
		return nil
	})

	d.Dispatch(context.Background(), Incoming{Kind: TriggerEvent, Key: "order.created", Context: value.NewContext()})

	if len(order) != 2 || order[0] != "high" || order[1] != "low" {
		t.Fatalf("order = %v", order)
	}
}

func TestDispatch_ReentrantDispatchIsQueuedNotRecursed(t *testing.T) {
	idx := NewIndex()
	idx.RegisterRule(ruleWithActions("a", 1, Trigger{Kind: TriggerEvent, Pattern: "first"}), time.Now)
	idx.RegisterRule(ruleWithActions("b", 1, Trigger{Kind: TriggerEvent, Pattern: "second"}), time.Now)

	var order []string
	var d *Dispatcher
	d = NewDispatcher(idx, func(ctx context.Context, r *Rule, in Incoming) error {
		order = append(order, "start:"+r.ID)
		if r.ID == "a" {
			d.Dispatch(ctx, Incoming{Kind: TriggerEvent, Key: "second", Context: value.NewContext()})
		}
		order = append(order, "end:"+r.ID)
		return nil
	})

	d.Dispatch(context.Background(), Incoming{Kind: TriggerEvent, Key: "first", Context: value.NewContext()})

	want := []string{"start:a", "end:a", "start:b", "end:b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDispatch_ErrorReportedButDoesNotStopOtherCandidates(t *testing.T) {
	idx := NewIndex()
	idx.RegisterRule(ruleWithActions("fails", 2, Trigger{Kind: TriggerEvent, Pattern: "t"}), time.Now)
	idx.RegisterRule(ruleWithActions("ok", 1, Trigger{Kind: TriggerEvent, Pattern: "t"}), time.Now)

	var errored string
	okCalled := false
	d := NewDispatcher(idx, func(ctx context.Context, r *Rule, in Incoming) error {
		if r.ID == "fails" {
			return errors.New("boom")
		}
		okCalled = true
		return nil
	}, WithOnError(func(r *Rule, in Incoming, err error) {
		errored = r.ID
	}))

	d.Dispatch(context.Background(), Incoming{Kind: TriggerEvent, Key: "t", Context: value.NewContext()})

	if errored != "fails" {
		t.Errorf("errored = %q, want fails", errored)
	}
	if !okCalled {
		t.Error("expected second candidate to still fire")
	}
}

type recordingStats struct {
	calls []string
}

func (r *recordingStats) RecordFire(ruleID string, d time.Duration, err error) {
	r.calls = append(r.calls, ruleID)
}

func TestDispatch_RecordsStatsPerFire(t *testing.T) {
	idx := NewIndex()
	idx.RegisterRule(ruleWithActions("r1", 1, Trigger{Kind: TriggerEvent, Pattern: "t"}), time.Now)

	stats := &recordingStats{}
	d := NewDispatcher(idx, func(ctx context.Context, r *Rule, in Incoming) error {
		return nil
	}, WithStatsRecorder(stats))

	d.Dispatch(context.Background(), Incoming{Kind: TriggerEvent, Key: "t", Context: value.NewContext()})

	if len(stats.calls) != 1 || stats.calls[0] != "r1" {
		t.Fatalf("got %v", stats.calls)
	}
}
