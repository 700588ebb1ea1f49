package webhook

import (
	"testing"
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/value"
)

func TestManager_DispatchesToMatchingDestination(t *testing.T) {
	adapter := newFakeAdapter("ops")
	matcher := NewMatcher([]Destination{{Name: "ops", Topics: []string{"rule.*"}}})
	mgr := NewManager(map[string]Adapter{"ops": adapter}, matcher)

	b := bus.New()
	mgr.Subscribe(b)
	defer mgr.Stop()

	b.Emit("rule.fired", value.Map(map[string]value.Value{"ruleId": value.String("r1")}), bus.Meta{Source: "engine"})

	time.Sleep(50 * time.Millisecond)

	sent := adapter.sentEvents()
	if len(sent) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sent))
	}
	if sent[0].Topic != "rule.fired" {
		t.Errorf("expected topic rule.fired, got %q", sent[0].Topic)
	}
}

func TestManager_NonMatchingTopicNotDelivered(t *testing.T) {
	adapter := newFakeAdapter("ops")
	matcher := NewMatcher([]Destination{{Name: "ops", Topics: []string{"rule.*"}}})
	mgr := NewManager(map[string]Adapter{"ops": adapter}, matcher)

	b := bus.New()
	mgr.Subscribe(b)
	defer mgr.Stop()

	b.Emit("fact.created", value.Null(), bus.Meta{Source: "engine"})

	time.Sleep(50 * time.Millisecond)

	if sent := adapter.sentEvents(); len(sent) != 0 {
		t.Errorf("expected no deliveries for non-matching topic, got %d", len(sent))
	}
}

func TestManager_SuppressesRepeatedDeliveryWithinInterval(t *testing.T) {
	adapter := newFakeAdapter("ops")
	matcher := NewMatcher([]Destination{
		{Name: "ops", Topics: []string{"rule.*"}, SuppressionInterval: time.Hour},
	})
	mgr := NewManager(map[string]Adapter{"ops": adapter}, matcher)

	b := bus.New()
	mgr.Subscribe(b)
	defer mgr.Stop()

	b.Emit("rule.fired", value.Null(), bus.Meta{Source: "engine"})
	b.Emit("rule.fired", value.Null(), bus.Meta{Source: "engine"})

	time.Sleep(50 * time.Millisecond)

	if sent := adapter.sentEvents(); len(sent) != 1 {
		t.Errorf("expected only the first delivery through suppression, got %d", len(sent))
	}
}

func TestManager_StopDetachesFromBus(t *testing.T) {
	adapter := newFakeAdapter("ops")
	matcher := NewMatcher([]Destination{{Name: "ops", Topics: []string{"rule.*"}}})
	mgr := NewManager(map[string]Adapter{"ops": adapter}, matcher)

	b := bus.New()
	mgr.Subscribe(b)
	mgr.Stop()

	b.Emit("rule.fired", value.Null(), bus.Meta{Source: "engine"})
	time.Sleep(50 * time.Millisecond)

	if sent := adapter.sentEvents(); len(sent) != 0 {
		t.Errorf("expected no deliveries after Stop, got %d", len(sent))
	}
}
