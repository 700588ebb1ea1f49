package webhook

import (
	"testing"
	"time"
)

func TestSuppression_FirstDeliveryAllowed(t *testing.T) {
	now := time.Now()
	se := NewSuppressionEngine(WithClock(func() time.Time { return now }))

	dest := Destination{Name: "ops", SuppressionInterval: 15 * time.Minute}

	d := se.Evaluate("ops", "rule.fired", dest)
	if d.Action != Allow {
		t.Errorf("first delivery should be allowed, got %v", d.Action)
	}
}

func TestSuppression_WithinIntervalSuppressed(t *testing.T) {
	now := time.Now()
	se := NewSuppressionEngine(WithClock(func() time.Time { return now }))

	dest := Destination{Name: "ops", SuppressionInterval: 15 * time.Minute}

	if d := se.Evaluate("ops", "rule.fired", dest); d.Action != Allow {
		t.Fatalf("first should be allowed")
	}

	now = now.Add(5 * time.Minute)
	d := se.Evaluate("ops", "rule.fired", dest)
	if d.Action != Suppress {
		t.Errorf("second within interval should be suppressed, got %v", d.Action)
	}
}

func TestSuppression_AfterIntervalAllowed(t *testing.T) {
	now := time.Now()
	se := NewSuppressionEngine(WithClock(func() time.Time { return now }))

	dest := Destination{Name: "ops", SuppressionInterval: 15 * time.Minute}

	se.Evaluate("ops", "rule.fired", dest)

	now = now.Add(16 * time.Minute)
	d := se.Evaluate("ops", "rule.fired", dest)
	if d.Action != Allow {
		t.Errorf("after interval should be allowed, got %v", d.Action)
	}
}

func TestSuppression_EscalatesAfterThreshold(t *testing.T) {
	now := time.Now()
	se := NewSuppressionEngine(WithClock(func() time.Time { return now }))

	dest := Destination{Name: "ops", SuppressionInterval: time.Minute, EscalateAfter: 10 * time.Minute}

	se.Evaluate("ops", "rule.fired", dest)

	now = now.Add(11 * time.Minute)
	d := se.Evaluate("ops", "rule.fired", dest)
	if d.Action != Escalate {
		t.Errorf("expected escalate after threshold, got %v", d.Action)
	}

	// escalation fires once; subsequent deliveries fall back to suppression rules
	now = now.Add(30 * time.Second)
	d = se.Evaluate("ops", "rule.fired", dest)
	if d.Action == Escalate {
		t.Errorf("expected escalation to fire only once, got %v", d.Action)
	}
}

func TestSuppression_IndependentKeysPerDestinationAndTopic(t *testing.T) {
	now := time.Now()
	se := NewSuppressionEngine(WithClock(func() time.Time { return now }))

	dest := Destination{Name: "ops", SuppressionInterval: 15 * time.Minute}

	se.Evaluate("ops", "rule.fired", dest)

	if d := se.Evaluate("ops", "rule.failed", dest); d.Action != Allow {
		t.Errorf("different topic under same destination should not be suppressed, got %v", d.Action)
	}
	if d := se.Evaluate("other", "rule.fired", dest); d.Action != Allow {
		t.Errorf("different destination under same topic should not be suppressed, got %v", d.Action)
	}
}

func TestSuppression_ResetClearsDestinationState(t *testing.T) {
	now := time.Now()
	se := NewSuppressionEngine(WithClock(func() time.Time { return now }))

	dest := Destination{Name: "ops", SuppressionInterval: 15 * time.Minute}

	se.Evaluate("ops", "rule.fired", dest)
	se.Reset("ops")

	d := se.Evaluate("ops", "rule.fired", dest)
	if d.Action != Allow {
		t.Errorf("after reset, delivery should be allowed again, got %v", d.Action)
	}
}

func TestSuppression_NoIntervalAlwaysAllows(t *testing.T) {
	se := NewSuppressionEngine()
	dest := Destination{Name: "ops"}

	for i := 0; i < 3; i++ {
		if d := se.Evaluate("ops", "rule.fired", dest); d.Action != Allow {
			t.Errorf("delivery %d: expected allow with no interval configured, got %v", i, d.Action)
		}
	}
}
