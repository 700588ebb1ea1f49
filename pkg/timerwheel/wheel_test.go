package timerwheel

import (
	"sync"
	"testing"
	"time"

	"github.com/noexlabs/rulesengine/pkg/value"
)

type clockBox struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clockBox) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clockBox) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSetTimer_FiresAfterDuration(t *testing.T) {
	clk := &clockBox{now: time.Unix(0, 0)}
	fired := make(chan Fired, 1)
	w := New(func(f Fired) { fired <- f }, WithClock(clk.Now))

	w.SetTimer(TimerSpec{Name: "t1", Duration: time.Minute, OnExpireTopic: "t1.fired", OnExpireData: value.Null()})
	w.fireExpired() // before deadline, no-op
	select {
	case <-fired:
		t.Fatal("should not have fired yet")
	default:
	}

	clk.Advance(time.Minute)
	w.fireExpired()
	select {
	case f := <-fired:
		if f.Name != "t1" || f.FiredCount != 1 {
			t.Fatalf("got %#v", f)
		}
	default:
		t.Fatal("expected fire after deadline")
	}
}

func TestSetTimer_SameNameReplacesPredecessor(t *testing.T) {
	clk := &clockBox{now: time.Unix(0, 0)}
	var fires []Fired
	w := New(func(f Fired) { fires = append(fires, f) }, WithClock(clk.Now))

	w.SetTimer(TimerSpec{Name: "t1", Duration: time.Minute})
	w.SetTimer(TimerSpec{Name: "t1", Duration: 2 * time.Minute})

	if w.heap.Len() != 1 {
		t.Fatalf("heap len = %d, want 1", w.heap.Len())
	}
	clk.Advance(time.Minute)
	w.fireExpired()
	if len(fires) != 0 {
		t.Fatal("expected original 1-minute timer to have been replaced")
	}
	clk.Advance(time.Minute)
	w.fireExpired()
	if len(fires) != 1 {
		t.Fatalf("expected replacement timer to fire at 2 minutes, got %d fires", len(fires))
	}
}

func TestCancelTimer_RemovesAndReportsMissing(t *testing.T) {
	w := New(func(f Fired) {})
	w.SetTimer(TimerSpec{Name: "t1", Duration: time.Minute})
	if !w.CancelTimer("t1") {
		t.Fatal("expected cancel to succeed")
	}
	if w.CancelTimer("t1") {
		t.Error("expected second cancel to report not found")
	}
}

func TestRepeat_FiresMultipleTimesThenStops(t *testing.T) {
	clk := &clockBox{now: time.Unix(0, 0)}
	var fires []Fired
	w := New(func(f Fired) { fires = append(fires, f) }, WithClock(clk.Now))

	w.SetTimer(TimerSpec{
		Name:     "heartbeat",
		Duration: time.Minute,
		Repeat:   &RepeatSpec{Interval: time.Minute, MaxCount: 3},
	})

	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		w.fireExpired()
	}

	if len(fires) != 3 {
		t.Fatalf("fires = %d, want 3 (stops at maxCount)", len(fires))
	}
	for i, f := range fires {
		if f.FiredCount != i+1 {
			t.Errorf("fire %d: FiredCount = %d, want %d", i, f.FiredCount, i+1)
		}
	}
}

func TestMinHeap_OrdersByEarliestDeadlineFirst(t *testing.T) {
	clk := &clockBox{now: time.Unix(0, 0)}
	var order []string
	w := New(func(f Fired) { order = append(order, f.Name) }, WithClock(clk.Now))

	w.SetTimer(TimerSpec{Name: "late", Duration: 3 * time.Minute})
	w.SetTimer(TimerSpec{Name: "early", Duration: time.Minute})
	w.SetTimer(TimerSpec{Name: "mid", Duration: 2 * time.Minute})

	clk.Advance(3 * time.Minute)
	w.fireExpired()

	want := []string{"early", "mid", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
