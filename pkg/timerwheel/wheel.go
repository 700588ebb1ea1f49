package timerwheel

import (
	"container/heap"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/noexlabs/rulesengine/pkg/value"
)

// Fired is the synthetic trigger a timer's expiry produces (§4.9): it
// carries enough to build a "timer" Incoming in pkg/ruleset plus the
// already-resolved onExpire event to emit alongside it.
type Fired struct {
	Name          string
	FiredCount    int
	OnExpireTopic string
	OnExpireData  value.Value
}

// timer is one scheduled entry in the heap.
type timer struct {
	name       string
	expiresAt  time.Time
	spec       TimerSpec
	firedCount int
	schedule   cron.Schedule // non-nil for cron timers
	index      int           // heap.Interface bookkeeping
}

// timerHeap is a container/heap min-heap ordered by expiresAt.
type timerHeap []*timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Wheel is the timer scheduler (§4.9): a min-heap keyed by expiresAt, woken
// by a single background goroutine sleeping until the earliest deadline.
type Wheel struct {
	mu       sync.Mutex
	heap     timerHeap
	byName   map[string]*timer
	clock    func() time.Time
	onFire   func(Fired)
	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Wheel at construction time.
type Option func(*Wheel)

// WithClock overrides the wheel's source of "now", for deterministic tests
// driving virtual time.
func WithClock(now func() time.Time) Option {
	return func(w *Wheel) { w.clock = now }
}

// New creates a Wheel. onFire is invoked (from the wheel's own goroutine,
// after Run is started) for every timer expiry.
func New(onFire func(Fired), opts ...Option) *Wheel {
	w := &Wheel{
		byName: make(map[string]*timer),
		clock:  time.Now,
		onFire: onFire,
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetTimer arms (or replaces) the named timer per spec (§3 Timer: "Timers
// with the same name replace their predecessor").
func (w *Wheel) SetTimer(spec TimerSpec) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.byName[spec.Name]; ok {
		heap.Remove(&w.heap, existing.index)
		delete(w.byName, spec.Name)
	}

	t := &timer{name: spec.Name, spec: spec}
	if spec.Cron != "" {
		sched, err := cron.ParseStandard(spec.Cron)
		if err != nil {
			return err
		}
		t.schedule = sched
		t.expiresAt = sched.Next(w.clock())
	} else {
		t.expiresAt = w.clock().Add(spec.Duration)
	}

	heap.Push(&w.heap, t)
	w.byName[spec.Name] = t
	w.poke()
	return nil
}

// CancelTimer removes the named timer, reporting whether one existed.
func (w *Wheel) CancelTimer(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.byName[name]
	if !ok {
		return false
	}
	heap.Remove(&w.heap, t.index)
	delete(w.byName, name)
	return true
}

// poke must be called with w.mu held; it wakes Run's sleep loop so it can
// recompute the next deadline.
func (w *Wheel) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drives the wheel until Stop is called: sleep until the earliest
// deadline (or a day, if empty), fire every timer whose deadline has
// passed, reschedule repeats/crons, repeat. Intended to run in its own
// goroutine for the engine's lifetime.
func (w *Wheel) Run() {
	for {
		w.mu.Lock()
		var wait time.Duration
		if w.heap.Len() == 0 {
			wait = 24 * time.Hour
		} else {
			wait = w.heap[0].expiresAt.Sub(w.clock())
			if wait < 0 {
				wait = 0
			}
		}
		w.mu.Unlock()

		timerC := time.NewTimer(wait)
		select {
		case <-w.stopCh:
			timerC.Stop()
			return
		case <-w.wake:
			timerC.Stop()
			continue
		case <-timerC.C:
		}

		w.fireExpired()
	}
}

// Stop signals Run to return, if it hasn't already.
func (w *Wheel) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Wheel) fireExpired() {
	now := w.clock()
	var toFire []Fired

	w.mu.Lock()
	for w.heap.Len() > 0 && !w.heap[0].expiresAt.After(now) {
		t := heap.Pop(&w.heap).(*timer)
		delete(w.byName, t.name)
		t.firedCount++

		toFire = append(toFire, Fired{
			Name:          t.name,
			FiredCount:    t.firedCount,
			OnExpireTopic: t.spec.OnExpireTopic,
			OnExpireData:  t.spec.OnExpireData,
		})

		if next, ok := nextOccurrence(t, now); ok {
			t.expiresAt = next
			heap.Push(&w.heap, t)
			w.byName[t.name] = t
		}
	}
	w.mu.Unlock()

	for _, f := range toFire {
		w.onFire(f)
	}
}

// nextOccurrence computes the next expiresAt for a repeating or cron timer,
// or reports false when the timer's life is over (§4.9: a repeat timer
// stops once maxCount is reached).
func nextOccurrence(t *timer, now time.Time) (time.Time, bool) {
	if t.schedule != nil {
		return t.schedule.Next(now), true
	}
	if t.spec.Repeat == nil {
		return time.Time{}, false
	}
	if t.spec.Repeat.MaxCount > 0 && t.firedCount >= t.spec.Repeat.MaxCount {
		return time.Time{}, false
	}
	return now.Add(t.spec.Repeat.Interval), true
}
