// Package timerwheel implements the timer scheduler (§4.9): a min-heap of
// one-shot, interval-repeat and cron timers, keyed by name, firing synthetic
// triggers back into the dispatcher.
package timerwheel

import (
	"time"

	"github.com/noexlabs/rulesengine/pkg/value"
)

// RepeatSpec configures an interval-repeat timer: fire every Interval,
// stopping after MaxCount fires (0 = unbounded).
type RepeatSpec struct {
	Interval time.Duration
	MaxCount int
}

// TimerSpec is the set_timer action's resolved configuration (§3 Timer,
// §4.7): a name (timers sharing a name replace their predecessor), either a
// one-shot/interval Duration or a Cron expression, an optional Repeat, and
// the already-resolved topic/data to emit on expiry.
type TimerSpec struct {
	Name          string
	Duration      time.Duration
	Cron          string
	Repeat        *RepeatSpec
	OnExpireTopic string
	OnExpireData  value.Value
}

// Scheduler is the narrow interface the action executor (C7) needs from the
// timer wheel.
type Scheduler interface {
	SetTimer(spec TimerSpec) error
	CancelTimer(name string) bool
}
