package engine

import (
	"sync"
	"time"
)

// TraceEntry is one recorded rule-fire attempt (§4.11), captured whenever
// the trace collector is enabled.
type TraceEntry struct {
	Timestamp   time.Time
	RuleID      string
	TriggerKind string
	TriggerKey  string
	DurationMs  float64
	Error       string // "" on success
}

const defaultTraceCapacity = 500

// TraceCollector is a bounded ring buffer of TraceEntry, drops the oldest
// entry on overflow, and can be toggled on/off at runtime without losing
// its buffered history — grounded on the teacher's metrics-history ring
// buffer (internal/talos/poller.go: "if len(hist) >= cap { hist = hist[1:] }").
type TraceCollector struct {
	mu      sync.Mutex
	enabled bool
	cap     int
	entries []TraceEntry
}

// NewTraceCollector creates a disabled collector with the given bounded
// capacity (defaultTraceCapacity if cap <= 0).
func NewTraceCollector(cap int) *TraceCollector {
	if cap <= 0 {
		cap = defaultTraceCapacity
	}
	return &TraceCollector{cap: cap}
}

// Enable turns tracing on.
func (c *TraceCollector) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Disable turns tracing off; buffered entries are retained.
func (c *TraceCollector) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// Enabled reports whether tracing is currently on.
func (c *TraceCollector) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// Record appends entry if tracing is enabled, dropping the oldest entry
// once capacity is reached.
func (c *TraceCollector) Record(entry TraceEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if len(c.entries) >= c.cap {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, entry)
}

// Entries returns a copy of the currently buffered trace entries, oldest
// first.
func (c *TraceCollector) Entries() []TraceEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TraceEntry, len(c.entries))
	copy(out, c.entries)
	return out
}
