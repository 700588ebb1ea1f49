package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats tracks the engine-wide rulesExecuted/avgProcessingTimeMs/cache-hit
// counters (§4.8 step 3, §4.11), exported both as a plain Snapshot
// (GetStats) and as Prometheus collectors registered against an injectable
// Registerer — grounded on the pack's ContextMetrics constructor shape
// (NewXWithRegisterer(reg), cklxx-elephant.ai/internal/observability) rather
// than promauto's package-global default registerer, so multiple Engines in
// the same process never collide on metric names.
type Stats struct {
	mu              sync.Mutex
	rulesExecuted   int64
	ruleFailures    int64
	totalDurationMs float64
	cacheHits       int64
	cacheMisses     int64

	rulesExecutedTotal prometheus.Counter
	ruleFailuresTotal  prometheus.Counter
	fireDuration       prometheus.Histogram
	cacheHitRatio      prometheus.Gauge
}

// Snapshot is a point-in-time read of the engine's counters (§4.11 getStats).
type Snapshot struct {
	RulesExecuted       int64
	RuleFailures        int64
	AvgProcessingTimeMs float64
	CacheHitRatio       float64
}

// NewStats creates a Stats, registering its collectors against reg. A nil
// reg gets a fresh private prometheus.Registry rather than the global
// default, so tests constructing several Engines never see a "duplicate
// metrics collector registration" panic.
func NewStats(reg prometheus.Registerer) *Stats {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Stats{
		rulesExecutedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rulesengine_rules_executed_total",
			Help: "Total number of rule fire attempts.",
		}),
		ruleFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rulesengine_rule_failures_total",
			Help: "Total number of rule fires that returned an error.",
		}),
		fireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rulesengine_rule_fire_duration_seconds",
			Help:    "Per-rule-fire processing time.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulesengine_lookup_cache_hit_ratio",
			Help: "Fraction of lookup resolutions served from cache.",
		}),
	}
	reg.MustRegister(s.rulesExecutedTotal, s.ruleFailuresTotal, s.fireDuration, s.cacheHitRatio)
	return s
}

// RecordFire implements ruleset.StatsRecorder: observed after every
// attempted rule fire, successful or not.
func (s *Stats) RecordFire(ruleID string, duration time.Duration, err error) {
	s.mu.Lock()
	s.rulesExecuted++
	s.totalDurationMs += float64(duration) / float64(time.Millisecond)
	if err != nil {
		s.ruleFailures++
	}
	s.mu.Unlock()

	s.rulesExecutedTotal.Inc()
	s.fireDuration.Observe(duration.Seconds())
	if err != nil {
		s.ruleFailuresTotal.Inc()
	}
}

// RecordCacheEvent updates the lookup cache hit ratio gauge; wired as
// lookup.WithOnCacheEvent.
func (s *Stats) RecordCacheEvent(hit bool) {
	s.mu.Lock()
	if hit {
		s.cacheHits++
	} else {
		s.cacheMisses++
	}
	ratio := s.cacheRatioLocked()
	s.mu.Unlock()
	s.cacheHitRatio.Set(ratio)
}

func (s *Stats) cacheRatioLocked() float64 {
	total := s.cacheHits + s.cacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.cacheHits) / float64(total)
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	avg := 0.0
	if s.rulesExecuted > 0 {
		avg = s.totalDurationMs / float64(s.rulesExecuted)
	}
	return Snapshot{
		RulesExecuted:       s.rulesExecuted,
		RuleFailures:        s.ruleFailures,
		AvgProcessingTimeMs: avg,
		CacheHitRatio:       s.cacheRatioLocked(),
	}
}
