// Package engine implements the engine orchestrator (C11, §4.11): the
// long-lived owner of the fact store, event bus, lookup manager, rule
// index/dispatcher, action executor, timer wheel and temporal pattern
// engine, wiring them into the single-threaded cooperative dispatch loop
// described in §5. Grounded on cmd/command-center/main.go's run(ctx, cfg)
// shape — construct the store, construct every dependent component against
// it, start each component's own goroutine, block until cancelled — except
// here the "store" is the rule engine's own internal state rather than a
// Kubernetes watcher's.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/noexlabs/rulesengine/pkg/action"
	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/engine/enginerr"
	"github.com/noexlabs/rulesengine/pkg/fact"
	"github.com/noexlabs/rulesengine/pkg/lookup"
	"github.com/noexlabs/rulesengine/pkg/ruleset"
	"github.com/noexlabs/rulesengine/pkg/temporal"
	"github.com/noexlabs/rulesengine/pkg/timerwheel"
	"github.com/noexlabs/rulesengine/pkg/value"
)

const (
	defaultStopGrace         = 5 * time.Second
	defaultSweepInterval     = 30 * time.Second
	defaultMaxCausationDepth = 50
)

// Engine is the process-wide owner of every core component (§4.11). There
// are no ambient globals: everything the engine needs is a field here,
// constructed once by New and torn down once by Stop.
type Engine struct {
	clock func() time.Time

	facts      *fact.Store
	bus        *bus.Bus
	lookups    *lookup.Manager
	index      *ruleset.Index
	dispatcher *ruleset.Dispatcher
	executor   *action.Executor
	wheel      *timerwheel.Wheel
	temporal   *temporal.Engine
	services   action.ServiceCaller
	stats      *Stats
	trace      *TraceCollector

	stopGrace         time.Duration
	sweepInterval     time.Duration
	cacheSize         int
	defaultTTL        time.Duration
	maxCausationDepth int

	resolverMu       sync.Mutex
	resolverWired    map[string]bool
	unsubscribeEvent func()

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	stopCh      chan struct{}
	loopsWG     sync.WaitGroup
	inFlight    sync.WaitGroup
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides every component's source of "now", for deterministic
// tests driving virtual time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithServices wires the external service registry call_service actions and
// service-backed lookups invoke through.
func WithServices(s action.ServiceCaller) Option {
	return func(e *Engine) { e.services = s }
}

// WithMetricsRegisterer registers the engine's Prometheus collectors
// against reg instead of a private registry — typically the process-wide
// registry an HTTP /metrics handler serves.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.stats = NewStats(reg) }
}

// WithTraceCapacity overrides the trace collector's ring buffer size
// (defaultTraceCapacity otherwise).
func WithTraceCapacity(n int) Option {
	return func(e *Engine) { e.trace = NewTraceCollector(n) }
}

// WithStopGrace overrides how long Stop waits for in-flight rule fires to
// drain before abandoning them (defaultStopGrace otherwise).
func WithStopGrace(d time.Duration) Option {
	return func(e *Engine) { e.stopGrace = d }
}

// WithSweepInterval overrides how often the temporal pattern engine's
// idle-partition GC and absence-deadline sweep runs (defaultSweepInterval
// otherwise).
func WithSweepInterval(d time.Duration) Option {
	return func(e *Engine) { e.sweepInterval = d }
}

// WithCacheSize overrides the lookup manager's cache capacity.
func WithCacheSize(n int) Option {
	return func(e *Engine) { e.cacheSize = n }
}

// WithDefaultTTL overrides the lookup manager's default cache TTL.
func WithDefaultTTL(d time.Duration) Option {
	return func(e *Engine) { e.defaultTTL = d }
}

// WithMaxCausationDepth overrides the maximum number of emit_event hops a
// causation chain may grow before the engine drops the re-entrant trigger
// instead of dispatching it (defaultMaxCausationDepth otherwise). Bounds the
// case where a rule's emit_event action targets a topic matching its own
// trigger (§9).
func WithMaxCausationDepth(n int) Option {
	return func(e *Engine) { e.maxCausationDepth = n }
}

// New constructs an Engine with every core component wired together: the
// fact store publishes through the bus, the bus feeds event/fact/timer
// triggers into the dispatcher, the dispatcher fires rules through the
// action executor, and temporal completions feed back into the dispatcher
// as synthetic triggers (§4.10 final paragraph).
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:             time.Now,
		stopGrace:         defaultStopGrace,
		sweepInterval:     defaultSweepInterval,
		maxCausationDepth: defaultMaxCausationDepth,
		stats:             NewStats(nil),
		trace:             NewTraceCollector(0),
		resolverWired:     make(map[string]bool),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	lookupOpts := []lookup.Option{
		lookup.WithClock(e.clock),
		lookup.WithOnCacheEvent(e.stats.RecordCacheEvent),
	}
	if e.cacheSize > 0 {
		lookupOpts = append(lookupOpts, lookup.WithCacheSize(e.cacheSize))
	}
	if e.defaultTTL > 0 {
		lookupOpts = append(lookupOpts, lookup.WithDefaultTTL(e.defaultTTL))
	}

	e.bus = bus.New(bus.WithClock(e.clock))
	e.facts = fact.New(fact.WithEmitter(e.bus), fact.WithClock(e.clock))
	e.lookups = lookup.New(lookupOpts...)
	e.index = ruleset.NewIndex()
	e.temporal = temporal.New(e.onTemporalCompletion, temporal.WithClock(e.clock))
	e.wheel = timerwheel.New(e.onTimerFired, timerwheel.WithClock(e.clock))
	e.executor = action.NewExecutor(e.facts, e.bus, engineScheduler{e: e}, e.serviceCaller(), nil)
	e.dispatcher = ruleset.NewDispatcher(e.index, e.fire,
		ruleset.WithStatsRecorder(e.stats),
		ruleset.WithOnError(e.onFireError),
		ruleset.WithDispatcherClock(e.clock),
	)

	e.unsubscribeEvent = e.bus.Subscribe("*", e.onBusEvent)
	return e
}

func serviceCallerOrNil(s action.ServiceCaller) action.ServiceCaller {
	if s == nil {
		return noServices{}
	}
	return s
}

// serviceCaller returns the engine's service registry, or a rejecting stub
// if none was configured — used both by the action executor and by lazily
// -registered lookup resolvers.
func (e *Engine) serviceCaller() action.ServiceCaller {
	return serviceCallerOrNil(e.services)
}

// noServices rejects every call_service action when the engine was built
// without a service registry, rather than leaving executor.Services nil
// and panicking.
type noServices struct{}

func (noServices) Call(ctx context.Context, service, method string, args value.Value) (value.Value, error) {
	return value.Null(), enginerr.ServiceUnavailablef("engine: no service registry configured (service %q)", service)
}

// engineScheduler adapts the engine's timer wheel to action.Executor's
// narrow Scheduler dependency while emitting timer.set/timer.cancelled
// observer events, which a bare *timerwheel.Wheel has no way to do itself.
type engineScheduler struct{ e *Engine }

func (s engineScheduler) SetTimer(spec timerwheel.TimerSpec) error {
	if err := s.e.wheel.SetTimer(spec); err != nil {
		return err
	}
	s.e.bus.Emit(TopicTimerSet, value.Map(map[string]value.Value{
		"name": value.String(spec.Name),
	}), bus.Meta{Source: "engine"})
	return nil
}

func (s engineScheduler) CancelTimer(name string) bool {
	ok := s.e.wheel.CancelTimer(name)
	if ok {
		s.e.bus.Emit(TopicTimerCancelled, value.Map(map[string]value.Value{
			"name": value.String(name),
		}), bus.Meta{Source: "engine"})
	}
	return ok
}

// Start begins the engine's background loops: the timer wheel's sleep-until
// -deadline goroutine and the temporal engine's periodic sweep. Returns an
// error if already started.
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	if e.started {
		e.lifecycleMu.Unlock()
		return enginerr.Validationf("engine: already started")
	}
	e.started = true
	e.lifecycleMu.Unlock()

	e.loopsWG.Add(2)
	go func() {
		defer e.loopsWG.Done()
		e.wheel.Run()
	}()
	go func() {
		defer e.loopsWG.Done()
		e.sweepLoop()
	}()

	e.bus.Emit(TopicEngineStarted, value.Null(), bus.Meta{Source: "engine"})
	return nil
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.temporal.Sweep(e.clock())
		}
	}
}

// Stop tears the engine down (§4.11): cancels the timer wheel, stops the
// sweep loop, awaits in-flight rule fires for up to the configured grace
// period, and rejects further mutating calls thereafter.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifecycleMu.Lock()
	if !e.started || e.stopped {
		e.lifecycleMu.Unlock()
		return enginerr.Validationf("engine: not running")
	}
	e.stopped = true
	e.lifecycleMu.Unlock()

	close(e.stopCh)
	e.wheel.Stop()

	done := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.stopGrace):
	case <-ctx.Done():
	}

	e.loopsWG.Wait()
	if e.unsubscribeEvent != nil {
		e.unsubscribeEvent()
	}
	e.bus.Emit(TopicEngineStopped, value.Null(), bus.Meta{Source: "engine"})
	return nil
}

// checkRunning rejects mutating calls once Stop has completed (§4.11:
// "rejects further mutation").
func (e *Engine) checkRunning() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if e.stopped {
		return enginerr.ServiceUnavailablef("engine: stopped")
	}
	return nil
}

// --- Rule CRUD -------------------------------------------------------------

// RegisterRule adds r as a new rule (§3); its id must not already exist.
func (e *Engine) RegisterRule(r ruleset.Rule) (*ruleset.Rule, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	stored, err := e.index.RegisterRule(r, e.clock)
	if err != nil {
		return nil, err
	}
	e.wireLookupResolvers(stored)
	e.bus.Emit(TopicRuleRegistered, ruleEventData(stored), bus.Meta{Source: "engine"})
	return stored, nil
}

// UpdateRule replaces an existing rule's definition, bumping its version.
func (e *Engine) UpdateRule(r ruleset.Rule) (*ruleset.Rule, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	stored, err := e.index.UpdateRule(r, e.clock)
	if err != nil {
		return nil, err
	}
	e.wireLookupResolvers(stored)
	e.bus.Emit(TopicRuleUpdated, ruleEventData(stored), bus.Meta{Source: "engine"})
	return stored, nil
}

// UnregisterRule removes a rule, reporting whether one existed.
func (e *Engine) UnregisterRule(id string) (bool, error) {
	if err := e.checkRunning(); err != nil {
		return false, err
	}
	ok := e.index.UnregisterRule(id)
	if ok {
		e.bus.Emit(TopicRuleUnregistered, value.Map(map[string]value.Value{"id": value.String(id)}), bus.Meta{Source: "engine"})
	}
	return ok, nil
}

// EnableRule flips a rule's Enabled flag on.
func (e *Engine) EnableRule(id string) (*ruleset.Rule, error) {
	return e.setEnabled(id, true, TopicRuleEnabled)
}

// DisableRule flips a rule's Enabled flag off.
func (e *Engine) DisableRule(id string) (*ruleset.Rule, error) {
	return e.setEnabled(id, false, TopicRuleDisabled)
}

func (e *Engine) setEnabled(id string, enabled bool, topic string) (*ruleset.Rule, error) {
	if err := e.checkRunning(); err != nil {
		return nil, err
	}
	current, ok := e.index.GetRule(id)
	if !ok {
		return nil, enginerr.NotFoundf("engine: rule %q not found", id)
	}
	updated := *current
	updated.Enabled = enabled
	stored, err := e.index.UpdateRule(updated, e.clock)
	if err != nil {
		return nil, err
	}
	e.bus.Emit(topic, ruleEventData(stored), bus.Meta{Source: "engine"})
	return stored, nil
}

// GetRule returns the current definition of rule id.
func (e *Engine) GetRule(id string) (*ruleset.Rule, bool) {
	return e.index.GetRule(id)
}

// GetAllRules returns every registered rule.
func (e *Engine) GetAllRules() []*ruleset.Rule {
	return e.index.AllRules()
}

// RegisterGroup adds or replaces a RuleGroup.
func (e *Engine) RegisterGroup(g ruleset.Group) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	e.index.RegisterGroup(g)
	return nil
}

// UnregisterGroup removes a group; member rules become ungrouped in effect.
func (e *Engine) UnregisterGroup(id string) (bool, error) {
	if err := e.checkRunning(); err != nil {
		return false, err
	}
	return e.index.UnregisterGroup(id), nil
}

// RegisterTemporalPattern adds or replaces a named temporal pattern
// definition (§3/§4.10). A rule observes it by declaring
// Trigger{Kind: TriggerTemporal, Pattern: p.Name} — the pattern itself is
// engine-wide state, independent of any one rule referencing it.
func (e *Engine) RegisterTemporalPattern(p temporal.Pattern) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	e.temporal.Register(p)
	return nil
}

// UnregisterTemporalPattern removes a temporal pattern and all its
// partition state.
func (e *Engine) UnregisterTemporalPattern(name string) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	e.temporal.Unregister(name)
	return nil
}

func ruleEventData(r *ruleset.Rule) value.Value {
	return value.Map(map[string]value.Value{
		"id":      value.String(r.ID),
		"name":    value.String(r.Name),
		"version": value.Number(float64(r.Version)),
		"enabled": value.Bool(r.Enabled),
	})
}

// wireLookupResolvers lazily registers a lookup.Manager resolver for every
// distinct (name -> service.method) lookup declared on r, the first time
// that name is seen (§4.5/§3 DataRequirement).
func (e *Engine) wireLookupResolvers(r *ruleset.Rule) {
	e.resolverMu.Lock()
	defer e.resolverMu.Unlock()
	for _, req := range r.Lookups {
		if e.resolverWired[req.Name] {
			continue
		}
		e.resolverWired[req.Name] = true
		service, method := req.Service, req.Method
		e.lookups.Register(req.Name, lookup.ResolverFunc(func(ctx context.Context, name string, params value.Value) (value.Value, error) {
			return e.serviceCaller().Call(ctx, service, method, params)
		}))
	}
}

// --- Fact CRUD --------------------------------------------------------------

// SetFact writes a fact directly through the engine API (as opposed to a
// set_fact action fired mid-rule).
func (e *Engine) SetFact(key string, v value.Value, source string) (fact.Fact, error) {
	if err := e.checkRunning(); err != nil {
		return fact.Fact{}, err
	}
	return e.facts.Set(key, v, source), nil
}

// DeleteFact removes a fact directly through the engine API.
func (e *Engine) DeleteFact(key string) (bool, error) {
	if err := e.checkRunning(); err != nil {
		return false, err
	}
	return e.facts.Delete(key), nil
}

// GetFact returns the current value at key.
func (e *Engine) GetFact(key string) (value.Value, bool) {
	return e.facts.Get(key)
}

// QueryFacts returns every fact whose key matches pattern (§4.2, using C2).
func (e *Engine) QueryFacts(pattern string) []fact.Fact {
	return e.facts.Query(pattern)
}

// --- Events / timers ---------------------------------------------------------

// Emit publishes an event through the engine's bus.
func (e *Engine) Emit(topic string, data value.Value, source string) (bus.Event, error) {
	if err := e.checkRunning(); err != nil {
		return bus.Event{}, err
	}
	return e.bus.Emit(topic, data, bus.Meta{Source: source}), nil
}

// EmitCorrelated publishes an event carrying an explicit correlation chain.
func (e *Engine) EmitCorrelated(topic string, data value.Value, source, correlationID, causationID string) (bus.Event, error) {
	if err := e.checkRunning(); err != nil {
		return bus.Event{}, err
	}
	return e.bus.EmitCorrelated(topic, data, source, correlationID, causationID), nil
}

// Subscribe registers handler for every topic matching pattern.
func (e *Engine) Subscribe(pattern string, handler bus.Handler) func() {
	return e.bus.Subscribe(pattern, handler)
}

// Bus exposes the engine's event bus directly, for ambient subscribers
// (audit log, version store, SSE broadcaster, webhook delivery — §12.4)
// that live outside pkg/engine and are not special-cased here.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// SetTimer arms (or replaces) a named timer directly through the engine API.
func (e *Engine) SetTimer(spec timerwheel.TimerSpec) error {
	if err := e.checkRunning(); err != nil {
		return err
	}
	return engineScheduler{e: e}.SetTimer(spec)
}

// CancelTimer removes a named timer, reporting whether one existed.
func (e *Engine) CancelTimer(name string) (bool, error) {
	if err := e.checkRunning(); err != nil {
		return false, err
	}
	return engineScheduler{e: e}.CancelTimer(name), nil
}

// --- Stats / tracing ---------------------------------------------------------

// GetStats returns a snapshot of the engine's counters.
func (e *Engine) GetStats() Snapshot {
	return e.stats.Snapshot()
}

// EnableTracing turns the trace collector on.
func (e *Engine) EnableTracing() { e.trace.Enable() }

// DisableTracing turns the trace collector off.
func (e *Engine) DisableTracing() { e.trace.Disable() }

// GetTraceCollector exposes the trace collector for inspection (e.g. by
// internal/transport/ws streaming it to a connected client).
func (e *Engine) GetTraceCollector() *TraceCollector { return e.trace }
