package action

import (
	"context"
	"log/slog"
	"time"

	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/condition"
	"github.com/noexlabs/rulesengine/pkg/engine/enginerr"
	"github.com/noexlabs/rulesengine/pkg/fact"
	"github.com/noexlabs/rulesengine/pkg/timerwheel"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// Emitter is the narrow slice of bus.Bus the executor needs to publish
// emit_event actions.
type Emitter interface {
	Emit(topic string, data value.Value, meta bus.Meta) bus.Event
}

// ServiceCaller is the narrow interface to the external service registry a
// call_service action invokes through.
type ServiceCaller interface {
	Call(ctx context.Context, service, method string, args value.Value) (value.Value, error)
}

// Executor runs action lists against the engine's live facts, bus, timer
// scheduler and service registry.
type Executor struct {
	Facts     FactSetter
	Emitter   Emitter
	Scheduler timerwheel.Scheduler
	Services  ServiceCaller
	Logger    *slog.Logger
}

// FactSetter is the narrow slice of fact.Store the executor needs.
// Satisfied by *fact.Store.
type FactSetter interface {
	Set(key string, v value.Value, source string) fact.Fact
	Delete(key string) bool
}

// NewExecutor builds an Executor. A nil Logger defaults to a discard
// handler, matching the teacher's no-logger-supplied convention.
func NewExecutor(facts FactSetter, emitter Emitter, scheduler timerwheel.Scheduler, services ServiceCaller, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	return &Executor{Facts: facts, Emitter: emitter, Scheduler: scheduler, Services: services, Logger: logger}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (e *Executor) runOne(ctx context.Context, a Action, evalCtx value.Context, meta FireMeta) error {
	switch a.kind {
	case kindSetFact:
		return e.runSetFact(a, evalCtx)
	case kindDeleteFact:
		return e.runDeleteFact(a, evalCtx)
	case kindEmitEvent:
		return e.runEmitEvent(a, evalCtx, meta)
	case kindSetTimer:
		return e.runSetTimer(a, evalCtx)
	case kindCancelTimer:
		return e.runCancelTimer(a, evalCtx)
	case kindCallService:
		return e.runCallService(ctx, a, evalCtx)
	case kindLog:
		return e.runLog(a, evalCtx)
	case kindConditional:
		return e.runConditional(ctx, a, evalCtx, meta)
	default:
		return enginerr.Validationf("action: unknown action kind %d", a.kind)
	}
}

func (e *Executor) runSetFact(a Action, evalCtx value.Context) error {
	key := value.Resolve(a.factKey, evalCtx).AsString()
	val := value.Resolve(a.factValue, evalCtx)
	e.Facts.Set(key, val, "rule")
	return nil
}

func (e *Executor) runDeleteFact(a Action, evalCtx value.Context) error {
	key := value.Resolve(a.factKey, evalCtx).AsString()
	e.Facts.Delete(key)
	return nil
}

func (e *Executor) runEmitEvent(a Action, evalCtx value.Context, meta FireMeta) error {
	topic := value.Resolve(a.topic, evalCtx).AsString()
	data := value.Resolve(a.data, evalCtx)
	e.Emitter.Emit(topic, data, bus.Meta{
		Source:         meta.Source,
		CorrelationID:  meta.CorrelationID,
		CausationID:    meta.CausationID,
		CausationDepth: meta.CausationDepth + 1,
	})
	return nil
}

func (e *Executor) runSetTimer(a Action, evalCtx value.Context) error {
	name := value.Resolve(a.timerName, evalCtx).AsString()
	cron, _ := value.Resolve(a.timerCron, evalCtx).Str()

	var dur time.Duration
	if cron == "" {
		secs, _ := value.Resolve(a.timerDuration, evalCtx).Number()
		dur = time.Duration(secs * float64(time.Second))
	}

	var repeat *timerwheel.RepeatSpec
	if a.timerRepeat != nil {
		intervalSecs, _ := value.Resolve(a.timerRepeat.Interval, evalCtx).Number()
		maxCount, _ := value.Resolve(a.timerRepeat.MaxCount, evalCtx).Number()
		repeat = &timerwheel.RepeatSpec{
			Interval: time.Duration(intervalSecs * float64(time.Second)),
			MaxCount: int(maxCount),
		}
	}

	spec := timerwheel.TimerSpec{
		Name:          name,
		Duration:      dur,
		Cron:          cron,
		Repeat:        repeat,
		OnExpireTopic: value.Resolve(a.topic, evalCtx).AsString(),
		OnExpireData:  value.Resolve(a.data, evalCtx),
	}
	if err := e.Scheduler.SetTimer(spec); err != nil {
		return enginerr.Wrap(enginerr.Internal, err, "set_timer %q", name)
	}
	return nil
}

func (e *Executor) runCancelTimer(a Action, evalCtx value.Context) error {
	name := value.Resolve(a.timerName, evalCtx).AsString()
	e.Scheduler.CancelTimer(name)
	return nil
}

func (e *Executor) runCallService(ctx context.Context, a Action, evalCtx value.Context) error {
	args := value.Resolve(a.args, evalCtx)
	_, err := e.Services.Call(ctx, a.service, a.method, args)
	if err != nil {
		return enginerr.Wrap(enginerr.ServiceCall, err, "call_service %s.%s", a.service, a.method)
	}
	return nil
}

func (e *Executor) runLog(a Action, evalCtx value.Context) error {
	msg := value.Resolve(a.message, evalCtx).AsString()
	level := slog.LevelInfo
	switch a.level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	e.Logger.Log(context.Background(), level, msg)
	return nil
}

func (e *Executor) runConditional(ctx context.Context, a Action, evalCtx value.Context, meta FireMeta) error {
	ok, err := condition.Evaluate(a.conditions, evalCtx)
	if err != nil {
		return enginerr.Wrap(enginerr.Internal, err, "conditional action")
	}
	if ok {
		return e.Run(ctx, a.then, evalCtx, meta)
	}
	return e.Run(ctx, a.els, evalCtx, meta)
}
