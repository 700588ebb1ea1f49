package engine

// Internal topics emitted for observers (§6): audit, SSE, webhook and the
// version store all subscribe to these rather than calling back into
// mutating engine APIs, mirroring the teacher's pattern where sse.Broker
// and notify.Engine are both independent subscribers of state.Store.
const (
	TopicRuleRegistered   = "rule.registered"
	TopicRuleUpdated      = "rule.updated"
	TopicRuleEnabled      = "rule.enabled"
	TopicRuleDisabled     = "rule.disabled"
	TopicRuleUnregistered = "rule.unregistered"
	TopicRuleFired        = "rule.fired"
	TopicRuleFailed       = "rule.failed"

	TopicTimerSet       = "timer.set"
	TopicTimerFired     = "timer.fired"
	TopicTimerCancelled = "timer.cancelled"

	TopicEngineStarted = "engine.started"
	TopicEngineStopped = "engine.stopped"

	TopicCausationLimitExceeded = "engine.causation_limit_exceeded"
)
