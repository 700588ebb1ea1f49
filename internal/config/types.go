package config

import "github.com/noexlabs/rulesengine/internal/dsl"

// Config is the top-level configuration parsed from the YAML config file:
// the engine's full rule/group/service/storage topology plus the engine's
// own runtime knobs.
type Config struct {
	Rules    []dsl.RuleSpec    `yaml:"rules"    json:"rules"`
	Groups   []dsl.GroupSpec   `yaml:"groups"   json:"groups"`
	Services []ServiceSpec     `yaml:"services" json:"services"`
	Storage  StorageSpec       `yaml:"storage"  json:"storage"`
	Engine   EngineSpec        `yaml:"engine"   json:"engine"`
	Health   HealthConfig      `yaml:"health"   json:"health"`
	History  HistoryConfig     `yaml:"history"  json:"history"`
	Server   ServerSpec        `yaml:"server"   json:"server"`
	Webhooks []DestinationSpec `yaml:"webhooks" json:"webhooks"`
}

// ServerSpec controls the HTTP listener `serve` multiplexes the SSE stream
// and the trace websocket onto. Webhook delivery is outbound and does not
// use it.
type ServerSpec struct {
	ListenAddr string `yaml:"listenAddr" json:"listenAddr"`
}

// DestinationSpec is the YAML mirror of webhook.Destination (§12.4).
type DestinationSpec struct {
	Name                string   `yaml:"name"                json:"name"`
	URL                 string   `yaml:"url"                 json:"url"`
	Topics              []string `yaml:"topics"              json:"topics"`
	SuppressionInterval string   `yaml:"suppressionInterval" json:"suppressionInterval"`
	EscalateAfter       string   `yaml:"escalateAfter"       json:"escalateAfter"`
	EscalationURL       string   `yaml:"escalationUrl"       json:"escalationUrl"`
}

// ServiceSpec declares an external service callable from call_service
// actions and lookup DataRequirements.
type ServiceSpec struct {
	Name    string `yaml:"name"    json:"name"`
	URL     string `yaml:"url"     json:"url"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// StorageSpec selects and configures the rule/group persistence adapter.
type StorageSpec struct {
	Adapter string `yaml:"adapter" json:"adapter"` // "memory" or "file"
	Path    string `yaml:"path"    json:"path"`    // required for "file"
}

// EngineSpec holds the engine orchestrator's own runtime knobs.
type EngineSpec struct {
	LookupTimeout     string `yaml:"lookupTimeout"     json:"lookupTimeout"`
	TraceBuffer       int    `yaml:"traceBuffer"       json:"traceBuffer"`
	StopGrace         string `yaml:"stopGrace"         json:"stopGrace"`
	SweepInterval     string `yaml:"sweepInterval"     json:"sweepInterval"`
	CacheSize         int    `yaml:"cacheSize"         json:"cacheSize"`
	DefaultTTL        string `yaml:"defaultTTL"        json:"defaultTTL"`
	MaxCausationDepth int    `yaml:"maxCausationDepth" json:"maxCausationDepth"`
}

// HealthConfig holds health-check polling settings. Load parses and
// validates them; no component polls lookup sources or services with them.
type HealthConfig struct {
	Interval string `yaml:"interval" json:"interval"`
	Timeout  string `yaml:"timeout"  json:"timeout"`
}

// HistoryConfig holds a retention setting. Load validates it; neither the
// audit log nor the version store prunes by it.
type HistoryConfig struct {
	RetentionDays int `yaml:"retentionDays" json:"retentionDays"`
}
