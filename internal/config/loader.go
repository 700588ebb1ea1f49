package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noexlabs/rulesengine/internal/dsl"
)

func parseNonNegativeDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be non-negative, got %q", field, s)
	}
	return d, nil
}

// Load reads and parses a YAML configuration file at path.
// If path does not exist or is empty, it returns an empty Config with no errors.
// If the YAML is malformed, it returns nil config with a parse error.
// For validation errors, it returns a valid config with invalid entries stripped
// plus errors describing what was removed.
func Load(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return &Config{}, nil
	}

	// Expand ${ENV_VAR} references before parsing YAML, exactly as the
	// teacher does. Rule conditions/actions use the same "${path}" syntax
	// for value.Ref interpolation, but those resolve against the live
	// evaluation context at fire time, not here — a rule path like
	// "${event.amount}" simply doesn't match any environment variable name
	// os.Getenv knows about and survives untouched.
	expanded := []byte(os.Expand(string(data), os.Getenv))

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	var validationErrors []error

	validRules := make([]dsl.RuleSpec, 0, len(cfg.Rules))
	seenRuleIDs := make(map[string]struct{}, len(cfg.Rules))
	for i, r := range cfg.Rules {
		valid := true
		id := strings.TrimSpace(r.ID)
		if id == "" {
			validationErrors = append(validationErrors, fmt.Errorf("rules[%d].id: required field missing", i))
			valid = false
		} else if _, dup := seenRuleIDs[id]; dup {
			validationErrors = append(validationErrors, fmt.Errorf("rules[%d].id: duplicate rule id %q", i, id))
			valid = false
		}
		switch r.Trigger.Kind {
		case "event", "fact", "timer", "temporal":
		default:
			validationErrors = append(validationErrors, fmt.Errorf("rules[%d].trigger.kind: invalid kind %q", i, r.Trigger.Kind))
			valid = false
		}
		if strings.TrimSpace(r.Trigger.Pattern) == "" {
			validationErrors = append(validationErrors, fmt.Errorf("rules[%d].trigger.pattern: required field missing", i))
			valid = false
		}
		if len(r.Actions) == 0 {
			validationErrors = append(validationErrors, fmt.Errorf("rules[%d].actions: at least one action required", i))
			valid = false
		}
		if valid {
			seenRuleIDs[id] = struct{}{}
			validRules = append(validRules, r)
		}
	}
	cfg.Rules = validRules

	validGroups := make([]dsl.GroupSpec, 0, len(cfg.Groups))
	seenGroupIDs := make(map[string]struct{}, len(cfg.Groups))
	for i, g := range cfg.Groups {
		id := strings.TrimSpace(g.ID)
		if id == "" {
			validationErrors = append(validationErrors, fmt.Errorf("groups[%d].id: required field missing", i))
			continue
		}
		if _, dup := seenGroupIDs[id]; dup {
			validationErrors = append(validationErrors, fmt.Errorf("groups[%d].id: duplicate group id %q", i, id))
			continue
		}
		seenGroupIDs[id] = struct{}{}
		validGroups = append(validGroups, g)
	}
	cfg.Groups = validGroups

	validServices := make([]ServiceSpec, 0, len(cfg.Services))
	seenServiceNames := make(map[string]struct{}, len(cfg.Services))
	for i, svc := range cfg.Services {
		valid := true
		name := strings.TrimSpace(svc.Name)
		if name == "" {
			validationErrors = append(validationErrors, fmt.Errorf("services[%d].name: required field missing", i))
			valid = false
		}
		if _, dup := seenServiceNames[name]; name != "" && dup {
			validationErrors = append(validationErrors, fmt.Errorf("services[%d].name: duplicate service name %q", i, name))
			valid = false
		}
		rawURL := strings.TrimSpace(svc.URL)
		if rawURL == "" {
			validationErrors = append(validationErrors, fmt.Errorf("services[%d].url: required field missing", i))
			valid = false
		} else if parsed, err := url.Parse(rawURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			validationErrors = append(validationErrors, fmt.Errorf("services[%d].url: invalid URL %q", i, rawURL))
			valid = false
		}
		if svc.Timeout != "" {
			if _, err := parseNonNegativeDuration(fmt.Sprintf("services[%d].timeout", i), svc.Timeout); err != nil {
				validationErrors = append(validationErrors, err)
				valid = false
			}
		}
		if valid {
			seenServiceNames[name] = struct{}{}
			validServices = append(validServices, svc)
		}
	}
	cfg.Services = validServices

	switch cfg.Storage.Adapter {
	case "", "memory":
		cfg.Storage.Adapter = "memory"
	case "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			validationErrors = append(validationErrors, fmt.Errorf("storage.path: required when storage.adapter is \"file\""))
			cfg.Storage.Adapter = "memory"
		}
	default:
		validationErrors = append(validationErrors, fmt.Errorf("storage.adapter: unknown adapter %q", cfg.Storage.Adapter))
		cfg.Storage.Adapter = "memory"
	}

	for field, val := range map[string]string{
		"engine.lookupTimeout": cfg.Engine.LookupTimeout,
		"engine.stopGrace":     cfg.Engine.StopGrace,
		"engine.sweepInterval": cfg.Engine.SweepInterval,
		"engine.defaultTTL":    cfg.Engine.DefaultTTL,
		"health.interval":      cfg.Health.Interval,
		"health.timeout":       cfg.Health.Timeout,
	} {
		if val == "" {
			continue
		}
		if _, err := parseNonNegativeDuration(field, val); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}
	if cfg.Engine.TraceBuffer < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("engine.traceBuffer: must be non-negative, got %d", cfg.Engine.TraceBuffer))
		cfg.Engine.TraceBuffer = 0
	}
	if cfg.Engine.CacheSize < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("engine.cacheSize: must be non-negative, got %d", cfg.Engine.CacheSize))
		cfg.Engine.CacheSize = 0
	}
	if cfg.Engine.MaxCausationDepth < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("engine.maxCausationDepth: must be non-negative, got %d", cfg.Engine.MaxCausationDepth))
		cfg.Engine.MaxCausationDepth = 0
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}

	validDests := make([]DestinationSpec, 0, len(cfg.Webhooks))
	seenDestNames := make(map[string]struct{}, len(cfg.Webhooks))
	for i, d := range cfg.Webhooks {
		valid := true
		name := strings.TrimSpace(d.Name)
		if name == "" {
			validationErrors = append(validationErrors, fmt.Errorf("webhooks[%d].name: required field missing", i))
			valid = false
		} else if _, dup := seenDestNames[name]; dup {
			validationErrors = append(validationErrors, fmt.Errorf("webhooks[%d].name: duplicate destination name %q", i, name))
			valid = false
		}
		rawURL := strings.TrimSpace(d.URL)
		if rawURL == "" {
			validationErrors = append(validationErrors, fmt.Errorf("webhooks[%d].url: required field missing", i))
			valid = false
		} else if parsed, err := url.Parse(rawURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			validationErrors = append(validationErrors, fmt.Errorf("webhooks[%d].url: invalid URL %q", i, rawURL))
			valid = false
		}
		if len(d.Topics) == 0 {
			validationErrors = append(validationErrors, fmt.Errorf("webhooks[%d].topics: at least one topic pattern required", i))
			valid = false
		}
		for field, s := range map[string]string{
			fmt.Sprintf("webhooks[%d].suppressionInterval", i): d.SuppressionInterval,
			fmt.Sprintf("webhooks[%d].escalateAfter", i):       d.EscalateAfter,
		} {
			if s == "" {
				continue
			}
			if _, err := parseNonNegativeDuration(field, s); err != nil {
				validationErrors = append(validationErrors, err)
				valid = false
			}
		}
		if valid {
			seenDestNames[name] = struct{}{}
			validDests = append(validDests, d)
		}
	}
	cfg.Webhooks = validDests

	return &cfg, validationErrors
}
