package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noexlabs/rulesengine/internal/config"
	"github.com/noexlabs/rulesengine/internal/dsl"
	"github.com/noexlabs/rulesengine/internal/storage"
	"github.com/noexlabs/rulesengine/internal/storage/file"
	"github.com/noexlabs/rulesengine/internal/storage/memory"
)

const ruleKeyPrefix = "rule:"

func ruleStorageKey(id string) string { return ruleKeyPrefix + id }

// buildStorage selects the storage.Adapter named by cfg.Storage.Adapter,
// the one place the CLI and the long-lived serve process agree on where
// applied rules live between invocations.
func buildStorage(cfg *config.Config, logger *slog.Logger) (storage.Adapter, error) {
	switch cfg.Storage.Adapter {
	case "file":
		return file.New(cfg.Storage.Path, logger)
	default:
		return memory.New(), nil
	}
}

// decodeRuleSpec normalizes a storage.Payload.State back into a
// dsl.RuleSpec: the memory adapter hands back the exact value Save was
// given, the file adapter's replay path yields a generic
// map[string]interface{}, so a JSON round trip covers both.
func decodeRuleSpec(state any) (dsl.RuleSpec, error) {
	if spec, ok := state.(dsl.RuleSpec); ok {
		return spec, nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return dsl.RuleSpec{}, fmt.Errorf("re-encoding persisted rule: %w", err)
	}
	var spec dsl.RuleSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return dsl.RuleSpec{}, fmt.Errorf("decoding persisted rule: %w", err)
	}
	return spec, nil
}

// savePersistedRule writes spec as the canonical current definition for
// its ID, so a later `serve` boot picks up whatever `rules apply` or
// `rules rollback` last wrote.
func savePersistedRule(adapter storage.Adapter, spec dsl.RuleSpec, now time.Time) error {
	return adapter.Save(ruleStorageKey(spec.ID), storage.Payload{
		State:    spec,
		Metadata: storage.Metadata{PersistedAt: now},
	})
}

func loadPersistedRule(adapter storage.Adapter, id string) (dsl.RuleSpec, bool, error) {
	payload, ok, err := adapter.Load(ruleStorageKey(id))
	if err != nil || !ok {
		return dsl.RuleSpec{}, ok, err
	}
	spec, err := decodeRuleSpec(payload.State)
	return spec, err == nil, err
}

// loadPersistedRules returns every rule previously applied via the CLI,
// keyed by ID.
func loadPersistedRules(adapter storage.Adapter) (map[string]dsl.RuleSpec, error) {
	keys, err := adapter.ListKeys(ruleKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]dsl.RuleSpec, len(keys))
	for _, k := range keys {
		payload, ok, err := adapter.Load(k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		spec, err := decodeRuleSpec(payload.State)
		if err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, ruleKeyPrefix)] = spec
	}
	return out, nil
}

// parseRuleFile accepts a rule file shaped as {rules: [...]}, a bare YAML
// list of rules, or a single rule document — whichever an author finds
// most natural for a standalone rule file outside the main config.
func parseRuleFile(data []byte) ([]dsl.RuleSpec, error) {
	var wrapped struct {
		Rules []dsl.RuleSpec `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Rules) > 0 {
		return wrapped.Rules, nil
	}

	var list []dsl.RuleSpec
	if err := yaml.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return list, nil
	}

	var single dsl.RuleSpec
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	if single.ID == "" {
		return nil, fmt.Errorf("no rules found in file")
	}
	return []dsl.RuleSpec{single}, nil
}
