package ruleset

import (
	"sort"
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/pkg/engine/enginerr"
	"github.com/noexlabs/rulesengine/pkg/topicmatch"
)

// Index maintains the rule/group set and the per-trigger-kind pattern
// indices (eventIndex/factIndex/timerIndex/temporalRules, §4.8).
type Index struct {
	mu     sync.RWMutex
	rules  map[string]*Rule
	groups map[string]*Group

	// byKind[k] maps a rule's trigger pattern to the rule ids declaring it,
	// so Candidates only walks the patterns relevant to the incoming kind.
	byKind map[TriggerKind]map[string][]string
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		rules:  make(map[string]*Rule),
		groups: make(map[string]*Group),
		byKind: map[TriggerKind]map[string][]string{
			TriggerEvent:    {},
			TriggerFact:     {},
			TriggerTimer:    {},
			TriggerTemporal: {},
		},
	}
}

// RegisterRule adds a new rule. Its id must not already be registered; use
// UpdateRule to change an existing one. Version starts at 1.
func (idx *Index) RegisterRule(r Rule, now func() time.Time) (*Rule, error) {
	if r.ID == "" {
		return nil, enginerr.Validationf("ruleset: rule id is required")
	}
	if len(r.Actions) == 0 {
		return nil, enginerr.Validationf("ruleset: rule %q must have at least one action", r.ID)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.rules[r.ID]; exists {
		return nil, enginerr.Conflictf("ruleset: rule %q already registered", r.ID)
	}

	t := now()
	r.Version = 1
	r.CreatedAt = t
	r.UpdatedAt = t
	stored := r
	idx.rules[r.ID] = &stored
	idx.indexRule(&stored)
	return &stored, nil
}

// UpdateRule replaces an existing rule's definition, bumping its version
// and UpdatedAt while preserving CreatedAt.
func (idx *Index) UpdateRule(r Rule, now func() time.Time) (*Rule, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	existing, ok := idx.rules[r.ID]
	if !ok {
		return nil, enginerr.NotFoundf("ruleset: rule %q not found", r.ID)
	}
	idx.unindexRule(existing)

	r.Version = existing.Version + 1
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = now()
	stored := r
	idx.rules[r.ID] = &stored
	idx.indexRule(&stored)
	return &stored, nil
}

// UnregisterRule removes a rule, reporting whether one existed.
func (idx *Index) UnregisterRule(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	r, ok := idx.rules[id]
	if !ok {
		return false
	}
	idx.unindexRule(r)
	delete(idx.rules, id)
	return true
}

// GetRule returns the current definition of rule id.
func (idx *Index) GetRule(id string) (*Rule, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	r, ok := idx.rules[id]
	return r, ok
}

// AllRules returns every registered rule, in no particular order.
func (idx *Index) AllRules() []*Rule {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*Rule, 0, len(idx.rules))
	for _, r := range idx.rules {
		out = append(out, r)
	}
	return out
}

// RegisterGroup adds or replaces a RuleGroup.
func (idx *Index) RegisterGroup(g Group) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.groups[g.ID] = &g
}

// UnregisterGroup removes a group. Rules referencing it become ungrouped
// in effect (§3: a stale Group reference is treated as active-by-Enabled),
// without needing to rewrite every affected rule.
func (idx *Index) UnregisterGroup(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.groups[id]; !ok {
		return false
	}
	delete(idx.groups, id)
	return true
}

// indexRule must be called with idx.mu held.
func (idx *Index) indexRule(r *Rule) {
	m := idx.byKind[r.Trigger.Kind]
	m[r.Trigger.Pattern] = append(m[r.Trigger.Pattern], r.ID)
}

// unindexRule must be called with idx.mu held.
func (idx *Index) unindexRule(r *Rule) {
	m := idx.byKind[r.Trigger.Kind]
	ids := m[r.Trigger.Pattern]
	for i, id := range ids {
		if id == r.ID {
			m[r.Trigger.Pattern] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}

// isActive reports whether r should be considered for dispatch: enabled,
// and (ungrouped, or its group exists and is enabled — §3).
func (idx *Index) isActive(r *Rule) bool {
	if !r.Enabled {
		return false
	}
	if r.Group == "" {
		return true
	}
	g, ok := idx.groups[r.Group]
	if !ok {
		return true
	}
	return g.Enabled
}

// Candidates returns every active rule of the given trigger kind whose
// pattern matches key, ordered by priority descending then createdAt
// ascending (§4.8 step 2).
func (idx *Index) Candidates(kind TriggerKind, key string) []*Rule {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []*Rule
	for pattern, ids := range idx.byKind[kind] {
		if !topicmatch.Get(pattern, delimFor(kind)).Match(key) {
			continue
		}
		for _, id := range ids {
			r := idx.rules[id]
			if r != nil && idx.isActive(r) {
				out = append(out, r)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func delimFor(kind TriggerKind) byte {
	switch kind {
	case TriggerFact, TriggerTimer:
		return ':'
	default:
		return '.'
	}
}
