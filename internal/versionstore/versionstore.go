// Package versionstore implements the per-rule version history the engine
// optionally exposes via getVersionStore (spec §6): every registration,
// update, unregistration, and rollback of a rule is appended to that
// rule's version log rather than overwriting it, so a prior snapshot can
// always be recovered. It persists through a storage.Adapter keyed
// "rule-version:{ruleId}" per spec §6's persisted-layout table, mirroring
// the teacher's internal/history package (an append-only, never-overwrite
// log with sequential read-back) at the storage-adapter boundary instead
// of a raw file handle.
package versionstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/internal/dsl"
	"github.com/noexlabs/rulesengine/internal/storage"
	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/engine"
)

// ChangeType discriminates why a VersionEntry was appended.
type ChangeType string

const (
	ChangeCreated      ChangeType = "created"
	ChangeUpdated      ChangeType = "updated"
	ChangeUnregistered ChangeType = "unregistered"
	ChangeRolledBack   ChangeType = "rolled_back"
)

// VersionEntry is one immutable point in a rule's version history.
type VersionEntry struct {
	Version    int          `json:"version"`
	ChangeType ChangeType   `json:"changeType"`
	Snapshot   dsl.RuleSpec `json:"snapshot"`
	At         time.Time    `json:"at"`
}

type log struct {
	Entries []VersionEntry `json:"entries"`
}

// Store is the engine-optional version store (spec §6's getVersionStore).
type Store struct {
	adapter storage.Adapter
	clock   func() time.Time
	mu      sync.Mutex // serializes read-modify-write against the adapter per key
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the store's source of VersionEntry.At, for
// deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// NewStore creates a Store persisting through adapter.
func NewStore(adapter storage.Adapter, opts ...Option) *Store {
	s := &Store{adapter: adapter, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(ruleID string) string { return "rule-version:" + ruleID }

func (s *Store) load(ruleID string) (log, error) {
	payload, ok, err := s.adapter.Load(key(ruleID))
	if err != nil {
		return log{}, err
	}
	if !ok {
		return log{}, nil
	}
	// payload.State comes back in whatever shape the adapter chose: the
	// memory adapter hands back the exact log value Save was given, while
	// the file adapter's replay-from-JSON path yields a generic
	// map[string]interface{}. A marshal/unmarshal round trip normalizes
	// either shape into a log without the store caring which adapter it's
	// talking to.
	if l, ok := payload.State.(log); ok {
		return l, nil
	}
	data, err := json.Marshal(payload.State)
	if err != nil {
		return log{}, fmt.Errorf("versionstore: re-encoding snapshot state for %s: %w", ruleID, err)
	}
	var l log
	if err := json.Unmarshal(data, &l); err != nil {
		return log{}, fmt.Errorf("versionstore: decoding snapshot state for %s: %w", ruleID, err)
	}
	return l, nil
}

func (s *Store) save(ruleID string, l log) error {
	return s.adapter.Save(key(ruleID), storage.Payload{
		State:    l,
		Metadata: storage.Metadata{PersistedAt: s.clock(), SchemaVersion: 1},
	})
}

// Record appends a new VersionEntry for ruleID and returns it. Version
// numbers are 1-based and monotonically increasing per rule.
func (s *Store) Record(ruleID string, changeType ChangeType, snapshot dsl.RuleSpec) (VersionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load(ruleID)
	if err != nil {
		return VersionEntry{}, err
	}

	entry := VersionEntry{
		Version:    len(l.Entries) + 1,
		ChangeType: changeType,
		Snapshot:   snapshot,
		At:         s.clock(),
	}
	l.Entries = append(l.Entries, entry)

	if err := s.save(ruleID, l); err != nil {
		return VersionEntry{}, err
	}
	return entry, nil
}

// History returns every recorded version of ruleID, oldest first.
func (s *Store) History(ruleID string) ([]VersionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, err := s.load(ruleID)
	if err != nil {
		return nil, err
	}
	return l.Entries, nil
}

// Rollback looks up the snapshot recorded at version and appends a new
// ChangeRolledBack entry carrying that snapshot — history is never
// truncated, so a rollback-of-a-rollback is always possible. The caller
// is responsible for applying the returned snapshot back to a running
// RuleRegistrar.
func (s *Store) Rollback(ruleID string, version int) (dsl.RuleSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.load(ruleID)
	if err != nil {
		return dsl.RuleSpec{}, err
	}
	var target *VersionEntry
	for i := range l.Entries {
		if l.Entries[i].Version == version {
			target = &l.Entries[i]
			break
		}
	}
	if target == nil {
		return dsl.RuleSpec{}, fmt.Errorf("versionstore: rule %s has no version %d", ruleID, version)
	}

	entry := VersionEntry{
		Version:    len(l.Entries) + 1,
		ChangeType: ChangeRolledBack,
		Snapshot:   target.Snapshot,
		At:         s.clock(),
	}
	l.Entries = append(l.Entries, entry)
	if err := s.save(ruleID, l); err != nil {
		return dsl.RuleSpec{}, err
	}
	return entry.Snapshot, nil
}

// SnapshotLookup resolves the current authorable spec for a rule ID, so
// that Subscribe's event handlers — which only see the engine's narrow
// id/name/version event payload (§6) — can recover the full rule
// definition to archive. Callers typically back this with the rule map
// internal/config keeps after a Load/ReconcileOnReload pass.
type SnapshotLookup func(ruleID string) (dsl.RuleSpec, bool)

// Subscribe wires store to the engine's rule.registered/rule.updated/
// rule.unregistered topics, exactly the "plain subscriber, nothing
// special-cased inside pkg/engine" pattern used for audit and the
// transports.
func Subscribe(b *bus.Bus, store *Store, lookup SnapshotLookup) (unsubscribe func()) {
	record := func(changeType ChangeType) bus.Handler {
		return func(evt bus.Event) error {
			id, ok := evt.Data.Field("id")
			if !ok {
				return nil
			}
			ruleID, ok := id.Str()
			if !ok || ruleID == "" {
				return nil
			}
			spec, ok := lookup(ruleID)
			if !ok {
				spec = dsl.RuleSpec{ID: ruleID}
			}
			_, err := store.Record(ruleID, changeType, spec)
			return err
		}
	}

	unsubRegistered := b.Subscribe(engine.TopicRuleRegistered, record(ChangeCreated))
	unsubUpdated := b.Subscribe(engine.TopicRuleUpdated, record(ChangeUpdated))
	unsubUnregistered := b.Subscribe(engine.TopicRuleUnregistered, record(ChangeUnregistered))

	return func() {
		unsubRegistered()
		unsubUpdated()
		unsubUnregistered()
	}
}
