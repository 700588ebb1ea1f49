// Package audit implements the engine's optional audit log (spec §6):
// every internally emitted event, persisted bucketed by day, with a
// category tag derived from the topic. It persists through a
// storage.Adapter with adapter-local keys ("audit-{yyyy-mm-dd}", per
// spec §6's persisted-layout table), the same append-and-replay shape as
// internal/versionstore and, beneath that, the teacher's
// internal/history.FileWriter: one growing log per bucket. Old buckets
// are kept; this package has no retention-based pruning.
package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/noexlabs/rulesengine/internal/storage"
	"github.com/noexlabs/rulesengine/pkg/bus"
)

// Category buckets a topic for filtering, mirroring spec §6's "category
// tag used by the audit log".
type Category string

const (
	CategoryFact   Category = "fact"
	CategoryRule   Category = "rule"
	CategoryTimer  Category = "timer"
	CategoryEngine Category = "engine"
	CategoryOther  Category = "other"
)

func categoryFor(topic string) Category {
	switch {
	case strings.HasPrefix(topic, "fact."):
		return CategoryFact
	case strings.HasPrefix(topic, "rule."):
		return CategoryRule
	case strings.HasPrefix(topic, "timer."):
		return CategoryTimer
	case strings.HasPrefix(topic, "engine."):
		return CategoryEngine
	default:
		return CategoryOther
	}
}

// Record is one archived event.
type Record struct {
	EventID       string    `json:"eventId"`
	Topic         string    `json:"topic"`
	Category      Category  `json:"category"`
	Data          any       `json:"data,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
}

type bucket struct {
	Records []Record `json:"records"`
}

// Log is the engine-optional audit log (spec §6's getAuditLog).
type Log struct {
	adapter storage.Adapter
	clock   func() time.Time
	mu      sync.Mutex
}

// Option configures a Log at construction time.
type Option func(*Log)

// WithClock overrides the log's source of the current day/time, for
// deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.clock = now }
}

// NewLog creates a Log persisting through adapter.
func NewLog(adapter storage.Adapter, opts ...Option) *Log {
	l := &Log{adapter: adapter, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func bucketKey(day time.Time) string {
	return "audit-" + day.UTC().Format("2006-01-02")
}

func (l *Log) loadBucket(key string) (bucket, error) {
	payload, ok, err := l.adapter.Load(key)
	if err != nil {
		return bucket{}, err
	}
	if !ok {
		return bucket{}, nil
	}
	if b, ok := payload.State.(bucket); ok {
		return b, nil
	}
	data, err := json.Marshal(payload.State)
	if err != nil {
		return bucket{}, fmt.Errorf("audit: re-encoding bucket %s: %w", key, err)
	}
	var b bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return bucket{}, fmt.Errorf("audit: decoding bucket %s: %w", key, err)
	}
	return b, nil
}

// Append records evt in the bucket for the UTC day of evt.Timestamp.
func (l *Log) Append(evt bus.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey(evt.Timestamp)
	b, err := l.loadBucket(key)
	if err != nil {
		return err
	}

	b.Records = append(b.Records, Record{
		EventID:       evt.ID,
		Topic:         evt.Topic,
		Category:      categoryFor(evt.Topic),
		Data:          evt.Data.Interface(),
		Timestamp:     evt.Timestamp,
		Source:        evt.Source,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
	})

	return l.adapter.Save(key, storage.Payload{
		State:    b,
		Metadata: storage.Metadata{PersistedAt: l.clock(), SchemaVersion: 1},
	})
}

// Query returns every record archived for the given day (UTC), oldest
// first. An empty/absent bucket returns an empty slice, not an error.
func (l *Log) Query(day time.Time) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := l.loadBucket(bucketKey(day))
	if err != nil {
		return nil, err
	}
	return b.Records, nil
}

// Days lists every bucketed day with at least one archived record,
// oldest first.
func (l *Log) Days() ([]string, error) {
	keys, err := l.adapter.ListKeys("audit-")
	if err != nil {
		return nil, err
	}
	days := make([]string, 0, len(keys))
	for _, k := range keys {
		days = append(days, strings.TrimPrefix(k, "audit-"))
	}
	sort.Strings(days)
	return days, nil
}

// Subscribe wires l to archive every event the bus carries, regardless
// of topic — the audit log is the one subscriber meant to see
// everything, matching spec §6's "each [event] carries ... a category
// tag used by the audit log."
func Subscribe(b *bus.Bus, l *Log, onError func(evt bus.Event, err error)) (unsubscribe func()) {
	return b.Subscribe("*", func(evt bus.Event) error {
		if err := l.Append(evt); err != nil {
			if onError != nil {
				onError(evt, err)
			}
			return err
		}
		return nil
	})
}
