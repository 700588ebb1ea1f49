// Package lookup implements external data lookups (§4.5): a named resolver
// registry, single-flight de-duplication of concurrent identical requests
// via golang.org/x/sync/singleflight, and a size-bounded TTL cache via
// hashicorp/golang-lru, grounded on the teacher's retry/backoff dispatcher
// (internal/notify/retry.go) for the call-a-flaky-external-thing shape.
package lookup

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/noexlabs/rulesengine/pkg/value"
)

// Resolver fetches the data backing one named lookup. params has already
// been resolved against the evaluation context (no Refs remain).
type Resolver interface {
	Resolve(ctx context.Context, name string, params value.Value) (value.Value, error)
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(ctx context.Context, name string, params value.Value) (value.Value, error)

func (f ResolverFunc) Resolve(ctx context.Context, name string, params value.Value) (value.Value, error) {
	return f(ctx, name, params)
}

// Requirement is a single DataRequirement (§3): a named lookup backed by a
// service.method call, its (already-resolved, at Get-time) params, and for
// how long its result may be cached. TTL of zero uses the Manager's
// default. Service/Method/OnError are carried through from the rule's
// declaration so the engine can lazily register a resolver the first time a
// given lookup name is seen (§4.5).
type Requirement struct {
	Name    string
	Service string
	Method  string
	Params  value.Value
	TTL     time.Duration
	OnError string // "skip" or "fail" (§3); "" defaults to "fail"
}

type cacheEntry struct {
	value     value.Value
	expiresAt time.Time
}

// Manager resolves DataRequirements, deduplicating concurrent identical
// requests and caching results for their TTL.
type Manager struct {
	mu         sync.RWMutex
	resolvers  map[string]Resolver
	cache      *lru.Cache[string, cacheEntry]
	group      singleflight.Group
	clock      func() time.Time
	defaultTTL time.Duration
	onCache    func(hit bool)
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithCacheSize sets the maximum number of distinct (name, params) entries
// held in cache. Defaults to 1024.
func WithCacheSize(n int) Option {
	return func(m *Manager) { m.cache, _ = lru.New[string, cacheEntry](n) }
}

// WithDefaultTTL sets the cache lifetime used when a Requirement does not
// specify its own TTL. Defaults to 30s.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = d }
}

// WithClock overrides the Manager's source of time, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.clock = now }
}

// WithOnCacheEvent registers a callback invoked after every Get with
// whether the result was served from cache, feeding the engine's
// lookup-cache-hit-ratio stat.
func WithOnCacheEvent(fn func(hit bool)) Option {
	return func(m *Manager) { m.onCache = fn }
}

// New creates a Manager with no registered resolvers.
func New(opts ...Option) *Manager {
	m := &Manager{
		resolvers:  make(map[string]Resolver),
		clock:      time.Now,
		defaultTTL: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache, _ = lru.New[string, cacheEntry](1024)
	}
	return m
}

// Register associates name with the resolver that serves it. Registering
// the same name twice replaces the previous resolver.
func (m *Manager) Register(name string, r Resolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[name] = r
}

// Get resolves req, serving a cached result when one is fresh, collapsing
// concurrent identical requests into a single underlying call, and caching
// the result for req.TTL (or the Manager's default).
func (m *Manager) Get(ctx context.Context, req Requirement) (value.Value, error) {
	key := cacheKey(req.Name, req.Params)

	if v, ok := m.cacheGet(key); ok {
		if m.onCache != nil {
			m.onCache(true)
		}
		return v, nil
	}
	if m.onCache != nil {
		m.onCache(false)
	}

	m.mu.RLock()
	resolver, ok := m.resolvers[req.Name]
	m.mu.RUnlock()
	if !ok {
		return value.Null(), fmt.Errorf("lookup: no resolver registered for %q", req.Name)
	}

	result, err, _ := m.group.Do(key, func() (any, error) {
		return resolver.Resolve(ctx, req.Name, req.Params)
	})
	if err != nil {
		return value.Null(), err
	}
	v := result.(value.Value)

	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	m.cache.Add(key, cacheEntry{value: v, expiresAt: m.clock().Add(ttl)})
	return v, nil
}

func (m *Manager) cacheGet(key string) (value.Value, bool) {
	entry, ok := m.cache.Get(key)
	if !ok {
		return value.Null(), false
	}
	if m.clock().After(entry.expiresAt) {
		m.cache.Remove(key)
		return value.Null(), false
	}
	return entry.value, true
}

func cacheKey(name string, params value.Value) string {
	return name + "\x00" + params.AsString()
}
