// Package memory implements an in-process storage.Adapter backed by a
// plain map. It is the reference adapter used in tests and as the
// default when no storage section is configured (spec §6).
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/noexlabs/rulesengine/internal/storage"
)

// Adapter is a map-backed storage.Adapter. The zero value is not usable;
// construct with New.
type Adapter struct {
	mu   sync.RWMutex
	data map[string]storage.Payload
}

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{data: make(map[string]storage.Payload)}
}

func (a *Adapter) Save(key string, payload storage.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = payload
	return nil
}

func (a *Adapter) Load(key string) (storage.Payload, bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.data[key]
	return p, ok, nil
}

func (a *Adapter) Delete(key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.data[key]
	delete(a.data, key)
	return ok, nil
}

func (a *Adapter) Exists(key string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.data[key]
	return ok, nil
}

func (a *Adapter) ListKeys(prefix string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var keys []string
	for k := range a.data {
		if prefix == "" || strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op: there is no underlying resource to release.
func (a *Adapter) Close() error { return nil }

var _ storage.Adapter = (*Adapter)(nil)
