// Package services implements the external service registry consumed by
// call_service actions and data lookups (spec §6: "a mapping from
// service name to an object exposing methods invokable as
// method(...args) → value"). Registry is the in-memory mapping;
// HTTPService (http.go) is an Adapter that proxies a registered service
// name to a remote HTTP endpoint, grounded on the teacher's
// internal/health.Checker HTTPProber abstraction for testable outbound
// calls.
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/noexlabs/rulesengine/pkg/value"
)

// Handler invokes one method of a registered service.
type Handler func(ctx context.Context, args value.Value) (value.Value, error)

// Adapter is a named external service exposing one or more methods.
// Satisfied by a map-backed in-process service or an HTTPService proxy.
type Adapter interface {
	Call(ctx context.Context, method string, args value.Value) (value.Value, error)
}

// Registry maps service names to Adapters, and itself satisfies
// action.ServiceCaller (pkg/action/executor.go) and provides the
// building block for pkg/lookup.Resolver adapters (resolver.go).
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register associates name with adapter, replacing any previous
// registration under the same name.
func (r *Registry) Register(name string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

// Unregister removes a previously registered service.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, name)
}

// Names returns the currently registered service names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// Call invokes method on the named service with args, satisfying
// pkg/action.ServiceCaller.
func (r *Registry) Call(ctx context.Context, service, method string, args value.Value) (value.Value, error) {
	r.mu.RLock()
	adapter, ok := r.adapters[service]
	r.mu.RUnlock()
	if !ok {
		return value.Null(), fmt.Errorf("services: no service registered for %q", service)
	}
	return adapter.Call(ctx, method, args)
}

// MapAdapter is an in-process Adapter backed by a static map of method
// handlers, useful for tests and services implemented directly in Go.
type MapAdapter map[string]Handler

// Call invokes the handler registered for method.
func (m MapAdapter) Call(ctx context.Context, method string, args value.Value) (value.Value, error) {
	handler, ok := m[method]
	if !ok {
		return value.Null(), fmt.Errorf("services: no method %q on this service", method)
	}
	return handler(ctx, args)
}

var _ Adapter = MapAdapter(nil)
