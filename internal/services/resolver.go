package services

import (
	"context"

	"github.com/noexlabs/rulesengine/pkg/lookup"
	"github.com/noexlabs/rulesengine/pkg/value"
)

// Resolver adapts a Registry's service.method call into a
// lookup.Resolver, bridging the external service registry (spec §6)
// into pkg/lookup's data-requirement resolution (§4.5). The lookup name
// passed to the returned func is ignored; only service and method select
// the call. The engine does not use this helper: its wireLookupResolvers
// registers an equivalent closure over its own service caller.
func NewResolver(registry *Registry, service, method string) lookup.ResolverFunc {
	return func(ctx context.Context, _ string, params value.Value) (value.Value, error) {
		return registry.Call(ctx, service, method, params)
	}
}
