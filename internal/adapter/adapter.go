// Package adapter defines the extraction strategy boundary: a closed set
// of adapters behind one capability interface, resolved through an
// explicit registry keyed by the source's adapter selector.
package adapter

import (
	"context"
	"fmt"
	"sort"

	"github.com/ballardtrucks/roundup/internal/errclass"
	"github.com/ballardtrucks/roundup/internal/schedule"
)

// Adapter extracts schedule events for a single source. Implementations
// may return any error; the coordinator relies only on its
// errclass-recognizable shape.
type Adapter interface {
	Extract(ctx context.Context, src schedule.Source) ([]schedule.Event, error)
}

// Resolver maps an adapter selector to an Adapter.
type Resolver interface {
	Resolve(selector string) (Adapter, error)
}

// Registry is the default Resolver. The zero value is usable.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from selector/adapter pairs.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds selector to a. Later registrations replace earlier ones.
func (r *Registry) Register(selector string, a Adapter) {
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	r.adapters[selector] = a
}

// Resolve returns the adapter for selector. An unknown selector is a
// source configuration defect and classifies as Fatal.
func (r *Registry) Resolve(selector string) (Adapter, error) {
	a, ok := r.adapters[selector]
	if !ok {
		return nil, &errclass.ConfigError{
			Reason: fmt.Sprintf("no adapter registered for selector %q", selector),
		}
	}
	return a, nil
}

// Selectors lists the registered selectors in stable order.
func (r *Registry) Selectors() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Func adapts a plain function to the Adapter interface; used by tests
// and for small inline strategies.
type Func func(ctx context.Context, src schedule.Source) ([]schedule.Event, error)

// Extract implements Adapter.
func (f Func) Extract(ctx context.Context, src schedule.Source) ([]schedule.Event, error) {
	return f(ctx, src)
}
