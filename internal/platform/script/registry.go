package script

import (
	"fmt"
	"sort"

	"github.com/dop251/goja"
)

// Registry maps handler names to callables exported by an app script.
type Registry struct {
	handlers map[string]goja.Callable
	values   map[string]goja.Value
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]goja.Callable),
		values:   make(map[string]goja.Value),
	}
}

// Has reports whether a handler name is registered. It satisfies
// manifest.HandlerResolver.
func (r *Registry) Has(name string) bool {
	_, ok := r.handlers[name]
	return ok
}

// Get returns the callable bound to a handler name.
func (r *Registry) Get(name string) (goja.Callable, bool) {
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns all registered handler names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) bind(name string, value goja.Value) error {
	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil // non-function exports are ignored
	}
	if existing, seen := r.values[name]; seen {
		if !existing.StrictEquals(value) {
			return fmt.Errorf("handler %q exported twice with different functions", name)
		}
		return nil
	}
	r.values[name] = value
	r.handlers[name] = fn
	return nil
}

// BuildRegistry extracts the handler registry from an evaluated script.
// Named exports come from the exports object; a default-export object
// contributes its function members under their own keys. Binding two
// distinct functions to one name is a hard error.
func BuildRegistry(vm *goja.Runtime, exports *goja.Object) (*Registry, error) {
	registry := NewRegistry()
	if exports == nil {
		return registry, nil
	}

	var defaultExport *goja.Object
	for _, key := range exports.Keys() {
		value := exports.Get(key)
		if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
			continue
		}
		if key == "default" {
			if obj, ok := value.(*goja.Object); ok {
				defaultExport = obj
				continue
			}
		}
		if err := registry.bind(key, value); err != nil {
			return nil, err
		}
	}

	if defaultExport != nil {
		for _, key := range defaultExport.Keys() {
			value := defaultExport.Get(key)
			if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
				continue
			}
			if err := registry.bind(key, value); err != nil {
				return nil, err
			}
		}
	}

	return registry, nil
}
