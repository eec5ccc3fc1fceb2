package dispatch

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/wippyai/multicall/errors"
)

// Registry maps names to callables. It is safe for concurrent use and
// introspects string handles.
type Registry struct {
	m *xsync.MapOf[string, Callable]
}

var _ Introspector = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: xsync.NewMapOf[Callable]()}
}

// Register stores c under name, replacing any previous entry.
func (r *Registry) Register(name string, c Callable) {
	r.m.Store(name, c)
}

// Lookup returns the callable registered under name.
func (r *Registry) Lookup(name string) (Callable, bool) {
	return r.m.Load(name)
}

// Unregister removes name.
func (r *Registry) Unregister(name string) {
	r.m.Delete(name)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.m.Size())
	r.m.Range(func(name string, _ Callable) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Len returns the number of registered callables.
func (r *Registry) Len() int {
	return r.m.Size()
}

// Introspect resolves a name.
func (r *Registry) Introspect(handle any) (Callable, error) {
	name, ok := handle.(string)
	if !ok {
		return Callable{}, errors.New(errors.PhaseAdmit, errors.KindInvalidInput).
			Value(handle).
			Detail("registry handles are names, got %T", handle).
			Build()
	}
	c, ok := r.m.Load(name)
	if !ok {
		return Callable{}, errors.NotFound(errors.PhaseAdmit, "callable", name)
	}
	return c, nil
}
