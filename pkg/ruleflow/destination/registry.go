package destination

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Adapter delivers data to one external system.
type Adapter interface {
	Run(ctx context.Context, d Delivery) error
}

// ProfileScoped is implemented by adapters that deliver profile data.
// Only profile-scoped adapters have their condition evaluated and are run
// by Manager.Send.
type ProfileScoped interface {
	ProfileScoped() bool
}

// Factory builds an adapter for one destination.
type Factory func(debug bool, resource *Resource, dest *Destination) (Adapter, error)

// ParseAdapterPath splits "namespace.Name" at its last dot.
func ParseAdapterPath(path string) (namespace, name string, err error) {
	i := strings.LastIndex(path, ".")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedPath, path)
	}
	return path[:i], path[i+1:], nil
}

// Registry maps adapter paths to factories. It is filled at startup and
// read on every Send; it is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for path.
func (r *Registry) Register(path string, f Factory) error {
	if _, _, err := ParseAdapterPath(path); err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("register %q: nil factory", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[path] = f
	return nil
}

// MustRegister is Register that panics on error. Use it for static wiring.
func (r *Registry) MustRegister(path string, f Factory) {
	if err := r.Register(path, f); err != nil {
		panic(err)
	}
}

// Resolve returns the factory for path. Failures are AdapterResolutionError.
func (r *Registry) Resolve(path string) (Factory, error) {
	if _, _, err := ParseAdapterPath(path); err != nil {
		return nil, &AdapterResolutionError{Path: path, Err: err}
	}
	r.mu.RLock()
	f, ok := r.factories[path]
	r.mu.RUnlock()
	if !ok {
		return nil, &AdapterResolutionError{Path: path, Err: ErrUnknownAdapter}
	}
	return f, nil
}

// Paths returns the registered paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.factories))
	for p := range r.factories {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
