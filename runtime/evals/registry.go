package evals

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// KindFunction is the kind of scorers backed by a registered Go function.
const KindFunction = "function"

var (
	// ErrUnknownKind is returned when no factory is registered for a kind.
	ErrUnknownKind = errors.New("unknown scorer kind")

	// ErrUnknownFunction is returned when a function scorer names a function
	// that was never registered.
	ErrUnknownFunction = errors.New("unknown scorer function")

	// ErrKindRequired is returned for specs without a kind.
	ErrKindRequired = errors.New("scorer kind is required")
)

// Factory builds a scorer from its spec. Factories validate parameters
// eagerly so a misconfigured scorer fails at resolution, not mid-run.
type Factory func(spec ScorerSpec) (Scorer, error)

var (
	defaultsMu sync.RWMutex
	defaults   = make(map[string]Factory)
)

// RegisterDefault adds a factory to the set every NewRegistry starts with.
// Handler packages call it from init.
func RegisterDefault(kind string, f Factory) {
	defaultsMu.Lock()
	defer defaultsMu.Unlock()
	defaults[kind] = f
}

// Registry maps scorer kinds to factories. Populate it before runs start;
// Resolve is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	functions map[string]ScorerFunc
}

// NewEmptyRegistry creates a registry that only knows the function kind.
// Use this in tests to control exactly which kinds are available.
func NewEmptyRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		functions: make(map[string]ScorerFunc),
	}
	r.factories[KindFunction] = r.resolveFunction
	return r
}

// NewRegistry creates a registry pre-populated with every default factory.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	defaultsMu.RLock()
	defer defaultsMu.RUnlock()
	for kind, f := range defaults {
		r.factories[kind] = f
	}
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// RegisterFunction makes fn available to specs of kind "function" whose
// parameters name it.
func (r *Registry) RegisterFunction(name string, fn ScorerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

// Has reports whether kind can be resolved.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Functions returns the registered function names, sorted.
func (r *Registry) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for n := range r.functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve builds the scorer described by spec.
func (r *Registry) Resolve(spec ScorerSpec) (Scorer, error) {
	if spec.Kind == "" {
		return nil, ErrKindRequired
	}
	r.mu.RLock()
	f, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}
	s, err := f(spec)
	if err != nil {
		return nil, fmt.Errorf("scorer %s: %w", spec.Metric(), err)
	}
	return s, nil
}

// resolveFunction looks the function up by the "function" parameter,
// falling back to the ScorerSpec name.
func (r *Registry) resolveFunction(spec ScorerSpec) (Scorer, error) {
	name, _ := spec.Params["function"].(string)
	if name == "" {
		name = spec.Name
	}
	r.mu.RLock()
	fn, ok := r.functions[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	return fn, nil
}
