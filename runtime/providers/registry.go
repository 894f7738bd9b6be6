package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ProviderFactory is a function that creates a provider from a spec
type ProviderFactory func(spec ProviderSpec) (Provider, error)

var (
	factoriesMu       sync.RWMutex
	providerFactories = make(map[string]ProviderFactory)
)

// RegisterProviderFactory registers a factory function for a provider type
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	providerFactories[providerType] = factory
}

// RegisteredTypes lists the provider types available for CreateProviderFromSpec.
func RegisteredTypes() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(providerFactories))
	for t := range providerFactories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ProviderSpec holds the configuration needed to create a provider instance
type ProviderSpec struct {
	ID       string           `json:"id,omitempty" yaml:"id,omitempty"`
	Type     string           `json:"type" yaml:"type"`
	Model    string           `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL  string           `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey   string           `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Defaults ProviderDefaults `json:"defaults,omitempty" yaml:"defaults,omitempty"`

	// AdditionalConfig holds provider-specific settings, e.g. the mock
	// provider's script.
	AdditionalConfig map[string]interface{} `json:"additional_config,omitempty" yaml:"additional_config,omitempty"`
}

// CreateProviderFromSpec creates a provider implementation from a spec.
// Returns an error if the provider type is unsupported.
func CreateProviderFromSpec(spec ProviderSpec) (Provider, error) {
	factoriesMu.RLock()
	factory, exists := providerFactories[spec.Type]
	factoriesMu.RUnlock()
	if !exists {
		return nil, &UnsupportedProviderError{ProviderType: spec.Type}
	}
	if spec.ID == "" {
		spec.ID = spec.Type
	}
	return factory(spec)
}

// UnsupportedProviderError is returned when a provider type is not recognized
type UnsupportedProviderError struct {
	ProviderType string
}

func (e *UnsupportedProviderError) Error() string {
	return "unsupported provider type: " + e.ProviderType
}

// Registry manages named provider instances, e.g. the agent model and a
// separate judge model.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider to the registry
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, exists := r.providers[id]
	return provider, exists
}

// List returns all registered provider IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes all registered providers and joins their errors.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for id, provider := range r.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
