package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a provider for a profile.
type Factory func(p Profile) (Provider, error)

// Registry maps profile kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in kinds.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("anthropic", NewClaude)
	r.Register("claude", NewClaude)
	r.Register("openai", NewOpenAI)
	r.Register("generic", NewOpenAI)
	return r
}

// Register registers a factory under kind, replacing any previous one.
func (r *Registry) Register(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
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

// New creates a provider for p.
func (r *Registry) New(p Profile) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[p.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider kind: %s", p.Kind)
	}
	return factory(p)
}
