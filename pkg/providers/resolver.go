package providers

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"assistant/pkg/logger"
)

// ProfileSource looks up provider profiles.
type ProfileSource interface {
	Profile(name string) (Profile, bool)
	DefaultProfile() string
}

type cachedProvider struct {
	profile  Profile
	provider Provider
}

// Resolver picks the provider of a session.
type Resolver struct {
	profiles ProfileSource
	registry *Registry
	log      *logger.Logger

	mu    sync.Mutex
	cache map[string]cachedProvider
}

// NewResolver creates a resolver.
func NewResolver(profiles ProfileSource, registry *Registry, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		profiles: profiles,
		registry: registry,
		log:      log,
		cache:    make(map[string]cachedProvider),
	}
}

// Resolve returns the provider named providerID, or the default provider
// when providerID is empty. Providers are rebuilt when their profile
// changes.
func (r *Resolver) Resolve(providerID string) (Provider, error) {
	name := providerID
	if name == "" {
		name = r.profiles.DefaultProfile()
	}
	profile, ok := r.profiles.Profile(name)
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[name]; ok && c.profile == profile {
		return c.provider, nil
	}

	p, err := r.registry.New(profile)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", name, err)
	}
	r.cache[name] = cachedProvider{profile: profile, provider: p}
	r.log.Debug("Provider ready", zap.String("provider", name), zap.String("kind", profile.Kind), zap.String("model", profile.Model))
	return p, nil
}
