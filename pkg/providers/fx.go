package providers

import (
	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/logger"
)

// Module provides the provider registry and resolver for fx.
var Module = fx.Module("providers",
	fx.Provide(NewRegistry),
	fx.Provide(func(cfg *config.Config, registry *Registry, log *logger.Logger) *Resolver {
		return NewResolver(configProfiles{cfg}, registry, log)
	}),
)

// configProfiles reads profiles from the live configuration.
type configProfiles struct {
	cfg *config.Config
}

func (c configProfiles) Profile(name string) (Profile, bool) {
	p, ok := c.cfg.Provider(name)
	if !ok {
		return Profile{}, false
	}
	return Profile{
		Name:        p.Name,
		Kind:        p.Kind,
		APIKey:      p.APIKey,
		APIBase:     p.APIBase,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Proxy:       p.Proxy,
		Timeout:     p.Timeout,
	}, true
}

func (c configProfiles) DefaultProfile() string {
	return c.cfg.AISettings().DefaultProvider
}
