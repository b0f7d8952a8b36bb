package validation

import (
	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/session"
)

// Module provides the validation resolver for fx dependency injection.
var Module = fx.Module("validation",
	fx.Provide(ProvideResolver),
)

// ProvideResolver creates a resolver reading the live validation section.
func ProvideResolver(cfg *config.Config, store session.Store, msgs *messages.Storage, log *logger.Logger) *Resolver {
	return NewResolver(func() Config {
		v := cfg.ValidationSettings()
		return Config{
			Mode:           Mode(v.Mode),
			AlwaysValidate: v.AlwaysValidate,
			Trusted:        v.Trusted,
		}
	}, store, msgs, log)
}
