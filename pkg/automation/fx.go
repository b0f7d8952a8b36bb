package automation

import (
	"context"

	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/session"
	"assistant/pkg/state"
)

// Module is the fx module for automations.
var Module = fx.Module("automation",
	fx.Provide(ProvideRegistry),
	fx.Provide(func(r *Registry) controller.AutomationLookup { return r }),
	fx.Provide(ProvideScheduler),
)

// ProvideRegistry creates the registry for the configured definitions file.
func ProvideRegistry(cfg *config.Config, log *logger.Logger) *Registry {
	return NewRegistry(log.Named("automation"), cfg.Automations.File)
}

// ProvideScheduler creates the scheduler. It only runs when automations
// are enabled; Trigger works either way.
func ProvideScheduler(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *logger.Logger,
	registry *Registry,
	store session.Store,
	msgs *messages.Storage,
	ctrl *controller.Controller,
	kv state.KV,
) *Scheduler {
	s := NewScheduler(log.Named("automation"), registry, store, msgs, ctrl, kv)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.Automations.Enabled {
				return registry.Load()
			}
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			if !cfg.Automations.Enabled {
				return nil
			}
			return s.Stop()
		},
	})

	return s
}
