package controller

import (
	"context"
	"time"

	"go.uber.org/fx"

	"assistant/pkg/bus"
	"assistant/pkg/config"
	"assistant/pkg/logger"
	"assistant/pkg/session"
)

// Module is the fx module for the session controller.
var Module = fx.Module("controller",
	fx.Provide(ProvideController),
)

// ProvideController creates the controller and restores the persisted
// active session on start.
func ProvideController(
	lc fx.Lifecycle,
	cfg *config.Config,
	store session.Store,
	events bus.Publisher,
	automations AutomationLookup,
	log *logger.Logger,
) *Controller {
	c := New(store, events, log.Named("controller"),
		WithAutomations(automations),
		WithEvictionThreshold(func() time.Duration {
			ai := cfg.AISettings()
			return ai.EvictionThreshold()
		}),
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return c.Restore(ctx)
		},
		OnStop: func(ctx context.Context) error {
			c.Close()
			return nil
		},
	})

	return c
}
