package round

import (
	"go.uber.org/fx"

	"assistant/pkg/bus"
	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/network"
	"assistant/pkg/prompt"
	"assistant/pkg/providers"
	"assistant/pkg/session"
	"assistant/pkg/validation"
)

// Module is the fx module for the round executor.
var Module = fx.Module("round",
	fx.Provide(ProvideExecutor),
	fx.Invoke(Wire),
)

// ExecutorParams are the fx inputs of the executor.
type ExecutorParams struct {
	fx.In

	Config       *config.Config
	Controller   *controller.Controller
	Store        session.Store
	Messages     *messages.Storage
	Prompts      *prompt.Builder
	Providers    *providers.Resolver
	Validator    *validation.Resolver
	Interactions *interaction.Manager
	Network      network.Checker
	Events       bus.Publisher
	Logger       *logger.Logger
}

// ProvideExecutor creates the executor for the controller's active session.
func ProvideExecutor(p ExecutorParams) *Executor {
	return New(p.Controller, Deps{
		Store:        p.Store,
		Messages:     p.Messages,
		Prompts:      p.Prompts,
		Providers:    p.Providers,
		Validator:    p.Validator,
		Interactions: p.Interactions,
		Network:      p.Network,
		Events:       p.Events,
		Settings:     p.Config.AISettings,
	}, p.Logger.Named("round"))
}

// Wire hands the executor to the controller and cancels pending user
// interactions of a session when it stops being active.
func Wire(ctrl *controller.Controller, exec *Executor, interactions *interaction.Manager) {
	ctrl.SetRoundRunner(exec)
	ctrl.OnSessionClosed(func(sessionID string) {
		interactions.CancelAll(sessionID)
	})
}
