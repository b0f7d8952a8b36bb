package commands

import (
	"go.uber.org/fx"

	"assistant/pkg/logger"
	"assistant/pkg/state"
)

// Module provides the command registry as the dispatcher.
var Module = fx.Module("commands",
	fx.Provide(
		NewRegistry,
		func(r *Registry) Dispatcher { return r },
	),
	fx.Invoke(registerBuiltins),
)

func registerBuiltins(registry *Registry, kv state.KV, log *logger.Logger) error {
	if err := RegisterBuiltinCommands(registry, kv); err != nil {
		return err
	}
	log.Debug("Registered builtin commands")
	return nil
}
