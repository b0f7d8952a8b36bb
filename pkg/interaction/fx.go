package interaction

import "go.uber.org/fx"

// Module provides the interaction manager.
var Module = fx.Module("interaction",
	fx.Provide(NewManager),
)
