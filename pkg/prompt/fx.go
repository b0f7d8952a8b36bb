package prompt

import (
	"go.uber.org/fx"

	"assistant/pkg/session"
)

// Module provides the prompt builder.
var Module = fx.Module("prompt",
	fx.Provide(func(store session.Store) *Builder {
		return NewBuilder(store)
	}),
)
