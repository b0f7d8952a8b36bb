package messages

import (
	"go.uber.org/fx"

	"assistant/pkg/dedup"
)

// Module provides message storage.
var Module = fx.Module("messages",
	fx.Provide(
		func() *dedup.Deduplicator {
			return dedup.New(dedup.WithRule("MEMORY_LIST", dedup.PrefixRule))
		},
		New,
	),
)
