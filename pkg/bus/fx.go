package bus

import (
	"context"

	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/logger"
)

// Module is the fx module for the event bus.
var Module = fx.Module("bus",
	fx.Provide(
		NewEventBus,
		func(b Bus) Publisher { return b },
	),
)

// NewEventBus creates the configured bus and ties it to the app lifecycle.
func NewEventBus(lc fx.Lifecycle, log *logger.Logger, cfg *config.Config) (Bus, error) {
	busConfig := &Config{
		Type:          BusType(cfg.Bus.Type),
		BufferSize:    cfg.Bus.BufferSize,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Bus.Prefix,
	}

	b, err := NewBus(log, busConfig)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return b.Start()
		},
		OnStop: func(ctx context.Context) error {
			return b.Stop()
		},
	})

	return b, nil
}
