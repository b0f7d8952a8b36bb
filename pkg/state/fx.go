package state

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"assistant/pkg/config"
	"assistant/pkg/logger"
)

// Module is the fx module for state management.
var Module = fx.Module("state",
	fx.Provide(NewKVStore),
)

// NewKVStore creates the configured KV store for fx.
func NewKVStore(lc fx.Lifecycle, log *logger.Logger, cfg *config.Config) (KV, error) {
	store, err := NewKV(log, &Config{
		Backend:       BackendType(cfg.State.Backend),
		FilePath:      cfg.State.FilePath,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.State.Prefix,
	})
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Debug("State store initialized", zap.String("backend", cfg.State.Backend))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})

	return store, nil
}
