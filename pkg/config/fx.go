package config

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"assistant/pkg/logger"
)

// Module provides configuration for fx dependency injection.
var Module = fx.Module("config",
	fx.Provide(ProvideLoader),
	fx.Provide(ProvideConfig),
	fx.Provide(ProvideLoggerConfig),
	fx.Provide(ProvideWatcher),
)

// ProvideLoader provides a configuration loader.
func ProvideLoader() *Loader {
	return NewLoader()
}

// ProvideConfig loads and validates the configuration.
func ProvideConfig(loader *Loader) (*Config, error) {
	cfg, err := loader.Load("")
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProvideLoggerConfig exposes the logger section to the logger module.
func ProvideLoggerConfig(cfg *Config) *logger.Config {
	return cfg.Logger.ToLoggerConfig()
}

// ProvideWatcher provides a configuration watcher with hot-reload.
func ProvideWatcher(loader *Loader, cfg *Config, lc fx.Lifecycle, log *logger.Logger) *Watcher {
	watcher := NewWatcher(loader, cfg, log.Logger)

	watcher.AddHandler(func(newCfg *Config) error {
		log.Info("Configuration reloaded",
			zap.String("file", loader.GetConfigPath()),
			zap.String("validation_mode", newCfg.Validation.Mode),
		)
		return nil
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Debug("Starting configuration watcher")
			return watcher.Start()
		},
		OnStop: func(ctx context.Context) error {
			watcher.Stop()
			return nil
		},
	})

	return watcher
}
