package network

import (
	"context"
	"time"

	"go.uber.org/fx"

	"assistant/pkg/config"
	"assistant/pkg/logger"
	"assistant/pkg/state"
)

// Module is the fx module for the network monitor.
var Module = fx.Module("network",
	fx.Provide(ProvideMonitor),
	fx.Provide(func(m *Monitor) Checker { return m }),
	fx.Invoke(StartMonitor),
)

// ProvideMonitor creates the monitor from config.
func ProvideMonitor(log *logger.Logger, st state.KV, cfg *config.Config) *Monitor {
	return New(log, st, &Config{
		Targets:  cfg.Network.ProbeTargets,
		Interval: time.Duration(cfg.Network.IntervalSeconds) * time.Second,
		Timeout:  time.Duration(cfg.Network.TimeoutMs) * time.Millisecond,
	})
}

// StartMonitor registers the monitor lifecycle hooks.
func StartMonitor(lc fx.Lifecycle, m *Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return m.Start()
		},
		OnStop: func(ctx context.Context) error {
			return m.Stop()
		},
	})
}
