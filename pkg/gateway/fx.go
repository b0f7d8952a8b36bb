package gateway

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"assistant/pkg/automation"
	"assistant/pkg/bus"
	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/round"
	"assistant/pkg/session"
)

// Module provides the gateway server for fx dependency injection.
var Module = fx.Module("gateway",
	fx.Provide(ProvideServer),
	fx.Invoke(registerLifecycle),
)

// ServerParams are the fx inputs of the gateway.
type ServerParams struct {
	fx.In

	Config       *config.Config
	Logger       *logger.Logger
	Store        session.Store
	Messages     *messages.Storage
	Controller   *controller.Controller
	Executor     *round.Executor
	Interactions *interaction.Manager
	Scheduler    *automation.Scheduler
	Bus          bus.Bus
}

// ProvideServer builds the server from the application graph.
func ProvideServer(p ServerParams) *Server {
	return NewServer(p.Config, p.Logger.Named("gateway"), Deps{
		Store:        p.Store,
		Messages:     p.Messages,
		Controller:   p.Controller,
		Rounds:       p.Executor,
		Interactions: p.Interactions,
		Scheduler:    p.Scheduler,
		Bus:          p.Bus,
	})
}

func registerLifecycle(lc fx.Lifecycle, s *Server, cfg *config.Config, log *logger.Logger) {
	if cfg.Gateway.Port == 0 {
		log.Info("Gateway server disabled (port not configured)")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting gateway",
				zap.String("host", cfg.Gateway.Host),
				zap.Int("port", cfg.Gateway.Port),
				zap.Bool("auth", cfg.Gateway.JWTSecret != ""),
			)
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return s.Stop(shutdownCtx)
		},
	})
}
