package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"assistant/pkg/config"
	"assistant/pkg/controller"
	"assistant/pkg/gateway"
	"assistant/pkg/logger"
)

// GatewayService implements service.Interface for the gateway.
type GatewayService struct {
	app    *fx.App
	logger service.Logger
}

// NewGatewayService creates a new gateway service.
func NewGatewayService() *GatewayService {
	return &GatewayService{}
}

// Start implements service.Interface.Start
func (s *GatewayService) Start(svc service.Service) error {
	if s.logger != nil {
		s.logger.Info("Starting assistant gateway service")
	}

	s.app = fx.New(gatewayModules(), fx.NopLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.app.Start(ctx)
}

// Stop implements service.Interface.Stop
func (s *GatewayService) Stop(svc service.Service) error {
	if s.logger != nil {
		s.logger.Info("Stopping assistant gateway service")
	}
	if s.app == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.app.Stop(ctx); err != nil {
		if s.logger != nil {
			s.logger.Errorf("Error stopping service: %v", err)
		}
		return err
	}
	return nil
}

// gatewayModules is the full runtime plus the HTTP gateway.
func gatewayModules() fx.Option {
	return fx.Options(
		coreModules(),
		gateway.Module,

		fx.Invoke(func(lc fx.Lifecycle, log *logger.Logger, cfg *config.Config, ctrl *controller.Controller) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					log.Info("Gateway started",
						zap.String("host", cfg.Gateway.Host),
						zap.Int("port", cfg.Gateway.Port),
						zap.Bool("automations", cfg.Automations.Enabled),
						zap.String("active_session", ctrl.ActiveSessionID()))
					return nil
				},
				OnStop: func(ctx context.Context) error {
					log.Info("Gateway stopped")
					return nil
				},
			})
		}),
	)
}

// ServiceConfig returns the service configuration. The config file in use
// is passed on so the service reads the same one.
func ServiceConfig() *service.Config {
	args := []string{"gateway", "run"}

	path := configPath
	if path == "" {
		path = strings.TrimSpace(os.Getenv(config.ConfigPathEnv))
	}
	if path != "" {
		args = append([]string{"-c", path}, args...)
	}

	return &service.Config{
		Name:        "assistant-gateway",
		DisplayName: "Assistant Gateway",
		Description: "AI session orchestrator with REST and websocket gateway",
		Arguments:   args,
	}
}

func newService() (service.Service, *GatewayService, error) {
	prg := NewGatewayService()
	s, err := service.New(prg, ServiceConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("creating service: %w", err)
	}
	return s, prg, nil
}

// ControlService runs install, uninstall, start, stop or restart.
func ControlService(action string) error {
	s, _, err := newService()
	if err != nil {
		return err
	}
	if err := service.Control(s, action); err != nil {
		return fmt.Errorf("%s service: %w", action, err)
	}
	return nil
}

// StatusService prints the status of the gateway service.
func StatusService() error {
	s, _, err := newService()
	if err != nil {
		return err
	}

	status, err := s.Status()
	if err != nil {
		return fmt.Errorf("getting service status: %w", err)
	}

	statusStr := "Unknown"
	switch status {
	case service.StatusRunning:
		statusStr = "Running"
	case service.StatusStopped:
		statusStr = "Stopped"
	}

	fmt.Printf("Service Status: %s\n", statusStr)
	return nil
}

// RunService runs the gateway under the service manager.
func RunService() error {
	s, prg, err := newService()
	if err != nil {
		return err
	}

	svcLogger, err := s.Logger(nil)
	if err != nil {
		return fmt.Errorf("creating service logger: %w", err)
	}
	prg.logger = svcLogger

	if err := s.Run(); err != nil {
		svcLogger.Error(err)
		return err
	}
	return nil
}

// runGatewayForeground runs the gateway until SIGINT or SIGTERM.
func runGatewayForeground() {
	app := fx.New(gatewayModules())
	app.Run()
}
