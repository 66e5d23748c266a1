package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/openparcel/jobcore/config"
)

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. Blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := cfg.Config.GetEnabledServices(); err != nil {
		return err
	}
	httpEnabled := cfg.Config.IsHTTPServerEnabled()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if httpEnabled {
		server := BuildHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		g.Go(func() error {
			return serveHTTP(server, logger)
		})
		g.Go(func() error {
			<-ctx.Done()
			return shutdownHTTP(server, cfg.Config.HTTP, logger)
		})
	}

	// The executor runtime drains in-flight jobs on shutdown. It runs
	// whenever this process can accept submissions, not only in explicit
	// executor mode, because dispatch is in-process.
	if cfg.Config.IsExecutorEnabled() || httpEnabled {
		g.Go(func() error {
			return cfg.Services.Executor.Run(ctx)
		})
	}

	if cfg.Config.IsReconcilerEnabled() {
		g.Go(func() error {
			return cfg.Services.Reconciler.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("all services stopped")
	return nil
}
