package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/openparcel/jobcore/config"
	"github.com/openparcel/jobcore/internal/data"
	"github.com/openparcel/jobcore/internal/observability/statsd"
	"github.com/openparcel/jobcore/internal/plugins/demo"
	"github.com/openparcel/jobcore/internal/registry"
	"github.com/openparcel/jobcore/internal/service"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Registry      *registry.Registry
	Dispatcher    *service.Dispatcher
	Executor      *service.Executor
	Reader        *service.Reader
	Reconciler    *service.Reconciler
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// buildObservability configures the metrics sink.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.StatsdPrefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		MetricsSink:   metricsSink,
		MetricsConfig: cfg.Metrics,
	}
}

// BuildRegistry creates the job type registry and registers built-in
// handlers. Registration errors are fatal: a duplicate or invalid handler
// means a broken build, not a runtime condition.
func BuildRegistry(cfg *config.AppConfig) (*registry.Registry, error) {
	reg := registry.New()

	if cfg != nil && cfg.IsDev {
		if err := demo.Register(reg); err != nil {
			return nil, fmt.Errorf("register demo plugin: %w", err)
		}
	}

	return reg, nil
}

// NewServices wires the service container. The executor is always
// constructed because job dispatch is in-process: a node that accepts
// submissions also executes them.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, fmt.Errorf("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
	}
	observability := buildObservability(logger, obsCfg)

	reg, err := BuildRegistry(deps.Config)
	if err != nil {
		return ServiceContainer{}, err
	}

	repo := data.NewJobRepo(deps.DB, data.RepoConfig{Logger: logger})

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	executor, err := service.NewExecutor(service.ExecutorOptions{
		Repo:     repo,
		Registry: reg,
		Config:   appCfg.Executor,
		Logger:   logger,
		Metrics:  observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build executor: %w", err)
	}

	dispatcher, err := service.NewDispatcher(service.DispatcherOptions{
		Repo:     repo,
		Registry: reg,
		Executor: executor,
		Logger:   logger,
		Metrics:  observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build dispatcher: %w", err)
	}

	readerOpts := service.ReaderOptions{
		Repo:   repo,
		Logger: logger,
	}
	if deps.RedisClient != nil {
		readerOpts.Cache = data.NewRedisResultCache(deps.RedisClient, appCfg.Redis.ResultTTL, logger)
	}

	reader, err := service.NewReader(readerOpts)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reader: %w", err)
	}

	reconciler, err := service.NewReconciler(service.ReconcilerOptions{
		Repo:    repo,
		Config:  appCfg.Reconciler,
		Logger:  logger,
		Metrics: observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build reconciler: %w", err)
	}

	return ServiceContainer{
		Registry:      reg,
		Dispatcher:    dispatcher,
		Executor:      executor,
		Reader:        reader,
		Reconciler:    reconciler,
		Observability: observability,
	}, nil
}
