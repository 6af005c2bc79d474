// Package app wires the kafka-ops-agent control plane: configuration,
// stores, the provisioning orchestrator, topic management, the scheduler,
// and the two HTTP adapter surfaces (service-broker and topic-management)
// into one running process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kafkaops/agent/internal/config"
	"github.com/kafkaops/agent/internal/httpserver"
	"github.com/kafkaops/agent/internal/platform"
	"github.com/kafkaops/agent/internal/ratelimitmw"
	"github.com/kafkaops/agent/internal/telemetry"
	"github.com/kafkaops/agent/pkg/adminpool"
	"github.com/kafkaops/agent/pkg/broker"
	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/orchestrator"
	"github.com/kafkaops/agent/pkg/provider"
	"github.com/kafkaops/agent/pkg/ratelimit"
	"github.com/kafkaops/agent/pkg/scheduler"
	"github.com/kafkaops/agent/pkg/slack"
	"github.com/kafkaops/agent/pkg/store"
	"github.com/kafkaops/agent/pkg/topic"
	"github.com/kafkaops/agent/pkg/topicapi"
)

// Run reads config, connects to infrastructure, builds every component
// named in spec §2's system overview, and serves HTTP until ctx is
// cancelled.
func Run(ctx context.Context, mgr *config.Manager) error {
	cfg := mgr.Current()

	logger := telemetry.NewLogger(cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(logger)
	logger.Info("starting kafka-ops-agent", "listen", cfg.ListenAddr(), "database_engine", cfg.Database.Engine)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracingConfig{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "kafka-ops-agent",
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	metadata, audit, closeStore, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building stores: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error("closing redis", "error", err)
			}
		}()
	}

	registry, err := buildProviderRegistry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}

	metricsReg := telemetry.NewRegistry(telemetry.All()...)

	pool := adminpool.New(adminpool.DefaultConfig(), logger)
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Error("closing admin pool", "error", err)
		}
	}()

	orch := orchestrator.New(orchestrator.DefaultConfig(), metadata, audit, registry, logger)
	orch.SetAdminPool(pool)

	notifier := slack.NewNotifier(cfg.Slack.BotToken, cfg.Slack.Channel, logger)
	orch.SetNotifier(notifier)

	topicSvc := topic.New(metadata, audit, pool)

	sched := scheduler.New(scheduler.DefaultConfig(), logger)
	defer func() {
		if err := sched.Close(); err != nil {
			logger.Error("closing scheduler", "error", err)
		}
	}()
	sched.SetNotifier(notifier)
	sched.RegisterHandler(model.TaskTopicCleanup, scheduler.TopicCleanupHandler(topicSvc))
	sched.RegisterHandler(model.TaskClusterCleanup, scheduler.ClusterCleanupHandler(orch, metadata))
	sched.RegisterHandler(model.TaskHealthCheck, scheduler.HealthCheckHandler(topicSvc))

	var rlMiddleware *ratelimitmw.Middleware
	if rdb != nil {
		limiter := ratelimit.New(rdb, ratelimit.DefaultConfig())
		rlMiddleware = ratelimitmw.New(limiter)
	} else {
		logger.Info("rate limiting disabled: no redis_url configured")
	}

	srv := httpserver.NewServer(cfg, logger, metricsReg, rlMiddleware)

	brokerHandler := broker.NewHandler(logger, orch)
	srv.BrokerAPI.Mount("/", brokerHandler.Routes())

	topicHandler := topicapi.NewHandler(logger, topicSvc)
	srv.TopicAPI.Mount("/", topicHandler.Routes())
	srv.TopicAPI.Get("/health", topicapi.HealthHandler)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// buildStores constructs the MetadataStore/AuditStore pair matching
// cfg.Database.Engine (spec §4.2/§4.3), plus a close function covering
// whichever backend was actually selected.
func buildStores(ctx context.Context, cfg *config.Config) (store.MetadataStore, store.AuditStore, func() error, error) {
	switch cfg.Database.Engine {
	case "postgres":
		pool, err := platform.NewPostgresPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		if err := platform.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			pool.Close()
			return nil, nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		metadata := store.NewPostgresMetadataStore(pool)
		audit := store.NewPostgresAuditStore(pool)
		return metadata, audit, func() error { pool.Close(); return nil }, nil
	case "embedded", "":
		path := cfg.Database.URL
		if path == "" {
			path = "kafkaops-store.json"
		}
		embedded, err := store.NewEmbeddedStore(path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening embedded store: %w", err)
		}
		return embedded, embedded, embedded.Close, nil
	default:
		return nil, nil, nil, fmt.Errorf("unrecognized database engine %q", cfg.Database.Engine)
	}
}

// buildProviderRegistry constructs a Runtime for every provider kind listed
// in cfg.Providers.Enabled (spec §4.4), so the orchestrator can dispatch to
// whichever one a ServiceInstance names.
func buildProviderRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	runtimes := make(map[provider.Kind]provider.Runtime, len(cfg.Providers.Enabled))
	for _, kind := range cfg.Providers.Enabled {
		switch provider.Kind(kind) {
		case provider.KindContainerEngine:
			runtimes[provider.KindContainerEngine] = provider.NewContainerEngineProvider(
				cfg.Providers.WorkDir, cfg.Providers.BrokerImage, cfg.Providers.CoordinatorImage, logger,
			)
		case provider.KindOrchestrator:
			p, err := provider.NewOrchestratorProvider(cfg.Providers.KubeconfigPath, provider.ServiceExposure(cfg.Providers.ServiceExposure), logger)
			if err != nil {
				return nil, fmt.Errorf("building orchestrator provider: %w", err)
			}
			runtimes[provider.KindOrchestrator] = p
		case provider.KindIaaS:
			p, err := provider.NewIaaSProvider(ctx, provider.IaaSConfig{
				WorkDir:         cfg.Providers.WorkDir,
				TerraformBinary: cfg.Providers.IaaS.TerraformBinary,
				Region:          cfg.Providers.IaaS.Region,
				AccessKey:       cfg.Providers.IaaS.AccessKey,
				SecretKey:       cfg.Providers.IaaS.SecretKey,
				InstanceType:    cfg.Providers.IaaS.InstanceType,
				AMI:             cfg.Providers.IaaS.AMI,
				KeyPairName:     cfg.Providers.IaaS.KeyPairName,
				SubnetID:        cfg.Providers.IaaS.SubnetID,
			}, logger)
			if err != nil {
				return nil, fmt.Errorf("building iaas provider: %w", err)
			}
			runtimes[provider.KindIaaS] = p
		default:
			return nil, fmt.Errorf("unrecognized provider kind %q in providers.enabled", kind)
		}
	}
	return provider.NewRegistry(runtimes), nil
}
