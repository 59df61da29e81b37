package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	appevent "github.com/labdata/backend/internal/application/event"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/labdata/backend/internal/infrastructure/auth"
	"github.com/labdata/backend/internal/infrastructure/cache"
	"github.com/labdata/backend/internal/infrastructure/config"
	"github.com/labdata/backend/internal/infrastructure/event"
	"github.com/labdata/backend/internal/infrastructure/logger"
	"github.com/labdata/backend/internal/infrastructure/persistence"
	"github.com/labdata/backend/internal/infrastructure/scheduler"
	"github.com/labdata/backend/internal/infrastructure/storage"
	"github.com/labdata/backend/internal/infrastructure/telemetry"
	"github.com/labdata/backend/internal/infrastructure/tools"
	"github.com/labdata/backend/internal/interfaces/http/handler"
	"github.com/labdata/backend/internal/interfaces/http/middleware"
	"github.com/labdata/backend/internal/interfaces/http/router"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:generate swag init -g cmd/server/main.go -d ../../ -o ../../docs --parseInternal

//	@title			Lab Data Lifecycle API
//	@version		1.0
//	@description	Moves experiment data between the hot and cold storage tiers and tracks every transfer.
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token from POST /auth/token. Format: "Bearer {token}"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		logger.Sync(log)
		os.Exit(1)
	}
	logger.Sync(log)
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	providers, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	if level, err := logger.ParseLevel(cfg.Log.Level); err == nil {
		log = telemetry.BridgeLogger(log, providers.LoggerProvider(), cfg.Telemetry.ServiceName, level)
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:            cfg.Telemetry.ProfilingEnabled,
		ServerAddress:      cfg.Telemetry.ProfilingServerAddress,
		ApplicationName:    cfg.Telemetry.ServiceName,
		BasicAuthUser:      cfg.Telemetry.ProfilingAuthUser,
		BasicAuthPassword:  cfg.Telemetry.ProfilingAuthPassword,
		ContentionProfiles: cfg.Telemetry.ProfilingMutex,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to start profiler: %w", err)
	}
	defer func() { _ = profiler.Stop() }()
	if profiler.IsEnabled() {
		providers.EnableSpanProfiles()
	}
	meter := providers.Meter()

	log.Info("Starting lab data lifecycle service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level),
		logger.WithSlowThreshold(cfg.Telemetry.DBSlowQueryThresh),
		logger.WithIgnoreRecordNotFoundError(cfg.Log.Level != "debug"))
	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(gormLog))
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.InstrumentDB(db.DB, telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBName:          cfg.Database.DBName,
		}, log); err != nil {
			return err
		}
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if reg, err := telemetry.ObserveDBPool(meter, sqlDB); err != nil {
		log.Warn("Failed to register connection pool metrics", zap.Error(err))
	} else {
		defer func() { _ = reg.Unregister() }()
	}
	log.Info("Database connected")

	// Redis is optional; without it idempotency keys and revocations stay in memory
	var redisClient redis.UniversalClient
	var cacheHealth handler.CachePinger
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		redisClient = client
		cacheHealth = cache.NewPinger(client)
	}

	// Events
	serializer := event.NewLifecycleEventSerializer()
	outboxRepo := event.NewGormOutboxRepository(db.DB)
	outboxPublisher := event.NewOutboxPublisher(serializer)
	eventBus := event.NewInMemoryEventBus(log)

	metrics, err := telemetry.NewLifecycleMetrics(meter, log)
	if err != nil {
		return err
	}

	idempotencyStore := cache.NewIdempotencyStore(redisClient, log)
	defer func() { _ = idempotencyStore.Close() }()
	idempotency := event.WithIdempotencyConfig(shared.IdempotencyConfig{
		Enabled: true,
		TTL:     cfg.Event.IdempotencyTTL,
	})
	idempotencyMetrics := &event.IdempotencyMetrics{}
	eventBus.Subscribe(event.NewIdempotentHandler("lifecycle-audit",
		lifecycleapp.NewLifecycleAuditHandler(log), idempotencyStore, log,
		idempotency, event.WithIdempotencyMetrics(idempotencyMetrics)))
	eventBus.Subscribe(event.NewIdempotentHandler("lifecycle-metrics",
		lifecycleapp.NewLifecycleMetricsHandler(metrics), idempotencyStore, log,
		idempotency, event.WithIdempotencyMetrics(idempotencyMetrics)))

	if err := eventBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	defer func() { _ = eventBus.Stop(context.Background()) }()

	outboxProcessor := event.NewOutboxProcessor(outboxRepo, eventBus, serializer, event.OutboxProcessorConfig{
		BatchSize:        cfg.Event.BatchSize,
		PollInterval:     cfg.Event.PollInterval,
		CleanupEnabled:   cfg.Event.CleanupEnabled,
		CleanupRetention: cfg.Event.CleanupRetention,
		CleanupInterval:  time.Hour,
	}, log)
	if cfg.Event.ProcessorEnabled {
		if err := outboxProcessor.Start(ctx); err != nil {
			return fmt.Errorf("failed to start outbox processor: %w", err)
		}
		defer func() { _ = outboxProcessor.Stop(context.Background()) }()
	}

	// Lifecycle
	projectRepo := persistence.NewGormProjectDataRepository(db.DB)
	operationRepo := persistence.NewGormLifecycleOperationRepository(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB, outboxPublisher)

	tokens := auth.NewTokenService(cfg.Auth)
	coolingAPI := tools.NewCoolingClient(cfg.Tools, tokens, log)

	var inventory lifecycleapp.Inventory
	if cfg.Storage.VerifyInventory {
		s3, err := storage.NewS3Inventory(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			return fmt.Errorf("failed to create storage inventory: %w", err)
		}
		inventory = s3
	}

	lifecycleCfg := lifecycleapp.Config{
		BatchSize:        cfg.Lifecycle.BatchSize,
		SkipLocked:       cfg.Lifecycle.SkipLocked,
		RetryDelay:       cfg.Lifecycle.RetryDelay,
		RestoreRetention: cfg.Lifecycle.RestoreRetention,
		PendingTimeout:   cfg.Lifecycle.PendingTimeout,
	}
	projectService := lifecycleapp.NewProjectService(txScope, projectRepo, log)
	operationService := lifecycleapp.NewOperationService(txScope, operationRepo, coolingAPI, log)
	operationService.SetMetrics(metrics)
	callbackService := lifecycleapp.NewCallbackService(txScope, projectRepo, operationRepo, inventory, lifecycleCfg, log)
	schedulingService := lifecycleapp.NewSchedulingService(txScope, projectRepo, operationRepo, coolingAPI, lifecycleCfg, log)
	schedulingService.SetMetrics(metrics)
	if reg, err := metrics.ObserveOperations(meter, operationRepo); err != nil {
		log.Warn("Failed to register operation gauge", zap.Error(err))
	} else {
		defer func() { _ = reg.Unregister() }()
	}

	schedulerConfig := scheduler.CoolingSchedulerConfig{
		Enabled:     cfg.Lifecycle.SchedulerEnabled,
		Interval:    cfg.Lifecycle.ScheduleInterval,
		PassTimeout: 2 * time.Minute,
	}
	coolingScheduler := scheduler.NewCoolingScheduler(schedulingService, log, schedulerConfig)
	if cfg.Lifecycle.SchedulerEnabled {
		if err := coolingScheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start cooling scheduler: %w", err)
		}
		defer func() { _ = coolingScheduler.Stop(context.Background()) }()
	}

	// HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	revocations := auth.NewTokenRevocationList(redisClient, log)
	schedulerHandler := handler.NewSchedulerHandler(coolingScheduler, schedulingService).
		WithPassTimeout(schedulerConfig.PassTimeout)
	engine, err := router.New(router.Config{
		Logger: log,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
			SkipPaths:   []string{"/health"},
		},
		Meter: meter,
		CORS: middleware.CORSConfig{
			AllowOrigins:  cfg.HTTP.CORSAllowOrigins,
			AllowMethods:  cfg.HTTP.CORSAllowMethods,
			AllowHeaders:  cfg.HTTP.CORSAllowHeaders,
			ExposeHeaders: []string{middleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining"},
			MaxAge:        12 * time.Hour,
		},
		MaxBodyBytes: cfg.HTTP.MaxBodySize,
		JWT: middleware.JWTConfig{
			Tokens:      tokens,
			Revocations: revocations,
			Logger:      log,
		},
		TokenLimiter: middleware.NewRateLimiter(cfg.Auth.TokenRateLimit, cfg.Auth.TokenRateWindow),
		Swagger: middleware.SwaggerConfig{
			Enabled:     cfg.Swagger.Enabled,
			RequireAuth: cfg.Swagger.RequireAuth,
			AllowedIPs:  cfg.Swagger.AllowedIPs,
		},
		Handlers: router.Handlers{
			Health:    handler.NewHealthHandler(sqlDB, cacheHealth, version),
			Auth:      handler.NewAuthHandler(auth.NewClientAuthenticator(cfg.Auth.Clients), tokens, revocations),
			Project:   handler.NewProjectHandler(projectService),
			Operation: handler.NewOperationHandler(operationService),
			Callback:  handler.NewCallbackHandler(callbackService),
			Scheduler: schedulerHandler,
			Outbox:    handler.NewOutboxHandler(appevent.NewOutboxService(outboxRepo, log)),
		},
	})
	if err != nil {
		return err
	}
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server exited gracefully")
	return nil
}
