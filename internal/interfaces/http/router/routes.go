package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	_ "github.com/labdata/backend/docs"
	"github.com/labdata/backend/internal/infrastructure/auth"
	"github.com/labdata/backend/internal/infrastructure/logger"
	"github.com/labdata/backend/internal/interfaces/http/handler"
	"github.com/labdata/backend/internal/interfaces/http/middleware"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Handlers holds the HTTP handlers served by the API
type Handlers struct {
	Health    *handler.HealthHandler
	Auth      *handler.AuthHandler
	Project   *handler.ProjectHandler
	Operation *handler.OperationHandler
	Callback  *handler.CallbackHandler
	Scheduler *handler.SchedulerHandler
	Outbox    *handler.OutboxHandler
}

// Config assembles the engine's middleware and handlers
type Config struct {
	Logger  *zap.Logger
	Tracing middleware.TracingConfig
	// Meter records HTTP metrics when not nil
	Meter        metric.Meter
	CORS         middleware.CORSConfig
	MaxBodyBytes int64
	JWT          middleware.JWTConfig
	// TokenLimiter throttles the token endpoint per client IP when not nil
	TokenLimiter *middleware.RateLimiter
	Swagger      middleware.SwaggerConfig
	Handlers     Handlers
}

// New builds the gin engine with global middleware and every route
func New(cfg Config) (*gin.Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(cfg.Logger),
		logger.Recovery(cfg.Logger),
		middleware.Tracing(cfg.Tracing),
		middleware.SpanEnricher(),
	)
	if cfg.Meter != nil {
		metrics, err := middleware.HTTPMetrics(cfg.Meter)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		engine.Use(metrics)
	}
	engine.Use(middleware.Secure(), middleware.CORS(cfg.CORS))
	if cfg.MaxBodyBytes > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}

	h := cfg.Handlers
	engine.GET("/health", h.Health.Check)
	engine.GET("/swagger/*any", swaggerHandlers(cfg)...)

	r := NewRouter(engine)
	r.Register(authRoutes(h, cfg))
	r.Register(lifecycleRoutes(h, cfg.JWT))
	r.Register(systemRoutes(h, cfg.JWT))
	r.Setup()

	return engine, nil
}

func swaggerHandlers(cfg Config) []gin.HandlerFunc {
	handlers := []gin.HandlerFunc{middleware.SwaggerProtection(cfg.Swagger)}
	if cfg.Swagger.RequireAuth {
		handlers = append(handlers, middleware.JWTAuth(cfg.JWT), middleware.RequireScope(auth.ScopeAdmin))
	}
	return append(handlers, ginSwagger.WrapHandler(swaggerFiles.Handler))
}

func authRoutes(h Handlers, cfg Config) *DomainGroup {
	g := NewDomainGroup("auth", "/auth")

	token := []gin.HandlerFunc{h.Auth.Token}
	if cfg.TokenLimiter != nil {
		token = append([]gin.HandlerFunc{middleware.RateLimit(cfg.TokenLimiter)}, token...)
	}
	g.POST("/token", token...)

	admin := g.Group("admin", "")
	admin.Use(middleware.JWTAuth(cfg.JWT), middleware.RequireScope(auth.ScopeAdmin))
	admin.POST("/revoke", h.Auth.Revoke)
	return g
}

func lifecycleRoutes(h Handlers, jwt middleware.JWTConfig) *DomainGroup {
	g := NewDomainGroup("lifecycle", "/lifecycle")
	g.Use(middleware.JWTAuth(jwt))

	g.Group("callbacks", "/callbacks").
		Use(middleware.RequireScope(auth.ScopeCallback)).
		POST("", h.Callback.Handle)

	projects := g.Group("projects", "/projects").Use(middleware.RequireScope(auth.ScopeAdmin))
	projects.POST("", h.Project.Register)
	projects.GET("", h.Project.List)
	projects.GET("/:id", h.Project.Get)
	projects.PUT("/:id/eligibility", h.Project.SetEligibility)
	projects.PUT("/:id/totals", h.Project.SetTotals)
	projects.PUT("/:id/runs", h.Project.UpsertRun)
	projects.POST("/:id/cool", h.Operation.Cool)
	projects.POST("/:id/restore", h.Operation.Restore)
	projects.POST("/:id/retry", h.Operation.Retry)
	projects.GET("/:id/operations", h.Operation.ListForProject)

	operations := g.Group("operations", "/operations").Use(middleware.RequireScope(auth.ScopeAdmin))
	operations.GET("/stats", h.Operation.Stats)
	operations.GET("/:id", h.Operation.Get)

	g.Group("scheduler", "/scheduler").
		Use(middleware.RequireScope(auth.ScopeAdmin)).
		POST("/run", h.Scheduler.Run)
	return g
}

func systemRoutes(h Handlers, jwt middleware.JWTConfig) *DomainGroup {
	g := NewDomainGroup("system", "/system")
	g.Use(middleware.JWTAuth(jwt), middleware.RequireScope(auth.ScopeAdmin))

	outbox := g.Group("outbox", "/outbox")
	outbox.GET("/stats", h.Outbox.GetStats)
	outbox.GET("/dead", h.Outbox.GetDeadLetterEntries)
	outbox.POST("/dead/retry", h.Outbox.RetryAllDeadEntries)
	outbox.GET("/:id", h.Outbox.GetEntry)
	outbox.POST("/:id/retry", h.Outbox.RetryDeadEntry)
	return g
}
