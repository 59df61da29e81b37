package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labdata/backend/internal/infrastructure/logger"
	"github.com/labdata/backend/internal/interfaces/http/dto"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// DatabasePinger is satisfied by *sql.DB
type DatabasePinger interface {
	PingContext(ctx context.Context) error
	Stats() sql.DBStats
}

// CachePinger reports whether the cache is reachable
type CachePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service liveness and dependency health
type HealthHandler struct {
	BaseHandler
	db        DatabasePinger
	cache     CachePinger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler. cache may be nil.
func NewHealthHandler(db DatabasePinger, cache CachePinger, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		cache:     cache,
		version:   version,
		startTime: time.Now(),
	}
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Uptime   string            `json:"uptime"`
	Checks   map[string]string `json:"checks"`
	Database *DatabaseStats    `json:"database,omitempty"`
}

// DatabaseStats is the connection pool snapshot reported by /health
type DatabaseStats struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
	MaxOpen         int   `json:"max_open_connections"`
}

// Check pings the database and the cache. It answers 503 when the
// database is unreachable; a cache failure only degrades the status.
// GET /health
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  map[string]string{},
	}
	log := logger.FromContext(c.Request.Context())

	if err := h.db.PingContext(ctx); err != nil {
		log.Error("Database health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Checks["database"] = "unreachable"
	} else {
		resp.Checks["database"] = "ok"
		stats := h.db.Stats()
		resp.Database = &DatabaseStats{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
			MaxOpen:         stats.MaxOpenConnections,
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			log.Warn("Cache health check failed", zap.Error(err))
			resp.Checks["cache"] = "unreachable"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		} else {
			resp.Checks["cache"] = "ok"
		}
	}

	if resp.Status == "unhealthy" {
		c.JSON(http.StatusServiceUnavailable, dto.Response{Success: false, Data: resp})
		return
	}
	h.Success(c, resp)
}
