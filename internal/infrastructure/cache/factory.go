package cache

import (
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewIdempotencyStore returns a Redis store when a client is available and
// an in-memory store otherwise
func NewIdempotencyStore(client redis.UniversalClient, logger *zap.Logger) shared.IdempotencyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client != nil {
		logger.Info("using Redis idempotency store")
		return NewRedisIdempotencyStore(client, DefaultIdempotencyKeyPrefix)
	}
	logger.Warn("Redis disabled or unavailable, using in-memory idempotency store; " +
		"events may be handled twice when several instances run")
	return NewInMemoryIdempotencyStore(0)
}
