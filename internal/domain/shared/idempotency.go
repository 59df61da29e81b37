package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers processed keys so a handler runs once per key
type IdempotencyStore interface {
	// MarkProcessed returns true if the key was newly marked, false if it
	// was already present and not yet expired.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)
	// Release forgets a key so a failed attempt can be processed again
	Release(ctx context.Context, key string) error
	Close() error
}

// IdempotencyConfig holds configuration for idempotency handling
type IdempotencyConfig struct {
	// TTL after which the same key may be processed again
	TTL     time.Duration
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
