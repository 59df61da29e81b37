package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRevocationKeyPrefix namespaces revoked token ids in Redis
const DefaultRevocationKeyPrefix = "lab:token:revoked:"

// TokenRevocationList invalidates tokens before they expire.
// Entries only need to live as long as the token they revoke.
type TokenRevocationList interface {
	// Revoke adds a token's JTI (JWT ID) to the list for ttl
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	// IsRevoked checks if a token's JTI is on the list
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisTokenRevocationList implements TokenRevocationList using Redis
type RedisTokenRevocationList struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTokenRevocationList creates a revocation list on an existing Redis client
func NewRedisTokenRevocationList(client redis.UniversalClient, keyPrefix string) *RedisTokenRevocationList {
	if keyPrefix == "" {
		keyPrefix = DefaultRevocationKeyPrefix
	}
	return &RedisTokenRevocationList{client: client, keyPrefix: keyPrefix}
}

// Revoke adds a token's JTI to the list
func (l *RedisTokenRevocationList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := l.client.Set(ctx, l.keyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked checks if a token's JTI is on the list
func (l *RedisTokenRevocationList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	exists, err := l.client.Exists(ctx, l.keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return exists > 0, nil
}

// InMemoryTokenRevocationList keeps revoked ids in process memory.
// It is not shared between instances.
type InMemoryTokenRevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time // JTI -> expiration time
	now     func() time.Time
}

// NewInMemoryTokenRevocationList creates a new in-memory revocation list
func NewInMemoryTokenRevocationList() *InMemoryTokenRevocationList {
	return &InMemoryTokenRevocationList{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Revoke adds a token's JTI to the list
func (l *InMemoryTokenRevocationList) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for id, expiry := range l.revoked {
		if now.After(expiry) {
			delete(l.revoked, id)
		}
	}
	l.revoked[jti] = now.Add(ttl)
	return nil
}

// IsRevoked checks if a token's JTI is on the list and not yet expired
func (l *InMemoryTokenRevocationList) IsRevoked(_ context.Context, jti string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	expiry, ok := l.revoked[jti]
	if !ok {
		return false, nil
	}
	if l.now().After(expiry) {
		delete(l.revoked, jti)
		return false, nil
	}
	return true, nil
}

// NewTokenRevocationList returns a Redis-backed list when a client is
// given, otherwise an in-memory one
func NewTokenRevocationList(client redis.UniversalClient, logger *zap.Logger) TokenRevocationList {
	if client != nil {
		return NewRedisTokenRevocationList(client, DefaultRevocationKeyPrefix)
	}
	if logger != nil {
		logger.Warn("Redis disabled, token revocations are kept in memory and not shared between instances")
	}
	return NewInMemoryTokenRevocationList()
}

var (
	_ TokenRevocationList = (*RedisTokenRevocationList)(nil)
	_ TokenRevocationList = (*InMemoryTokenRevocationList)(nil)
)
