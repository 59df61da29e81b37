package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryTokenRevocationList(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	list := NewInMemoryTokenRevocationList()
	list.now = func() time.Time { return now }

	require.NoError(t, list.Revoke(ctx, "jti-1", time.Hour))

	revoked, err := list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = list.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	now = now.Add(2 * time.Hour)
	revoked, err = list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
	assert.Empty(t, list.revoked)
}

func TestInMemoryTokenRevocationList_IgnoresExpiredTokens(t *testing.T) {
	ctx := context.Background()
	list := NewInMemoryTokenRevocationList()

	require.NoError(t, list.Revoke(ctx, "jti-1", 0))

	revoked, err := list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestInMemoryTokenRevocationList_SweepsOnRevoke(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	list := NewInMemoryTokenRevocationList()
	list.now = func() time.Time { return now }

	require.NoError(t, list.Revoke(ctx, "old", time.Minute))
	now = now.Add(time.Hour)
	require.NoError(t, list.Revoke(ctx, "new", time.Minute))

	assert.Len(t, list.revoked, 1)
	assert.Contains(t, list.revoked, "new")
}

func TestNewTokenRevocationList_FallsBackToMemory(t *testing.T) {
	list := NewTokenRevocationList(nil, zap.NewNop())

	_, ok := list.(*InMemoryTokenRevocationList)
	assert.True(t, ok)
}
