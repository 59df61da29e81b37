package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/labdata/backend/internal/domain/shared"
	"github.com/labdata/backend/internal/infrastructure/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockEventHandler is a mock implementation of shared.EventHandler
type MockEventHandler struct {
	mock.Mock
}

func (m *MockEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockEventHandler) EventTypes() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

// MockIdempotencyStore is a mock implementation of shared.IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestIdempotentHandler_Handle_NewEvent(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	handler := new(MockEventHandler)
	event := newTestEvent(t)
	handler.On("Handle", mock.Anything, event).Return(nil)

	h := NewIdempotentHandler("audit", handler, store, zap.NewNop())
	require.NoError(t, h.Handle(context.Background(), event))

	handler.AssertExpectations(t)
	processed, err := store.IsProcessed(context.Background(), "audit:"+event.EventID().String())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, int64(1), h.Metrics().Stats().EventsProcessed)
}

func TestIdempotentHandler_Handle_Duplicate(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	handler := new(MockEventHandler)
	event := newTestEvent(t)
	handler.On("Handle", mock.Anything, event).Return(nil).Once()

	h := NewIdempotentHandler("audit", handler, store, zap.NewNop())
	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))

	handler.AssertNumberOfCalls(t, "Handle", 1)
	stats := h.Metrics().Stats()
	assert.Equal(t, int64(1), stats.EventsProcessed)
	assert.Equal(t, int64(1), stats.EventsDuplicate)
}

func TestIdempotentHandler_Handle_KeysScopedByName(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	event := newTestEvent(t)
	first := new(MockEventHandler)
	first.On("Handle", mock.Anything, event).Return(nil)
	second := new(MockEventHandler)
	second.On("Handle", mock.Anything, event).Return(nil)

	require.NoError(t, NewIdempotentHandler("metrics", first, store, nil).Handle(context.Background(), event))
	require.NoError(t, NewIdempotentHandler("audit", second, store, nil).Handle(context.Background(), event))

	first.AssertNumberOfCalls(t, "Handle", 1)
	second.AssertNumberOfCalls(t, "Handle", 1)
}

func TestIdempotentHandler_Handle_FailureReleasesKey(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	handler := new(MockEventHandler)
	event := newTestEvent(t)
	handlerErr := errors.New("sink unavailable")
	handler.On("Handle", mock.Anything, event).Return(handlerErr).Once()
	handler.On("Handle", mock.Anything, event).Return(nil).Once()

	h := NewIdempotentHandler("audit", handler, store, zap.NewNop())

	err := h.Handle(context.Background(), event)
	assert.ErrorIs(t, err, handlerErr)

	require.NoError(t, h.Handle(context.Background(), event), "redelivery is handled again")
	handler.AssertNumberOfCalls(t, "Handle", 2)

	stats := h.Metrics().Stats()
	assert.Equal(t, int64(1), stats.EventsFailed)
	assert.Equal(t, int64(1), stats.EventsProcessed)
}

func TestIdempotentHandler_Handle_StoreErrorProcessesAnyway(t *testing.T) {
	store := new(MockIdempotencyStore)
	handler := new(MockEventHandler)
	event := newTestEvent(t)

	store.On("MarkProcessed", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(false, errors.New("redis down"))
	handler.On("Handle", mock.Anything, event).Return(nil)

	h := NewIdempotentHandler("audit", handler, store, zap.NewNop())
	require.NoError(t, h.Handle(context.Background(), event))

	handler.AssertExpectations(t)
	store.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
}

func TestIdempotentHandler_Handle_ReleaseErrorKeepsHandlerError(t *testing.T) {
	store := new(MockIdempotencyStore)
	handler := new(MockEventHandler)
	event := newTestEvent(t)
	key := "audit:" + event.EventID().String()
	handlerErr := errors.New("boom")

	store.On("MarkProcessed", mock.Anything, key, mock.Anything).Return(true, nil)
	store.On("Release", mock.Anything, key).Return(errors.New("redis down"))
	handler.On("Handle", mock.Anything, event).Return(handlerErr)

	h := NewIdempotentHandler("audit", handler, store, zap.NewNop())
	assert.ErrorIs(t, h.Handle(context.Background(), event), handlerErr)
	store.AssertExpectations(t)
}

func TestIdempotentHandler_Disabled(t *testing.T) {
	store := new(MockIdempotencyStore)
	handler := new(MockEventHandler)
	event := newTestEvent(t)
	handler.On("Handle", mock.Anything, event).Return(nil).Twice()

	h := NewIdempotentHandler("audit", handler, store, zap.NewNop(),
		WithIdempotencyConfig(shared.IdempotencyConfig{Enabled: false}))

	require.NoError(t, h.Handle(context.Background(), event))
	require.NoError(t, h.Handle(context.Background(), event))

	handler.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything)
}

func TestIdempotentHandler_SharedMetrics(t *testing.T) {
	store := cache.NewInMemoryIdempotencyStore(time.Minute)
	defer store.Close()

	metrics := &IdempotencyMetrics{}
	event := newTestEvent(t)
	a := new(MockEventHandler)
	a.On("Handle", mock.Anything, event).Return(nil)
	b := new(MockEventHandler)
	b.On("Handle", mock.Anything, event).Return(nil)

	_ = NewIdempotentHandler("a", a, store, nil, WithIdempotencyMetrics(metrics)).Handle(context.Background(), event)
	_ = NewIdempotentHandler("b", b, store, nil, WithIdempotencyMetrics(metrics)).Handle(context.Background(), event)

	assert.Equal(t, int64(2), metrics.Stats().EventsProcessed)
}

func TestIdempotentHandler_EventTypes(t *testing.T) {
	handler := new(MockEventHandler)
	handler.On("EventTypes").Return([]string{"A", "B"})

	h := NewIdempotentHandler("x", handler, new(MockIdempotencyStore), nil)
	assert.Equal(t, []string{"A", "B"}, h.EventTypes())
}
