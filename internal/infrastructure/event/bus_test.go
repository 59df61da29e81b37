package event

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestEvent builds a registered lifecycle event for a fresh project
func newTestEvent(t *testing.T) *lifecycle.ProjectDataRegisteredEvent {
	t.Helper()
	p, err := lifecycle.NewProjectData("bus-test", "")
	require.NoError(t, err)
	return lifecycle.NewProjectDataRegisteredEvent(p)
}

// testHandler records the events it receives
type testHandler struct {
	mu         sync.Mutex
	eventTypes []string
	handled    []shared.DomainEvent
	err        error
}

func newTestHandler(eventTypes ...string) *testHandler {
	return &testHandler{eventTypes: eventTypes}
}

func (h *testHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, event)
	return h.err
}

func (h *testHandler) EventTypes() []string {
	return h.eventTypes
}

func (h *testHandler) setError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *testHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

type panicHandler struct{}

func (panicHandler) Handle(context.Context, shared.DomainEvent) error { panic("boom") }
func (panicHandler) EventTypes() []string                             { return nil }

func TestInMemoryEventBus_Publish(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	typed := newTestHandler(lifecycle.EventTypeProjectDataRegistered)
	other := newTestHandler(lifecycle.EventTypeOperationFailed)
	all := newTestHandler()
	bus.Subscribe(typed)
	bus.Subscribe(other)
	bus.Subscribe(all)

	require.NoError(t, bus.Publish(ctx, newTestEvent(t)))

	assert.Equal(t, 1, typed.count())
	assert.Equal(t, 0, other.count())
	assert.Equal(t, 1, all.count(), "wildcard handler receives every event")
}

func TestInMemoryEventBus_ExplicitTypesOverrideHandlerTypes(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	h := newTestHandler(lifecycle.EventTypeOperationFailed)
	bus.Subscribe(h, lifecycle.EventTypeProjectDataRegistered)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent(t)))
	assert.Equal(t, 1, h.count())
}

func TestInMemoryEventBus_HandlerErrors(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	failing := newTestHandler(lifecycle.EventTypeProjectDataRegistered)
	failing.setError(errors.New("sink down"))
	after := newTestHandler(lifecycle.EventTypeProjectDataRegistered)
	bus.Subscribe(failing)
	bus.Subscribe(panicHandler{})
	bus.Subscribe(after)

	err := bus.Publish(context.Background(), newTestEvent(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Contains(t, err.Error(), "panicked")
	assert.Equal(t, 1, after.count(), "later handlers still run")
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	h := newTestHandler(lifecycle.EventTypeProjectDataRegistered)
	bus.Subscribe(h)
	bus.Unsubscribe(h)

	require.NoError(t, bus.Publish(context.Background(), newTestEvent(t)))
	assert.Equal(t, 0, h.count())
}

func TestInMemoryEventBus_StartStop(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	ctx := context.Background()

	require.NoError(t, bus.Start(ctx))
	assert.True(t, bus.IsRunning())
	require.NoError(t, bus.Stop(ctx))
	assert.False(t, bus.IsRunning())
}
