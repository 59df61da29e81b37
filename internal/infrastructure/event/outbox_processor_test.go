package event

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockOutboxRepository is a mock implementation for testing
type mockOutboxRepository struct {
	mu               sync.Mutex
	entries          map[uuid.UUID]*shared.OutboxEntry
	findPendingFn    func(ctx context.Context, limit int) ([]*shared.OutboxEntry, error)
	findRetryableFn  func(ctx context.Context, before time.Time, limit int) ([]*shared.OutboxEntry, error)
	markProcessingFn func(ctx context.Context, ids []uuid.UUID) ([]*shared.OutboxEntry, error)
	updateFn         func(ctx context.Context, entry *shared.OutboxEntry) error
	deleteFn         func(ctx context.Context, before time.Time) (int64, error)
}

func newMockOutboxRepository() *mockOutboxRepository {
	return &mockOutboxRepository{
		entries: make(map[uuid.UUID]*shared.OutboxEntry),
	}
}

func (r *mockOutboxRepository) Save(ctx context.Context, entries ...*shared.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.entries[e.ID] = e
	}
	return nil
}

func (r *mockOutboxRepository) FindPending(ctx context.Context, limit int) ([]*shared.OutboxEntry, error) {
	if r.findPendingFn != nil {
		return r.findPendingFn(ctx, limit)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*shared.OutboxEntry
	for _, e := range r.entries {
		if e.Status == shared.OutboxStatusPending {
			result = append(result, e)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (r *mockOutboxRepository) FindRetryable(ctx context.Context, before time.Time, limit int) ([]*shared.OutboxEntry, error) {
	if r.findRetryableFn != nil {
		return r.findRetryableFn(ctx, before, limit)
	}
	return nil, nil
}

func (r *mockOutboxRepository) MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*shared.OutboxEntry, error) {
	if r.markProcessingFn != nil {
		return r.markProcessingFn(ctx, ids)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*shared.OutboxEntry
	for _, id := range ids {
		if e, ok := r.entries[id]; ok {
			e.Status = shared.OutboxStatusProcessing
			claimed := *e
			result = append(result, &claimed)
		}
	}
	return result, nil
}

func (r *mockOutboxRepository) Update(ctx context.Context, entry *shared.OutboxEntry) error {
	if r.updateFn != nil {
		return r.updateFn(ctx, entry)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[entry.ID] = entry
	return nil
}

func (r *mockOutboxRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	if r.deleteFn != nil {
		return r.deleteFn(ctx, before)
	}
	return 0, nil
}

func (r *mockOutboxRepository) FindDead(ctx context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*shared.OutboxEntry
	for _, e := range r.entries {
		if e.Status == shared.OutboxStatusDead {
			result = append(result, e)
		}
	}
	return result, int64(len(result)), nil
}

func (r *mockOutboxRepository) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	return nil, shared.ErrNotFound
}

func (r *mockOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[shared.OutboxStatus]int64)
	for _, e := range r.entries {
		counts[e.Status]++
	}
	return counts, nil
}

func (r *mockOutboxRepository) status(id uuid.UUID) *shared.OutboxEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// saveTestEntry stores a pending entry for a registered lifecycle event
func saveTestEntry(t *testing.T, repo *mockOutboxRepository, serializer *EventSerializer) *shared.OutboxEntry {
	t.Helper()
	event := newTestEvent(t)
	payload, err := serializer.Serialize(event)
	require.NoError(t, err)
	entry := shared.NewOutboxEntry(event, payload)
	require.NoError(t, repo.Save(context.Background(), entry))
	return entry
}

func TestOutboxProcessor_ProcessOnce_DeliversPending(t *testing.T) {
	serializer := NewLifecycleEventSerializer()
	repo := newMockOutboxRepository()
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler(lifecycle.EventTypeProjectDataRegistered)
	bus.Subscribe(handler)

	entry := saveTestEntry(t, repo, serializer)
	processor := NewOutboxProcessor(repo, bus, serializer, DefaultOutboxProcessorConfig(), zap.NewNop())

	assert.Equal(t, 1, processor.ProcessOnce(context.Background()))
	assert.Equal(t, 1, handler.count())

	stored := repo.status(entry.ID)
	assert.Equal(t, shared.OutboxStatusSent, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	assert.Equal(t, 0, processor.ProcessOnce(context.Background()), "sent entries are not delivered again")
}

func TestOutboxProcessor_ProcessOnce_HandlerErrorSchedulesRetry(t *testing.T) {
	serializer := NewLifecycleEventSerializer()
	repo := newMockOutboxRepository()
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler()
	handler.setError(errors.New("audit sink down"))
	bus.Subscribe(handler)

	entry := saveTestEntry(t, repo, serializer)
	processor := NewOutboxProcessor(repo, bus, serializer, DefaultOutboxProcessorConfig(), zap.NewNop())

	assert.Equal(t, 0, processor.ProcessOnce(context.Background()))

	stored := repo.status(entry.ID)
	assert.Equal(t, shared.OutboxStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Contains(t, stored.LastError, "audit sink down")
	require.NotNil(t, stored.NextRetryAt)
	assert.True(t, stored.NextRetryAt.After(time.Now().UTC()))
}

func TestOutboxProcessor_ProcessOnce_RetriesDueEntries(t *testing.T) {
	serializer := NewLifecycleEventSerializer()
	repo := newMockOutboxRepository()
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler()
	bus.Subscribe(handler)

	entry := saveTestEntry(t, repo, serializer)
	entry.MarkFailed("previous attempt")
	past := time.Now().UTC().Add(-time.Second)
	entry.NextRetryAt = &past

	repo.findRetryableFn = func(_ context.Context, before time.Time, _ int) ([]*shared.OutboxEntry, error) {
		if entry.Status == shared.OutboxStatusFailed && !entry.NextRetryAt.After(before) {
			return []*shared.OutboxEntry{entry}, nil
		}
		return nil, nil
	}

	processor := NewOutboxProcessor(repo, bus, serializer, DefaultOutboxProcessorConfig(), zap.NewNop())
	assert.Equal(t, 1, processor.ProcessOnce(context.Background()))
	assert.Equal(t, shared.OutboxStatusSent, repo.status(entry.ID).Status)
}

func TestOutboxProcessor_ProcessOnce_DeadLetter(t *testing.T) {
	serializer := NewLifecycleEventSerializer()
	repo := newMockOutboxRepository()
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler()
	handler.setError(errors.New("still down"))
	bus.Subscribe(handler)

	entry := saveTestEntry(t, repo, serializer)
	entry.MaxRetries = 1
	processor := NewOutboxProcessor(repo, bus, serializer, DefaultOutboxProcessorConfig(), zap.NewNop())

	processor.ProcessOnce(context.Background())

	stored := repo.status(entry.ID)
	assert.True(t, stored.IsDead())
	assert.Nil(t, stored.NextRetryAt)
}

func TestOutboxProcessor_ProcessOnce_UnknownEventType(t *testing.T) {
	serializer := NewEventSerializer()
	repo := newMockOutboxRepository()
	bus := NewInMemoryEventBus(zap.NewNop())

	entry := saveTestEntry(t, repo, NewLifecycleEventSerializer())
	processor := NewOutboxProcessor(repo, bus, serializer, DefaultOutboxProcessorConfig(), zap.NewNop())

	processor.ProcessOnce(context.Background())

	stored := repo.status(entry.ID)
	assert.Equal(t, shared.OutboxStatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "unknown event type")
}

func TestOutboxProcessor_ProcessOnce_RepositoryErrors(t *testing.T) {
	serializer := NewLifecycleEventSerializer()
	repo := newMockOutboxRepository()
	repo.findPendingFn = func(context.Context, int) ([]*shared.OutboxEntry, error) {
		return nil, errors.New("db down")
	}
	processor := NewOutboxProcessor(repo, NewInMemoryEventBus(nil), serializer, DefaultOutboxProcessorConfig(), nil)

	assert.Equal(t, 0, processor.ProcessOnce(context.Background()))
}

func TestOutboxProcessor_ProcessOnce_ClaimedElsewhere(t *testing.T) {
	serializer := NewLifecycleEventSerializer()
	repo := newMockOutboxRepository()
	bus := NewInMemoryEventBus(nil)
	handler := newTestHandler()
	bus.Subscribe(handler)

	saveTestEntry(t, repo, serializer)
	repo.markProcessingFn = func(context.Context, []uuid.UUID) ([]*shared.OutboxEntry, error) {
		return nil, nil
	}
	processor := NewOutboxProcessor(repo, bus, serializer, DefaultOutboxProcessorConfig(), nil)

	assert.Equal(t, 0, processor.ProcessOnce(context.Background()))
	assert.Equal(t, 0, handler.count())
}

func TestOutboxProcessor_StartStop(t *testing.T) {
	serializer := NewLifecycleEventSerializer()
	repo := newMockOutboxRepository()
	bus := NewInMemoryEventBus(zap.NewNop())
	handler := newTestHandler()
	bus.Subscribe(handler)
	entry := saveTestEntry(t, repo, serializer)

	var deleted sync.WaitGroup
	deleted.Add(1)
	var once sync.Once
	repo.deleteFn = func(context.Context, time.Time) (int64, error) {
		once.Do(deleted.Done)
		return 0, nil
	}

	config := OutboxProcessorConfig{
		BatchSize:        10,
		PollInterval:     10 * time.Millisecond,
		CleanupEnabled:   true,
		CleanupRetention: time.Hour,
		CleanupInterval:  10 * time.Millisecond,
	}
	processor := NewOutboxProcessor(repo, bus, serializer, config, zap.NewNop())
	require.NoError(t, processor.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return repo.status(entry.ID).Status == shared.OutboxStatusSent
	}, time.Second, 10*time.Millisecond)
	deleted.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, processor.Stop(stopCtx))
}

func TestDefaultOutboxProcessorConfig(t *testing.T) {
	config := DefaultOutboxProcessorConfig()

	assert.Equal(t, 100, config.BatchSize)
	assert.Equal(t, 5*time.Second, config.PollInterval)
	assert.True(t, config.CleanupEnabled)
	assert.Equal(t, 7*24*time.Hour, config.CleanupRetention)
	assert.Equal(t, time.Hour, config.CleanupInterval)
}
