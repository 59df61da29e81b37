package lifecycle

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memoryStore keeps copies of aggregates so tests see only what was saved
type memoryStore struct {
	mu         sync.Mutex
	projects   map[uuid.UUID]*lifecycle.ProjectData
	operations map[uuid.UUID]*lifecycle.LifecycleOperation
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		projects:   make(map[uuid.UUID]*lifecycle.ProjectData),
		operations: make(map[uuid.UUID]*lifecycle.LifecycleOperation),
	}
}

func cloneProject(p *lifecycle.ProjectData) *lifecycle.ProjectData {
	c := *p
	c.Runs = append([]lifecycle.RunData(nil), p.Runs...)
	c.PullDomainEvents()
	return &c
}

func cloneOperation(op *lifecycle.LifecycleOperation) *lifecycle.LifecycleOperation {
	c := *op
	return &c
}

type memoryProjectRepo struct {
	s *memoryStore
}

func (r *memoryProjectRepo) FindByID(_ context.Context, id uuid.UUID) (*lifecycle.ProjectData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneProject(p), nil
}

func (r *memoryProjectRepo) FindBySlug(_ context.Context, slug string) (*lifecycle.ProjectData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.projects {
		if p.ProjectSlug == slug {
			return cloneProject(p), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryProjectRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*lifecycle.ProjectData, error) {
	return r.FindByID(ctx, id)
}

func (r *memoryProjectRepo) FindAll(_ context.Context, filter lifecycle.ProjectFilter) ([]lifecycle.ProjectData, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []lifecycle.ProjectData
	for _, p := range r.s.projects {
		if filter.State != nil && p.LifecycleState != *filter.State {
			continue
		}
		if filter.Search != "" && !strings.Contains(p.ProjectSlug, strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, *cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectSlug < out[j].ProjectSlug })
	return out, int64(len(out)), nil
}

func (r *memoryProjectRepo) FindCoolingCandidates(_ context.Context, q lifecycle.CandidateQuery) ([]*lifecycle.ProjectData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*lifecycle.ProjectData
	for _, p := range r.s.projects {
		if !p.IsCoolingDue(q.Now) || p.ExpectedBytes == nil || p.ExpectedFiles == nil {
			continue
		}
		if r.blocked(p.ID, q.DispatchRetryAfter) {
			continue
		}
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CoolingEligibleAt.Before(*out[j].CoolingEligibleAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *memoryProjectRepo) blocked(projectID uuid.UUID, retryAfter time.Time) bool {
	for _, op := range r.s.operations {
		if op.ProjectDataID != projectID {
			continue
		}
		if op.Type == lifecycle.OperationTypeCool && op.Status.IsInFlight() {
			return true
		}
		if !retryAfter.IsZero() && op.ErrorCode == lifecycle.ErrorCodeDispatchFailed &&
			op.FinishedAt != nil && op.FinishedAt.After(retryAfter) {
			return true
		}
	}
	return false
}

func (r *memoryProjectRepo) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	_, err := r.FindBySlug(ctx, slug)
	return err == nil, nil
}

func (r *memoryProjectRepo) Create(_ context.Context, p *lifecycle.ProjectData) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.projects {
		if existing.ProjectSlug == p.ProjectSlug {
			return shared.ErrAlreadyExists
		}
	}
	r.s.projects[p.ID] = cloneProject(p)
	return nil
}

func (r *memoryProjectRepo) Update(_ context.Context, p *lifecycle.ProjectData) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.projects[p.ID]
	if !ok || stored.Version != p.Version {
		return shared.ErrConcurrencyConflict
	}
	p.IncrementVersion()
	r.s.projects[p.ID] = cloneProject(p)
	return nil
}

type memoryOperationRepo struct {
	s *memoryStore
}

func (r *memoryOperationRepo) FindByID(_ context.Context, id uuid.UUID) (*lifecycle.LifecycleOperation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	op, ok := r.s.operations[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return cloneOperation(op), nil
}

func (r *memoryOperationRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*lifecycle.LifecycleOperation, error) {
	return r.FindByID(ctx, id)
}

func (r *memoryOperationRepo) FindInFlightByProject(_ context.Context, projectID uuid.UUID) (*lifecycle.LifecycleOperation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, op := range r.s.operations {
		if op.ProjectDataID == projectID && op.Status.IsInFlight() {
			return cloneOperation(op), nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryOperationRepo) FindStalePending(_ context.Context, before time.Time, limit int) ([]*lifecycle.LifecycleOperation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*lifecycle.LifecycleOperation
	for _, op := range r.s.operations {
		if op.Status == lifecycle.OperationStatusPending && op.CreatedAt.Before(before) {
			out = append(out, cloneOperation(op))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryOperationRepo) FindAll(_ context.Context, filter lifecycle.OperationFilter) ([]lifecycle.LifecycleOperation, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []lifecycle.LifecycleOperation
	for _, op := range r.s.operations {
		if filter.ProjectDataID != nil && op.ProjectDataID != *filter.ProjectDataID {
			continue
		}
		if filter.Type != nil && op.Type != *filter.Type {
			continue
		}
		if filter.Status != nil && op.Status != *filter.Status {
			continue
		}
		out = append(out, *cloneOperation(op))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (r *memoryOperationRepo) CountByTypeAndStatus(_ context.Context) ([]lifecycle.OperationCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[lifecycle.OperationCount]int64)
	for _, op := range r.s.operations {
		counts[lifecycle.OperationCount{Type: op.Type, Status: op.Status}]++
	}
	var out []lifecycle.OperationCount
	for k, n := range counts {
		k.Count = n
		out = append(out, k)
	}
	return out, nil
}

func (r *memoryOperationRepo) Create(_ context.Context, op *lifecycle.LifecycleOperation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.operations {
		if existing.ProjectDataID == op.ProjectDataID && existing.Status.IsInFlight() {
			return lifecycle.ErrOperationInFlight
		}
	}
	r.s.operations[op.ID] = cloneOperation(op)
	return nil
}

func (r *memoryOperationRepo) Update(_ context.Context, op *lifecycle.LifecycleOperation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.operations[op.ID]; !ok {
		return shared.ErrNotFound
	}
	r.s.operations[op.ID] = cloneOperation(op)
	return nil
}

// recordingPublisher collects the events saved through the transaction scope
type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events ...shared.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// MockCoolingAPI is a mock implementation of CoolingAPI
type MockCoolingAPI struct {
	mock.Mock
}

func (m *MockCoolingAPI) Dispatch(ctx context.Context, req DispatchRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockInventory is a mock implementation of Inventory
type MockInventory struct {
	mock.Mock
}

func (m *MockInventory) Summarize(ctx context.Context, projectSlug string) (InventorySummary, error) {
	args := m.Called(ctx, projectSlug)
	return args.Get(0).(InventorySummary), args.Error(1)
}

// MockMetricsRecorder is a mock implementation of MetricsRecorder
type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) RecordDispatch(ctx context.Context, opType lifecycle.OperationType, accepted bool) {
	m.Called(ctx, opType, accepted)
}

func (m *MockMetricsRecorder) RecordOutcome(ctx context.Context, opType lifecycle.OperationType, status lifecycle.OperationStatus, errorCode string, duration time.Duration, bytes int64) {
	m.Called(ctx, opType, status, errorCode, duration, bytes)
}

func (m *MockMetricsRecorder) RecordTransition(ctx context.Context, from, to lifecycle.LifecycleState) {
	m.Called(ctx, from, to)
}

// testEnv wires the services over the in-memory store
type testEnv struct {
	store      *memoryStore
	projects   *memoryProjectRepo
	operations *memoryOperationRepo
	publisher  *recordingPublisher
	scope      *NoOpTransactionScope
	api        *MockCoolingAPI
	config     Config
	now        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemoryStore()
	env := &testEnv{
		store:      store,
		projects:   &memoryProjectRepo{s: store},
		operations: &memoryOperationRepo{s: store},
		publisher:  &recordingPublisher{},
		api:        new(MockCoolingAPI),
		config:     DefaultConfig(),
		now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.scope = NewNoOpTransactionScope(env.projects, env.operations, env.publisher)
	return env
}

func (e *testEnv) clock() time.Time {
	return e.now
}

func (e *testEnv) schedulingService() *SchedulingService {
	svc := NewSchedulingService(e.scope, e.projects, e.operations, e.api, e.config, nil)
	svc.dispatcher.now = e.clock
	return svc
}

func (e *testEnv) operationService() *OperationService {
	svc := NewOperationService(e.scope, e.operations, e.api, nil)
	svc.dispatcher.now = e.clock
	return svc
}

func (e *testEnv) callbackService(inventory Inventory) *CallbackService {
	svc := NewCallbackService(e.scope, e.projects, e.operations, inventory, e.config, nil)
	svc.now = e.clock
	return svc
}

// addProject stores a HOT project with totals 1000 bytes / 10 files and one run
func (e *testEnv) addProject(t *testing.T, slug string, eligibleAt *time.Time) *lifecycle.ProjectData {
	t.Helper()
	p, err := lifecycle.NewProjectData(slug, "")
	require.NoError(t, err)
	require.NoError(t, p.SetExpectedTotals(1000, 10))
	_, err = p.UpsertRun("run-1", int64Ptr(1000), int64Ptr(10))
	require.NoError(t, err)
	p.SetCoolingEligibleAt(eligibleAt)
	p.PullDomainEvents()
	require.NoError(t, e.projects.Create(context.Background(), p))
	return p
}

// addRunningOperation stores a dispatched operation for the project
func (e *testEnv) addRunningOperation(t *testing.T, projectID uuid.UUID, opType lifecycle.OperationType) *lifecycle.LifecycleOperation {
	t.Helper()
	op := e.addPendingOperation(t, projectID, opType)
	p := e.project(t, projectID)
	require.NoError(t, p.MarkDispatched(op, e.now.Add(-time.Hour)))
	p.PullDomainEvents()
	require.NoError(t, e.operations.Update(context.Background(), op))
	require.NoError(t, e.projects.Update(context.Background(), p))
	return op
}

// addPendingOperation stores a PENDING operation for the project
func (e *testEnv) addPendingOperation(t *testing.T, projectID uuid.UUID, opType lifecycle.OperationType) *lifecycle.LifecycleOperation {
	t.Helper()
	p := e.project(t, projectID)
	op, err := p.StartOperation(opType)
	require.NoError(t, err)
	p.PullDomainEvents()
	require.NoError(t, e.operations.Create(context.Background(), op))
	require.NoError(t, e.projects.Update(context.Background(), p))
	return op
}

// setState forces a stored project into a state
func (e *testEnv) setState(t *testing.T, projectID uuid.UUID, state lifecycle.LifecycleState) {
	t.Helper()
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	p := e.store.projects[projectID]
	p.LifecycleState = state
	for i := range p.Runs {
		p.Runs[i].LifecycleState = state
	}
}

func (e *testEnv) project(t *testing.T, id uuid.UUID) *lifecycle.ProjectData {
	t.Helper()
	p, err := e.projects.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) operation(t *testing.T, id uuid.UUID) *lifecycle.LifecycleOperation {
	t.Helper()
	op, err := e.operations.FindByID(context.Background(), id)
	require.NoError(t, err)
	return op
}

func int64Ptr(v int64) *int64 {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}
