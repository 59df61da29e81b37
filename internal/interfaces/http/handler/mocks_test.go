package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/application/event"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/stretchr/testify/mock"
)

type mockProjectService struct {
	mock.Mock
}

func (m *mockProjectService) RegisterProject(ctx context.Context, req lifecycleapp.RegisterProjectRequest) (*lifecycleapp.ProjectResponse, error) {
	args := m.Called(ctx, req)
	return projectResult(args)
}

func (m *mockProjectService) GetProject(ctx context.Context, id uuid.UUID) (*lifecycleapp.ProjectResponse, error) {
	args := m.Called(ctx, id)
	return projectResult(args)
}

func (m *mockProjectService) ListProjects(ctx context.Context, filter lifecycleapp.ProjectListFilter) ([]lifecycleapp.ProjectResponse, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]lifecycleapp.ProjectResponse), args.Get(1).(int64), args.Error(2)
}

func (m *mockProjectService) SetCoolingEligibility(ctx context.Context, id uuid.UUID, req lifecycleapp.SetEligibilityRequest) (*lifecycleapp.ProjectResponse, error) {
	args := m.Called(ctx, id, req)
	return projectResult(args)
}

func (m *mockProjectService) SetExpectedTotals(ctx context.Context, id uuid.UUID, req lifecycleapp.SetTotalsRequest) (*lifecycleapp.ProjectResponse, error) {
	args := m.Called(ctx, id, req)
	return projectResult(args)
}

func (m *mockProjectService) UpsertRun(ctx context.Context, id uuid.UUID, req lifecycleapp.UpsertRunRequest) (*lifecycleapp.ProjectResponse, error) {
	args := m.Called(ctx, id, req)
	return projectResult(args)
}

func projectResult(args mock.Arguments) (*lifecycleapp.ProjectResponse, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycleapp.ProjectResponse), args.Error(1)
}

type mockOperationService struct {
	mock.Mock
}

func (m *mockOperationService) RequestCooling(ctx context.Context, projectID uuid.UUID) (*lifecycleapp.OperationResponse, error) {
	return operationResult(m.Called(ctx, projectID))
}

func (m *mockOperationService) RequestRestore(ctx context.Context, projectID uuid.UUID) (*lifecycleapp.OperationResponse, error) {
	return operationResult(m.Called(ctx, projectID))
}

func (m *mockOperationService) RetryFromError(ctx context.Context, projectID uuid.UUID, opType lifecycle.OperationType) (*lifecycleapp.OperationResponse, error) {
	return operationResult(m.Called(ctx, projectID, opType))
}

func (m *mockOperationService) GetOperation(ctx context.Context, id uuid.UUID) (*lifecycleapp.OperationResponse, error) {
	return operationResult(m.Called(ctx, id))
}

func (m *mockOperationService) ListOperations(ctx context.Context, filter lifecycleapp.OperationListFilter) ([]lifecycleapp.OperationResponse, int64, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]lifecycleapp.OperationResponse), args.Get(1).(int64), args.Error(2)
}

func (m *mockOperationService) OperationStats(ctx context.Context) (*lifecycleapp.OperationStatsResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycleapp.OperationStatsResponse), args.Error(1)
}

func operationResult(args mock.Arguments) (*lifecycleapp.OperationResponse, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycleapp.OperationResponse), args.Error(1)
}

type mockCallbackService struct {
	mock.Mock
}

func (m *mockCallbackService) HandleCallback(ctx context.Context, req lifecycleapp.CallbackRequest) (*lifecycleapp.CallbackResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycleapp.CallbackResult), args.Error(1)
}

type mockScheduleRunner struct {
	mock.Mock
}

func (m *mockScheduleRunner) TriggerNow(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error) {
	return scheduleResult(m.Called(ctx, opts))
}

func (m *mockScheduleRunner) ScheduleCooling(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error) {
	return scheduleResult(m.Called(ctx, opts))
}

func scheduleResult(args mock.Arguments) (*lifecycleapp.ScheduleResult, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lifecycleapp.ScheduleResult), args.Error(1)
}

type mockOutboxAdmin struct {
	mock.Mock
}

func (m *mockOutboxAdmin) GetDeadLetterEntries(ctx context.Context, filter event.OutboxFilter) (*event.OutboxListResult, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*event.OutboxListResult), args.Error(1)
}

func (m *mockOutboxAdmin) GetEntry(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*event.OutboxEntryDTO), args.Error(1)
}

func (m *mockOutboxAdmin) RetryDeadEntry(ctx context.Context, id uuid.UUID) (*event.OutboxEntryDTO, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*event.OutboxEntryDTO), args.Error(1)
}

func (m *mockOutboxAdmin) RetryAllDeadEntries(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOutboxAdmin) GetStats(ctx context.Context) (*event.OutboxStatsDTO, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*event.OutboxStatsDTO), args.Error(1)
}
