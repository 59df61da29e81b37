package lifecycle

import (
	"context"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// OperationService starts operations on request and reports on them
type OperationService struct {
	txScope       TransactionScope
	operationRepo lifecycle.LifecycleOperationRepository
	dispatcher    *dispatcher
	logger        *zap.Logger
}

// NewOperationService creates a new OperationService
func NewOperationService(
	txScope TransactionScope,
	operationRepo lifecycle.LifecycleOperationRepository,
	api CoolingAPI,
	logger *zap.Logger,
) *OperationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("operations")
	return &OperationService{
		txScope:       txScope,
		operationRepo: operationRepo,
		dispatcher:    newDispatcher(txScope, api, logger),
		logger:        logger,
	}
}

// SetMetrics sets the recorder that counts dispatch attempts
func (s *OperationService) SetMetrics(metrics MetricsRecorder) {
	s.dispatcher.metrics = metrics
}

// RequestCooling cools a HOT project now, ignoring its cooling deadline
func (s *OperationService) RequestCooling(ctx context.Context, projectID uuid.UUID) (*OperationResponse, error) {
	return s.start(ctx, projectID, lifecycle.OperationTypeCool, false)
}

// RequestRestore brings a COOL project back to the hot tier
func (s *OperationService) RequestRestore(ctx context.Context, projectID uuid.UUID) (*OperationResponse, error) {
	return s.start(ctx, projectID, lifecycle.OperationTypeRestore, false)
}

// RetryFromError starts a new operation of the given type for a project in ERROR
func (s *OperationService) RetryFromError(ctx context.Context, projectID uuid.UUID, opType lifecycle.OperationType) (*OperationResponse, error) {
	return s.start(ctx, projectID, opType, true)
}

// start claims the project under a row lock, commits a PENDING operation,
// then dispatches it the same way the scheduler does
func (s *OperationService) start(ctx context.Context, projectID uuid.UUID, opType lifecycle.OperationType, retry bool) (*OperationResponse, error) {
	var claimed claimedOperation
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		project, err := repos.ProjectRepo().FindByIDForUpdate(ctx, projectID)
		if err != nil {
			return notFoundAs(err, ErrProjectNotFound)
		}
		if retry && project.LifecycleState != lifecycle.StateError {
			return ErrNotInError
		}

		inFlight, err := findInFlight(ctx, repos.OperationRepo(), projectID)
		if err != nil {
			return err
		}
		if err := project.EnsureNoOperationInFlight(inFlight); err != nil {
			return err
		}

		op, err := project.StartOperation(opType)
		if err != nil {
			return err
		}
		if err := repos.OperationRepo().Create(ctx, op); err != nil {
			return err
		}
		if err := repos.ProjectRepo().Update(ctx, project); err != nil {
			return err
		}
		if err := repos.SaveEvents(ctx, project.PullDomainEvents()...); err != nil {
			return err
		}
		claimed = claimedOperation{ProjectSlug: project.ProjectSlug, Operation: op}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("operation requested",
		zap.String("project", claimed.ProjectSlug),
		zap.String("operation_id", claimed.Operation.ID.String()),
		zap.String("operation_type", string(opType)),
		zap.Bool("retry", retry),
	)

	outcome, err := s.dispatcher.dispatch(ctx, claimed)
	if err != nil {
		return nil, err
	}
	resp := ToOperationResponse(outcome.Operation)
	return &resp, nil
}

// GetOperation returns a single operation
func (s *OperationService) GetOperation(ctx context.Context, id uuid.UUID) (*OperationResponse, error) {
	op, err := s.operationRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrOperationNotFound)
	}
	resp := ToOperationResponse(op)
	return &resp, nil
}

// ListOperations lists operations with the total match count
func (s *OperationService) ListOperations(ctx context.Context, filter OperationListFilter) ([]OperationResponse, int64, error) {
	domainFilter := lifecycle.OperationFilter{
		Filter:        toFilter(filter.Page, filter.PageSize, filter.OrderBy, filter.OrderDir),
		ProjectDataID: filter.ProjectID,
	}
	if filter.Type != "" {
		opType := lifecycle.OperationType(filter.Type)
		if !opType.IsValid() {
			return nil, 0, shared.NewDomainError("VALIDATION_ERROR", "Unknown operation type")
		}
		domainFilter.Type = &opType
	}
	if filter.Status != "" {
		status := lifecycle.OperationStatus(filter.Status)
		if !status.IsValid() {
			return nil, 0, shared.NewDomainError("VALIDATION_ERROR", "Unknown operation status")
		}
		domainFilter.Status = &status
	}

	ops, total, err := s.operationRepo.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	responses := make([]OperationResponse, len(ops))
	for i := range ops {
		responses[i] = ToOperationResponse(&ops[i])
	}
	return responses, total, nil
}

// OperationStats counts operations by type and status
func (s *OperationService) OperationStats(ctx context.Context) (*OperationStatsResponse, error) {
	counts, err := s.operationRepo.CountByTypeAndStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &OperationStatsResponse{Counts: make([]OperationCountResponse, len(counts))}
	for i, c := range counts {
		stats.Counts[i] = OperationCountResponse{
			Type:   string(c.Type),
			Status: string(c.Status),
			Count:  c.Count,
		}
		stats.Total += c.Count
		if c.Status.IsInFlight() {
			stats.InFlight += c.Count
		}
		if c.Status == lifecycle.OperationStatusFailed {
			stats.Failed += c.Count
		}
	}
	return stats, nil
}
