package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/labdata/backend/internal/domain/lifecycle"
	"go.uber.org/zap"
)

// SchedulingService moves HOT projects past their cooling deadline to the
// cold tier
type SchedulingService struct {
	txScope       TransactionScope
	projectRepo   lifecycle.ProjectDataRepository
	operationRepo lifecycle.LifecycleOperationRepository
	dispatcher    *dispatcher
	config        Config
	logger        *zap.Logger
}

// NewSchedulingService creates a new SchedulingService
func NewSchedulingService(
	txScope TransactionScope,
	projectRepo lifecycle.ProjectDataRepository,
	operationRepo lifecycle.LifecycleOperationRepository,
	api CoolingAPI,
	config Config,
	logger *zap.Logger,
) *SchedulingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &SchedulingService{
		txScope:       txScope,
		projectRepo:   projectRepo,
		operationRepo: operationRepo,
		dispatcher:    newDispatcher(txScope, api, logger),
		config:        config,
		logger:        logger,
	}
}

// SetMetrics sets the recorder that counts dispatch attempts
func (s *SchedulingService) SetMetrics(metrics MetricsRecorder) {
	s.dispatcher.metrics = metrics
}

// ScheduleCooling runs one scheduler pass. Due projects are claimed and
// their PENDING operations committed in one short transaction holding
// the row locks; the cooling API is called only after that commit.
func (s *SchedulingService) ScheduleCooling(ctx context.Context, opts ScheduleOptions) (*ScheduleResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = s.dispatcher.now()
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = s.config.BatchSize
	}
	query := lifecycle.CandidateQuery{
		Now:   now,
		Limit: limit,
	}
	if s.config.RetryDelay > 0 {
		query.DispatchRetryAfter = now.Add(-s.config.RetryDelay)
	}

	if opts.DryRun {
		return s.dryRun(ctx, query)
	}

	if _, err := s.ExpireStalePending(ctx, now); err != nil {
		s.logger.Error("failed to expire stale operations", zap.Error(err))
	}

	claimed, err := s.claim(ctx, query)
	if err != nil {
		return nil, err
	}

	result := &ScheduleResult{
		Candidates: make([]string, len(claimed)),
		Claimed:    len(claimed),
		Operations: make([]OperationResponse, 0, len(claimed)),
	}
	for i, c := range claimed {
		result.Candidates[i] = c.ProjectSlug
	}

	for _, c := range claimed {
		if err := ctx.Err(); err != nil {
			// undispatched operations stay PENDING until ExpireStalePending fails them
			s.logger.Warn("scheduler pass cancelled before all dispatches",
				zap.Int("remaining", len(claimed)-result.Dispatched-result.Failed))
			return result, err
		}
		outcome, err := s.dispatcher.dispatch(ctx, c)
		if err != nil {
			result.Failed++
			continue
		}
		if outcome.Accepted {
			result.Dispatched++
		} else {
			result.Failed++
		}
		if outcome.Operation != nil {
			result.Operations = append(result.Operations, ToOperationResponse(outcome.Operation))
		}
	}

	s.logger.Info("scheduler pass finished",
		zap.Int("claimed", result.Claimed),
		zap.Int("dispatched", result.Dispatched),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// ExpireStalePending fails PENDING operations older than the configured
// PendingTimeout. Such operations were claimed but their dispatch result
// was never recorded, usually because the process stopped mid-pass.
// The project keeps its state, so the next pass can claim it again.
func (s *SchedulingService) ExpireStalePending(ctx context.Context, now time.Time) (int, error) {
	if s.config.PendingTimeout <= 0 {
		return 0, nil
	}
	stale, err := s.operationRepo.FindStalePending(ctx, now.Add(-s.config.PendingTimeout), s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale operations: %w", err)
	}

	expired := 0
	for _, op := range stale {
		ok, err := s.dispatcher.expire(ctx, op.ID,
			fmt.Sprintf("Dispatch result not recorded within %s", s.config.PendingTimeout))
		if err != nil {
			s.logger.Error("failed to expire operation",
				zap.String("operation_id", op.ID.String()),
				zap.Error(err))
			continue
		}
		if ok {
			expired++
			s.logger.Warn("expired stale operation", zap.String("operation_id", op.ID.String()))
		}
	}
	return expired, nil
}

func (s *SchedulingService) dryRun(ctx context.Context, query lifecycle.CandidateQuery) (*ScheduleResult, error) {
	candidates, err := s.projectRepo.FindCoolingCandidates(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find cooling candidates: %w", err)
	}
	result := &ScheduleResult{
		DryRun:     true,
		Candidates: make([]string, len(candidates)),
		Operations: []OperationResponse{},
	}
	for i, p := range candidates {
		result.Candidates[i] = p.ProjectSlug
	}
	return result, nil
}

// claim locks due projects and creates a PENDING COOL operation for each
func (s *SchedulingService) claim(ctx context.Context, query lifecycle.CandidateQuery) ([]claimedOperation, error) {
	query.Lock = true
	query.SkipLocked = s.config.SkipLocked

	var claimed []claimedOperation
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		claimed = nil
		candidates, err := repos.ProjectRepo().FindCoolingCandidates(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to find cooling candidates: %w", err)
		}

		for _, project := range candidates {
			inFlight, err := findInFlight(ctx, repos.OperationRepo(), project.ID)
			if err != nil {
				return fmt.Errorf("failed to check operations of %s: %w", project.ProjectSlug, err)
			}
			if err := project.EnsureNoOperationInFlight(inFlight); err != nil {
				s.logger.Info("skipping cooling candidate with operation in flight",
					zap.String("project", project.ProjectSlug),
					zap.String("operation_id", inFlight.ID.String()))
				continue
			}

			op, err := project.StartOperation(lifecycle.OperationTypeCool)
			if err != nil {
				s.logger.Warn("skipping cooling candidate",
					zap.String("project", project.ProjectSlug),
					zap.Error(err))
				continue
			}
			if err := repos.OperationRepo().Create(ctx, op); err != nil {
				return fmt.Errorf("failed to create operation for %s: %w", project.ProjectSlug, err)
			}
			if err := repos.ProjectRepo().Update(ctx, project); err != nil {
				return fmt.Errorf("failed to claim %s: %w", project.ProjectSlug, err)
			}
			if err := repos.SaveEvents(ctx, project.PullDomainEvents()...); err != nil {
				return err
			}
			claimed = append(claimed, claimedOperation{ProjectSlug: project.ProjectSlug, Operation: op})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
