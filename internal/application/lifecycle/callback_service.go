package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/labdata/backend/internal/domain/lifecycle"
	"go.uber.org/zap"
)

// CallbackService applies the cooling API's reports on transfers
type CallbackService struct {
	txScope       TransactionScope
	projectRepo   lifecycle.ProjectDataRepository
	operationRepo lifecycle.LifecycleOperationRepository
	inventory     Inventory
	config        Config
	logger        *zap.Logger
	now           func() time.Time
}

// NewCallbackService creates a new CallbackService. inventory may be nil,
// which disables the storage cross-check.
func NewCallbackService(
	txScope TransactionScope,
	projectRepo lifecycle.ProjectDataRepository,
	operationRepo lifecycle.LifecycleOperationRepository,
	inventory Inventory,
	config Config,
	logger *zap.Logger,
) *CallbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackService{
		txScope:       txScope,
		projectRepo:   projectRepo,
		operationRepo: operationRepo,
		inventory:     inventory,
		config:        config,
		logger:        logger.Named("callback"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// inventoryCheck is the outcome of the storage cross-check
type inventoryCheck struct {
	summary InventorySummary
	result  lifecycle.VerificationResult
}

// HandleCallback applies a SUCCEEDED or FAILED report. Replays for an
// operation that already finished change nothing and report
// AlreadyProcessed. The operation row is locked before the project row.
func (s *CallbackService) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	if !req.Status.IsTerminal() {
		return nil, ErrInvalidCallback
	}
	log := s.logger.With(
		zap.String("operation_id", req.OperationID.String()),
		zap.String("status", string(req.Status)),
	)

	// storage is read before the transaction so no row lock waits on S3
	check, err := s.checkInventory(ctx, req)
	if err != nil {
		log.Error("inventory cross-check failed", zap.Error(err))
		return nil, err
	}

	result := &CallbackResult{}
	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		op, err := repos.OperationRepo().FindByIDForUpdate(ctx, req.OperationID)
		if err != nil {
			return notFoundAs(err, ErrOperationNotFound)
		}
		project, err := repos.ProjectRepo().FindByIDForUpdate(ctx, op.ProjectDataID)
		if err != nil {
			return notFoundAs(err, ErrProjectNotFound)
		}

		if op.IsTerminal() {
			result.AlreadyProcessed = true
			result.Operation = ToOperationResponse(op)
			result.ProjectState = string(project.LifecycleState)
			return nil
		}

		now := s.now()
		if op.Status == lifecycle.OperationStatusPending &&
			project.LifecycleState.CanTransitionTo(op.Type.InFlightState()) {
			// the callback beat the recording of the 202; it implies the ack
			if err := project.MarkDispatched(op, now); err != nil {
				return err
			}
		}

		switch {
		case req.Status == lifecycle.OperationStatusFailed:
			err = project.FailOperation(op, req.ErrorCode, failureMessage(req), req.ErrorDetails, now)
		case check != nil && op.Type == lifecycle.OperationTypeCool && !check.result.Matched:
			details := check.result.Details()
			details["source"] = "storage_inventory"
			err = project.FailOperation(op, lifecycle.ErrorCodeInventoryMismatch,
				fmt.Sprintf("Cold storage holds %d bytes in %d files, expected %d bytes in %d files",
					check.summary.Bytes, check.summary.Files, op.BytesTotal, op.FilesTotal),
				details, now)
		default:
			var verification lifecycle.VerificationResult
			verification, err = project.CompleteOperation(op, req.BytesCopied, req.FilesCopied, now, s.config.RestoreRetention)
			result.Verification = toVerificationResponse(verification)
		}
		if err != nil {
			return err
		}

		if err := repos.OperationRepo().Update(ctx, op); err != nil {
			return err
		}
		if err := repos.ProjectRepo().Update(ctx, project); err != nil {
			return err
		}
		if err := repos.SaveEvents(ctx, project.PullDomainEvents()...); err != nil {
			return err
		}

		result.Operation = ToOperationResponse(op)
		result.ProjectState = string(project.LifecycleState)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyProcessed {
		log.Info("callback replay ignored", zap.String("operation_status", result.Operation.Status))
	} else {
		log.Info("callback applied",
			zap.String("operation_status", result.Operation.Status),
			zap.String("error_code", result.Operation.ErrorCode),
			zap.String("project_state", result.ProjectState),
		)
	}
	return result, nil
}

// checkInventory compares what cold storage holds for the project with the
// operation's totals. It only runs for SUCCEEDED reports on COOL operations
// that are still open; nil means no check was made.
func (s *CallbackService) checkInventory(ctx context.Context, req CallbackRequest) (*inventoryCheck, error) {
	if s.inventory == nil || req.Status != lifecycle.OperationStatusSucceeded {
		return nil, nil
	}
	op, err := s.operationRepo.FindByID(ctx, req.OperationID)
	if err != nil {
		return nil, notFoundAs(err, ErrOperationNotFound)
	}
	if op.Type != lifecycle.OperationTypeCool || op.IsTerminal() {
		return nil, nil
	}
	project, err := s.projectRepo.FindByID(ctx, op.ProjectDataID)
	if err != nil {
		return nil, notFoundAs(err, ErrProjectNotFound)
	}

	summary, err := s.inventory.Summarize(ctx, project.ProjectSlug)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}
	return &inventoryCheck{
		summary: summary,
		result:  lifecycle.Verify(op.BytesTotal, op.FilesTotal, &summary.Bytes, &summary.Files),
	}, nil
}

func failureMessage(req CallbackRequest) string {
	if req.ErrorMessage != "" {
		return req.ErrorMessage
	}
	return "Transfer reported as failed"
}
