package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"go.uber.org/zap"
)

// claimedOperation is a PENDING operation committed by a claim transaction
// and waiting for its dispatch
type claimedOperation struct {
	ProjectSlug string
	Operation   *lifecycle.LifecycleOperation
}

// dispatchOutcome is the result of one dispatch attempt
type dispatchOutcome struct {
	Operation *lifecycle.LifecycleOperation
	Accepted  bool
	Err       error
}

// dispatcher calls the cooling API for claimed operations and records
// the answer. It never runs inside a transaction: the API call happens
// after the claim commits, and the answer is applied in a new short
// transaction that locks the operation first, as the callback does.
type dispatcher struct {
	txScope TransactionScope
	api     CoolingAPI
	metrics MetricsRecorder
	logger  *zap.Logger
	now     func() time.Time
}

func newDispatcher(txScope TransactionScope, api CoolingAPI, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		txScope: txScope,
		api:     api,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (d *dispatcher) dispatch(ctx context.Context, claimed claimedOperation) (dispatchOutcome, error) {
	op := claimed.Operation
	log := d.logger.With(
		zap.String("project", claimed.ProjectSlug),
		zap.String("operation_id", op.ID.String()),
		zap.String("operation_type", string(op.Type)),
	)

	apiErr := d.api.Dispatch(ctx, DispatchRequest{
		OperationID: op.ID,
		Type:        op.Type,
		ProjectSlug: claimed.ProjectSlug,
		BytesTotal:  op.BytesTotal,
		FilesTotal:  op.FilesTotal,
	})
	if d.metrics != nil {
		d.metrics.RecordDispatch(ctx, op.Type, apiErr == nil)
	}
	if apiErr != nil {
		log.Warn("dispatch failed", zap.Error(apiErr))
	} else {
		log.Info("dispatch accepted")
	}

	outcome := dispatchOutcome{Accepted: apiErr == nil, Err: apiErr}
	// the API has been called, so record its answer even if ctx is cancelled
	ctx = context.WithoutCancel(ctx)
	err := d.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		current, err := repos.OperationRepo().FindByIDForUpdate(ctx, op.ID)
		if err != nil {
			return notFoundAs(err, ErrOperationNotFound)
		}
		outcome.Operation = current
		if current.Status != lifecycle.OperationStatusPending {
			// a callback got here first
			log.Info("operation already advanced", zap.String("status", string(current.Status)))
			return nil
		}

		project, err := repos.ProjectRepo().FindByIDForUpdate(ctx, current.ProjectDataID)
		if err != nil {
			return notFoundAs(err, ErrProjectNotFound)
		}

		now := d.now()
		if apiErr != nil {
			err = project.MarkDispatchFailed(current, apiErr.Error(), now)
		} else if project.LifecycleState.CanTransitionTo(current.Type.InFlightState()) {
			err = project.MarkDispatched(current, now)
		} else {
			err = project.FailOperation(current, lifecycle.ErrorCodeStateConflict,
				fmt.Sprintf("Project moved to %s before dispatch was recorded", project.LifecycleState), nil, now)
		}
		if err != nil {
			return err
		}

		if err := repos.OperationRepo().Update(ctx, current); err != nil {
			return err
		}
		if err := repos.ProjectRepo().Update(ctx, project); err != nil {
			return err
		}
		return repos.SaveEvents(ctx, project.PullDomainEvents()...)
	})
	if err != nil {
		log.Error("failed to record dispatch result", zap.Error(err))
		return outcome, fmt.Errorf("failed to record dispatch of operation %s: %w", op.ID, err)
	}
	return outcome, nil
}

// expire fails a PENDING operation whose dispatch result was never recorded
func (d *dispatcher) expire(ctx context.Context, opID uuid.UUID, reason string) (bool, error) {
	expired := false
	err := d.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		op, err := repos.OperationRepo().FindByIDForUpdate(ctx, opID)
		if err != nil {
			return notFoundAs(err, ErrOperationNotFound)
		}
		if op.Status != lifecycle.OperationStatusPending {
			return nil
		}
		project, err := repos.ProjectRepo().FindByIDForUpdate(ctx, op.ProjectDataID)
		if err != nil {
			return notFoundAs(err, ErrProjectNotFound)
		}
		if err := project.MarkDispatchFailed(op, reason, d.now()); err != nil {
			return err
		}
		if err := repos.OperationRepo().Update(ctx, op); err != nil {
			return err
		}
		if err := repos.ProjectRepo().Update(ctx, project); err != nil {
			return err
		}
		expired = true
		return repos.SaveEvents(ctx, project.PullDomainEvents()...)
	})
	return expired, err
}
