package lifecycle

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSchedulingService_ScheduleCooling(t *testing.T) {
	t.Run("claims due projects oldest first and dispatches them", func(t *testing.T) {
		env := newTestEnv(t)
		older := env.addProject(t, "older", timePtr(env.now.Add(-2*time.Hour)))
		newer := env.addProject(t, "newer", timePtr(env.now.Add(-time.Hour)))
		env.addProject(t, "not-due", timePtr(env.now.Add(time.Hour)))
		env.addProject(t, "no-deadline", nil)

		env.api.On("Dispatch", mock.Anything, mock.MatchedBy(func(req DispatchRequest) bool {
			return req.Type == lifecycle.OperationTypeCool && req.BytesTotal == 1000 && req.FilesTotal == 10
		})).Return(nil).Twice()

		result, err := env.schedulingService().ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now})

		require.NoError(t, err)
		assert.False(t, result.DryRun)
		assert.Equal(t, []string{"older", "newer"}, result.Candidates)
		assert.Equal(t, 2, result.Claimed)
		assert.Equal(t, 2, result.Dispatched)
		assert.Equal(t, 0, result.Failed)
		require.Len(t, result.Operations, 2)

		for _, id := range []uuid.UUID{older.ID, newer.ID} {
			p := env.project(t, id)
			assert.Equal(t, lifecycle.StateCooling, p.LifecycleState)
			for _, run := range p.Runs {
				assert.Equal(t, lifecycle.StateCooling, run.LifecycleState)
			}
			require.NotNil(t, p.LastOperationID)
			op := env.operation(t, *p.LastOperationID)
			assert.Equal(t, lifecycle.OperationStatusRunning, op.Status)
			require.NotNil(t, op.StartedAt)
			assert.Equal(t, env.now, *op.StartedAt)
		}

		assert.Equal(t, []string{
			lifecycle.EventTypeOperationStarted,
			lifecycle.EventTypeOperationStarted,
			lifecycle.EventTypeOperationDispatched,
			lifecycle.EventTypeOperationDispatched,
		}, env.publisher.types())
		env.api.AssertExpectations(t)
	})

	t.Run("dispatch failure keeps the project HOT", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.addProject(t, "flaky", timePtr(env.now.Add(-time.Hour)))
		env.api.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("connection refused")).Once()

		result, err := env.schedulingService().ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Claimed)
		assert.Equal(t, 0, result.Dispatched)
		assert.Equal(t, 1, result.Failed)

		stored := env.project(t, p.ID)
		assert.Equal(t, lifecycle.StateHot, stored.LifecycleState)
		op := env.operation(t, *stored.LastOperationID)
		assert.Equal(t, lifecycle.OperationStatusFailed, op.Status)
		assert.Equal(t, lifecycle.ErrorCodeDispatchFailed, op.ErrorCode)
		assert.Equal(t, "connection refused", op.ErrorMessage)
		assert.Contains(t, env.publisher.types(), lifecycle.EventTypeDispatchFailed)
		env.api.AssertExpectations(t)
	})

	t.Run("failed dispatch waits for the retry delay", func(t *testing.T) {
		env := newTestEnv(t)
		env.addProject(t, "flaky", timePtr(env.now.Add(-time.Hour)))
		env.api.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("503 from cooling api")).Once()
		svc := env.schedulingService()

		_, err := svc.ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now})
		require.NoError(t, err)

		result, err := svc.ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now.Add(time.Minute)})
		require.NoError(t, err)
		assert.Equal(t, 0, result.Claimed)

		env.api.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()
		result, err = svc.ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Claimed)
		assert.Equal(t, 1, result.Dispatched)
		env.api.AssertExpectations(t)
	})

	t.Run("limit caps the batch", func(t *testing.T) {
		env := newTestEnv(t)
		for i, slug := range []string{"a", "b", "c"} {
			env.addProject(t, slug, timePtr(env.now.Add(-time.Duration(3-i)*time.Hour)))
		}
		env.api.On("Dispatch", mock.Anything, mock.Anything).Return(nil)

		result, err := env.schedulingService().ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now, Limit: 2})

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, result.Candidates)
		env.api.AssertNumberOfCalls(t, "Dispatch", 2)
	})

	t.Run("dry run claims nothing", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.addProject(t, "due", timePtr(env.now.Add(-time.Hour)))

		result, err := env.schedulingService().ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now, DryRun: true})

		require.NoError(t, err)
		assert.True(t, result.DryRun)
		assert.Equal(t, []string{"due"}, result.Candidates)
		assert.Equal(t, 0, result.Claimed)
		assert.Empty(t, result.Operations)
		assert.Equal(t, lifecycle.StateHot, env.project(t, p.ID).LifecycleState)
		assert.Empty(t, env.store.operations)
		env.api.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("callback that arrives before the ack is recorded wins", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.addProject(t, "fast", timePtr(env.now.Add(-time.Hour)))
		callbacks := env.callbackService(nil)

		env.api.On("Dispatch", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				req := args.Get(1).(DispatchRequest)
				_, err := callbacks.HandleCallback(context.Background(), CallbackRequest{
					OperationID: req.OperationID,
					Status:      lifecycle.OperationStatusSucceeded,
					BytesCopied: int64Ptr(1000),
					FilesCopied: int64Ptr(10),
				})
				require.NoError(t, err)
			}).
			Return(nil).Once()

		result, err := env.schedulingService().ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Dispatched)
		require.Len(t, result.Operations, 1)
		assert.Equal(t, string(lifecycle.OperationStatusSucceeded), result.Operations[0].Status)
		assert.Equal(t, lifecycle.StateCool, env.project(t, p.ID).LifecycleState)
	})

	t.Run("metrics count dispatch attempts", func(t *testing.T) {
		env := newTestEnv(t)
		env.addProject(t, "due", timePtr(env.now.Add(-time.Hour)))
		env.api.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()
		metrics := new(MockMetricsRecorder)
		metrics.On("RecordDispatch", mock.Anything, lifecycle.OperationTypeCool, true).Once()

		svc := env.schedulingService()
		svc.SetMetrics(metrics)
		_, err := svc.ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now})

		require.NoError(t, err)
		metrics.AssertExpectations(t)
	})

	t.Run("cancelled context stops before dispatching", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.addProject(t, "due", timePtr(env.now.Add(-time.Hour)))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result, err := env.schedulingService().ScheduleCooling(ctx, ScheduleOptions{Now: env.now})

		assert.ErrorIs(t, err, context.Canceled)
		require.NotNil(t, result)
		assert.Equal(t, 1, result.Claimed)
		assert.Equal(t, 0, result.Dispatched)
		op := env.operation(t, *env.project(t, p.ID).LastOperationID)
		assert.Equal(t, lifecycle.OperationStatusPending, op.Status)
		env.api.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})

	t.Run("candidate with an operation in flight is skipped", func(t *testing.T) {
		env := newTestEnv(t)
		busy := env.addProject(t, "busy", timePtr(env.now.Add(-2*time.Hour)))
		free := env.addProject(t, "free", timePtr(env.now.Add(-time.Hour)))
		manual := env.addPendingOperation(t, busy.ID, lifecycle.OperationTypeCool)

		// The candidate query ran before the manual claim committed.
		projects := &staleCandidateRepo{memoryProjectRepo: env.projects}
		scope := NewNoOpTransactionScope(projects, env.operations, env.publisher)
		svc := NewSchedulingService(scope, projects, env.operations, env.api, env.config, nil)
		svc.dispatcher.now = env.clock

		env.api.On("Dispatch", mock.Anything, mock.MatchedBy(func(req DispatchRequest) bool {
			return req.ProjectSlug == "free"
		})).Return(nil).Once()

		result, err := svc.ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now})

		require.NoError(t, err)
		assert.Equal(t, []string{"free"}, result.Candidates)
		assert.Equal(t, 1, result.Claimed)
		assert.Equal(t, 1, result.Dispatched)

		stored := env.project(t, busy.ID)
		assert.Equal(t, lifecycle.StateHot, stored.LifecycleState)
		assert.Equal(t, manual.ID, *stored.LastOperationID)
		assert.Equal(t, lifecycle.OperationStatusPending, env.operation(t, manual.ID).Status)
		assert.Equal(t, lifecycle.StateCooling, env.project(t, free.ID).LifecycleState)
		env.api.AssertExpectations(t)
	})
}

// staleCandidateRepo returns every due project, including ones another
// transaction claimed after the candidate query took its snapshot
type staleCandidateRepo struct {
	*memoryProjectRepo
}

func (r *staleCandidateRepo) FindCoolingCandidates(_ context.Context, q lifecycle.CandidateQuery) ([]*lifecycle.ProjectData, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*lifecycle.ProjectData
	for _, p := range r.s.projects {
		if p.IsCoolingDue(q.Now) {
			out = append(out, cloneProject(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CoolingEligibleAt.Before(*out[j].CoolingEligibleAt) })
	return out, nil
}

func TestSchedulingService_ExpireStalePending(t *testing.T) {
	t.Run("fails operations pending longer than the timeout", func(t *testing.T) {
		env := newTestEnv(t)
		stale := env.addProject(t, "stale", nil)
		fresh := env.addProject(t, "fresh", nil)
		staleOp := env.addPendingOperation(t, stale.ID, lifecycle.OperationTypeCool)
		freshOp := env.addPendingOperation(t, fresh.ID, lifecycle.OperationTypeCool)
		env.store.operations[staleOp.ID].CreatedAt = env.now.Add(-time.Hour)
		env.store.operations[freshOp.ID].CreatedAt = env.now.Add(-time.Minute)

		expired, err := env.schedulingService().ExpireStalePending(context.Background(), env.now)

		require.NoError(t, err)
		assert.Equal(t, 1, expired)
		op := env.operation(t, staleOp.ID)
		assert.Equal(t, lifecycle.OperationStatusFailed, op.Status)
		assert.Equal(t, lifecycle.ErrorCodeDispatchFailed, op.ErrorCode)
		assert.Contains(t, op.ErrorMessage, "not recorded")
		assert.Equal(t, lifecycle.StateHot, env.project(t, stale.ID).LifecycleState)
		assert.Equal(t, lifecycle.OperationStatusPending, env.operation(t, freshOp.ID).Status)
	})

	t.Run("disabled without a timeout", func(t *testing.T) {
		env := newTestEnv(t)
		env.config.PendingTimeout = 0
		p := env.addProject(t, "stale", nil)
		op := env.addPendingOperation(t, p.ID, lifecycle.OperationTypeCool)
		env.store.operations[op.ID].CreatedAt = env.now.Add(-24 * time.Hour)

		expired, err := env.schedulingService().ExpireStalePending(context.Background(), env.now)

		require.NoError(t, err)
		assert.Equal(t, 0, expired)
		assert.Equal(t, lifecycle.OperationStatusPending, env.operation(t, op.ID).Status)
	})

	t.Run("scheduler pass frees projects stuck in PENDING", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.addProject(t, "stuck", timePtr(env.now.Add(-2*time.Hour)))
		op := env.addPendingOperation(t, p.ID, lifecycle.OperationTypeCool)
		env.store.operations[op.ID].CreatedAt = env.now.Add(-time.Hour)
		env.config.RetryDelay = 0
		env.api.On("Dispatch", mock.Anything, mock.Anything).Return(nil).Once()

		result, err := env.schedulingService().ScheduleCooling(context.Background(), ScheduleOptions{Now: env.now})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Dispatched)
		assert.Equal(t, lifecycle.OperationStatusFailed, env.operation(t, op.ID).Status)
		assert.Equal(t, lifecycle.StateCooling, env.project(t, p.ID).LifecycleState)
	})
}
