package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/shared"
)

// CandidateQuery selects HOT projects due for cooling
type CandidateQuery struct {
	Now   time.Time
	Limit int
	// Lock takes row locks on the returned projects (FOR UPDATE)
	Lock bool
	// SkipLocked skips rows locked by a concurrent claimer instead of waiting
	SkipLocked bool
	// DispatchRetryAfter excludes projects whose last dispatch failed after this time
	DispatchRetryAfter time.Time
}

// ProjectFilter filters project listings
type ProjectFilter struct {
	shared.Filter
	State *LifecycleState
}

// OperationFilter filters operation listings
type OperationFilter struct {
	shared.Filter
	ProjectDataID *uuid.UUID
	Type          *OperationType
	Status        *OperationStatus
}

// OperationCount is one row of the operation statistics
type OperationCount struct {
	Type   OperationType
	Status OperationStatus
	Count  int64
}

// ProjectDataRepository persists ProjectData aggregates with their runs
type ProjectDataRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*ProjectData, error)
	FindBySlug(ctx context.Context, slug string) (*ProjectData, error)

	// FindByIDForUpdate loads the project and locks its row until the
	// surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*ProjectData, error)

	FindAll(ctx context.Context, filter ProjectFilter) ([]ProjectData, int64, error)

	// FindCoolingCandidates returns HOT projects whose cooling_eligible_at
	// has passed, that have known totals and no in-flight COOL operation,
	// oldest deadline first.
	FindCoolingCandidates(ctx context.Context, query CandidateQuery) ([]*ProjectData, error)

	ExistsBySlug(ctx context.Context, slug string) (bool, error)

	Create(ctx context.Context, project *ProjectData) error

	// Update saves the project with an optimistic version check and upserts
	// its runs. Returns shared.ErrConcurrencyConflict on a stale version.
	Update(ctx context.Context, project *ProjectData) error
}

// LifecycleOperationRepository persists lifecycle operations
type LifecycleOperationRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*LifecycleOperation, error)

	// FindByIDForUpdate loads the operation and locks its row until the
	// surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*LifecycleOperation, error)

	// FindInFlightByProject returns the PENDING or RUNNING operation of the
	// project, or shared.ErrNotFound.
	FindInFlightByProject(ctx context.Context, projectID uuid.UUID) (*LifecycleOperation, error)

	// FindStalePending returns PENDING operations created before the given
	// time, oldest first.
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*LifecycleOperation, error)

	FindAll(ctx context.Context, filter OperationFilter) ([]LifecycleOperation, int64, error)
	CountByTypeAndStatus(ctx context.Context) ([]OperationCount, error)

	// Create inserts a new operation. A second in-flight operation for the
	// same project is rejected with ErrOperationInFlight.
	Create(ctx context.Context, op *LifecycleOperation) error
	Update(ctx context.Context, op *LifecycleOperation) error
}
