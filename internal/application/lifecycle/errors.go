package lifecycle

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
)

var (
	// ErrProjectNotFound is returned when no project has the requested id or slug
	ErrProjectNotFound = shared.NewDomainError("NOT_FOUND", "Project not found")
	// ErrOperationNotFound is returned when a callback or lookup names an unknown operation
	ErrOperationNotFound = shared.NewDomainError("NOT_FOUND", "Lifecycle operation not found")
	// ErrOperationInFlight is returned when a project already has a PENDING or RUNNING operation
	ErrOperationInFlight = lifecycle.ErrOperationInFlight
	// ErrProjectExists is returned when registering a slug that is already tracked
	ErrProjectExists = shared.NewDomainError("ALREADY_EXISTS", "Project with this slug already exists")
	// ErrNotInError is returned when retrying a project that is not in ERROR
	ErrNotInError = shared.NewDomainError("INVALID_STATE", "Only projects in ERROR can be retried")
	// ErrInvalidCallback is returned for callbacks that report a non-terminal status
	ErrInvalidCallback = shared.NewDomainError("VALIDATION_ERROR", "Callback status must be SUCCEEDED or FAILED")
	// ErrInventoryUnavailable is returned when the storage cross-check cannot be run
	ErrInventoryUnavailable = errors.New("lifecycle: storage inventory unavailable")
)

// notFoundAs maps shared.ErrNotFound from a repository to a more specific error
func notFoundAs(err, target error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return target
	}
	return err
}

// findInFlight loads the project's in-flight operation, or nil when it has none
func findInFlight(ctx context.Context, repo lifecycle.LifecycleOperationRepository, projectID uuid.UUID) (*lifecycle.LifecycleOperation, error) {
	op, err := repo.FindInFlightByProject(ctx, projectID)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return op, err
}
