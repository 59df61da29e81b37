package lifecycle

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/shared"
)

// LifecycleOperation records one attempt to move a project's data between
// tiers. Its ID is the operation_id exchanged with the cooling API.
type LifecycleOperation struct {
	shared.BaseEntity
	ProjectDataID uuid.UUID
	Type          OperationType
	Status        OperationStatus
	BytesTotal    int64
	FilesTotal    int64
	BytesCopied   *int64
	FilesCopied   *int64
	ErrorCode     string
	ErrorMessage  string
	ErrorDetails  map[string]any
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

func newLifecycleOperation(projectID uuid.UUID, opType OperationType, bytesTotal, filesTotal int64) *LifecycleOperation {
	return &LifecycleOperation{
		BaseEntity:    shared.NewBaseEntity(),
		ProjectDataID: projectID,
		Type:          opType,
		Status:        OperationStatusPending,
		BytesTotal:    bytesTotal,
		FilesTotal:    filesTotal,
	}
}

// IsTerminal reports whether the operation has finished
func (o *LifecycleOperation) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// Duration returns the time between start and finish, zero while running
func (o *LifecycleOperation) Duration() time.Duration {
	if o.StartedAt == nil || o.FinishedAt == nil {
		return 0
	}
	return o.FinishedAt.Sub(*o.StartedAt)
}

func (o *LifecycleOperation) transition(target OperationStatus) error {
	if !o.Status.CanTransitionTo(target) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot move operation %s from %s to %s", o.ID, o.Status, target))
	}
	o.Status = target
	return nil
}

func (o *LifecycleOperation) markRunning(now time.Time) error {
	if err := o.transition(OperationStatusRunning); err != nil {
		return err
	}
	o.StartedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *LifecycleOperation) markSucceeded(now time.Time, bytesCopied, filesCopied *int64) error {
	if err := o.transition(OperationStatusSucceeded); err != nil {
		return err
	}
	o.BytesCopied = bytesCopied
	o.FilesCopied = filesCopied
	o.FinishedAt = &now
	o.UpdatedAt = now
	return nil
}

func (o *LifecycleOperation) markFailed(now time.Time, code, message string, details map[string]any) error {
	if err := o.transition(OperationStatusFailed); err != nil {
		return err
	}
	o.ErrorCode = code
	o.ErrorMessage = message
	o.ErrorDetails = details
	o.FinishedAt = &now
	o.UpdatedAt = now
	return nil
}
