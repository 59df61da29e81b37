package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
)

// DispatchRequest is what the cooling API needs to start a transfer
type DispatchRequest struct {
	OperationID uuid.UUID
	Type        lifecycle.OperationType
	ProjectSlug string
	BytesTotal  int64
	FilesTotal  int64
}

// CoolingAPI starts transfers on the external cooling service.
// A nil error means the service answered 202 Accepted.
type CoolingAPI interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// InventorySummary is what object storage holds for a project
type InventorySummary struct {
	Bytes int64
	Files int64
}

// Inventory counts the objects stored for a project in the cold tier
type Inventory interface {
	Summarize(ctx context.Context, projectSlug string) (InventorySummary, error)
}

// MetricsRecorder receives lifecycle outcomes for metrics export
type MetricsRecorder interface {
	RecordDispatch(ctx context.Context, opType lifecycle.OperationType, accepted bool)
	RecordOutcome(ctx context.Context, opType lifecycle.OperationType, status lifecycle.OperationStatus, errorCode string, duration time.Duration, bytes int64)
	RecordTransition(ctx context.Context, from, to lifecycle.LifecycleState)
}

// Config holds the lifecycle settings the services need
type Config struct {
	// BatchSize caps how many projects one scheduler pass claims
	BatchSize  int
	SkipLocked bool
	// RetryDelay keeps a project out of the scheduler after a failed dispatch
	RetryDelay time.Duration
	// RestoreRetention is how long restored data stays HOT before it is eligible again
	RestoreRetention time.Duration
	// PendingTimeout fails PENDING operations whose dispatch was never recorded
	PendingTimeout time.Duration
}

// DefaultConfig returns the default lifecycle settings
func DefaultConfig() Config {
	return Config{
		BatchSize:        10,
		SkipLocked:       true,
		RetryDelay:       time.Hour,
		RestoreRetention: 30 * 24 * time.Hour,
		PendingTimeout:   15 * time.Minute,
	}
}
