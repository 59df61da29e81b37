package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/shared"
)

// AggregateTypeProjectData is the aggregate type carried by lifecycle events
const AggregateTypeProjectData = "ProjectData"

// Event type constants
const (
	EventTypeProjectDataRegistered = "ProjectDataRegistered"
	EventTypeOperationStarted      = "LifecycleOperationStarted"
	EventTypeOperationDispatched   = "LifecycleOperationDispatched"
	EventTypeDispatchFailed        = "LifecycleDispatchFailed"
	EventTypeOperationSucceeded    = "LifecycleOperationSucceeded"
	EventTypeOperationFailed       = "LifecycleOperationFailed"
)

// AllEventTypes lists every lifecycle event type
func AllEventTypes() []string {
	return []string{
		EventTypeProjectDataRegistered,
		EventTypeOperationStarted,
		EventTypeOperationDispatched,
		EventTypeDispatchFailed,
		EventTypeOperationSucceeded,
		EventTypeOperationFailed,
	}
}

// ProjectDataRegisteredEvent is raised when a project starts being tracked
type ProjectDataRegisteredEvent struct {
	shared.BaseDomainEvent
	ProjectSlug       string     `json:"project_slug"`
	CoolingEligibleAt *time.Time `json:"cooling_eligible_at,omitempty"`
}

// NewProjectDataRegisteredEvent creates a new ProjectDataRegisteredEvent
func NewProjectDataRegisteredEvent(p *ProjectData) *ProjectDataRegisteredEvent {
	return &ProjectDataRegisteredEvent{
		BaseDomainEvent:   shared.NewBaseDomainEvent(EventTypeProjectDataRegistered, AggregateTypeProjectData, p.ID),
		ProjectSlug:       p.ProjectSlug,
		CoolingEligibleAt: p.CoolingEligibleAt,
	}
}

// OperationEvent is the payload shared by all operation events
type OperationEvent struct {
	shared.BaseDomainEvent
	ProjectSlug   string          `json:"project_slug"`
	OperationID   uuid.UUID       `json:"operation_id"`
	OperationType OperationType   `json:"operation_type"`
	Status        OperationStatus `json:"status"`
	FromState     LifecycleState  `json:"from_state"`
	ToState       LifecycleState  `json:"to_state"`
	BytesTotal    int64           `json:"bytes_total"`
	FilesTotal    int64           `json:"files_total"`
}

func newOperationEvent(eventType string, p *ProjectData, op *LifecycleOperation, from LifecycleState) OperationEvent {
	return OperationEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, AggregateTypeProjectData, p.ID),
		ProjectSlug:     p.ProjectSlug,
		OperationID:     op.ID,
		OperationType:   op.Type,
		Status:          op.Status,
		FromState:       from,
		ToState:         p.LifecycleState,
		BytesTotal:      op.BytesTotal,
		FilesTotal:      op.FilesTotal,
	}
}

// OperationStartedEvent is raised when a PENDING operation is created
type OperationStartedEvent struct {
	OperationEvent
}

// OperationDispatchedEvent is raised when the cooling API accepted a transfer
type OperationDispatchedEvent struct {
	OperationEvent
}

// DispatchFailedEvent is raised when the cooling API could not be reached
// or refused the transfer. The project state is left untouched.
type DispatchFailedEvent struct {
	OperationEvent
	ErrorMessage string `json:"error_message"`
}

// OperationSucceededEvent is raised when a verified transfer completed
type OperationSucceededEvent struct {
	OperationEvent
	BytesCopied int64         `json:"bytes_copied"`
	FilesCopied int64         `json:"files_copied"`
	Duration    time.Duration `json:"duration"`
}

// OperationFailedEvent is raised when a transfer failed or did not verify
type OperationFailedEvent struct {
	OperationEvent
	ErrorCode    string         `json:"error_code"`
	ErrorMessage string         `json:"error_message"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}
