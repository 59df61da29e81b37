package lifecycle

import (
	"context"

	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// LifecycleAuditHandler writes one structured log line per lifecycle event.
// Failed operations are logged at error level so alerting can pick them up.
type LifecycleAuditHandler struct {
	logger *zap.Logger
}

// NewLifecycleAuditHandler creates a new LifecycleAuditHandler
func NewLifecycleAuditHandler(logger *zap.Logger) *LifecycleAuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleAuditHandler{logger: logger.Named("audit")}
}

// EventTypes returns every lifecycle event type
func (h *LifecycleAuditHandler) EventTypes() []string {
	return lifecycle.AllEventTypes()
}

// Handle logs the event
func (h *LifecycleAuditHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.EventID().String()),
		zap.String("event_type", event.EventType()),
		zap.String("project_id", event.AggregateID().String()),
		zap.Time("occurred_at", event.OccurredAt()),
	}

	switch e := event.(type) {
	case *lifecycle.ProjectDataRegisteredEvent:
		h.logger.Info("project registered", append(fields,
			zap.String("project", e.ProjectSlug),
			zap.Timep("cooling_eligible_at", e.CoolingEligibleAt))...)
	case *lifecycle.OperationStartedEvent:
		h.logger.Info("operation started", append(fields, operationFields(e.OperationEvent)...)...)
	case *lifecycle.OperationDispatchedEvent:
		h.logger.Info("operation dispatched", append(fields, operationFields(e.OperationEvent)...)...)
	case *lifecycle.DispatchFailedEvent:
		h.logger.Warn("dispatch failed", append(fields, append(operationFields(e.OperationEvent),
			zap.String("error_message", e.ErrorMessage))...)...)
	case *lifecycle.OperationSucceededEvent:
		h.logger.Info("operation succeeded", append(fields, append(operationFields(e.OperationEvent),
			zap.Int64("bytes_copied", e.BytesCopied),
			zap.Int64("files_copied", e.FilesCopied),
			zap.Duration("duration", e.Duration))...)...)
	case *lifecycle.OperationFailedEvent:
		h.logger.Error("operation failed", append(fields, append(operationFields(e.OperationEvent),
			zap.String("error_code", e.ErrorCode),
			zap.String("error_message", e.ErrorMessage),
			zap.Any("error_details", e.ErrorDetails))...)...)
	default:
		h.logger.Debug("unhandled lifecycle event", fields...)
	}
	return nil
}

func operationFields(e lifecycle.OperationEvent) []zap.Field {
	return []zap.Field{
		zap.String("project", e.ProjectSlug),
		zap.String("operation_id", e.OperationID.String()),
		zap.String("operation_type", string(e.OperationType)),
		zap.String("from_state", string(e.FromState)),
		zap.String("to_state", string(e.ToState)),
	}
}

// LifecycleMetricsHandler feeds lifecycle events into a MetricsRecorder
type LifecycleMetricsHandler struct {
	recorder MetricsRecorder
}

// NewLifecycleMetricsHandler creates a new LifecycleMetricsHandler
func NewLifecycleMetricsHandler(recorder MetricsRecorder) *LifecycleMetricsHandler {
	return &LifecycleMetricsHandler{recorder: recorder}
}

// EventTypes returns the events that carry outcomes or transitions
func (h *LifecycleMetricsHandler) EventTypes() []string {
	return []string{
		lifecycle.EventTypeOperationDispatched,
		lifecycle.EventTypeOperationSucceeded,
		lifecycle.EventTypeOperationFailed,
	}
}

// Handle records the event. Dispatch attempts are counted by the
// dispatcher itself, so only state changes and outcomes are recorded here.
func (h *LifecycleMetricsHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	switch e := event.(type) {
	case *lifecycle.OperationDispatchedEvent:
		h.recorder.RecordTransition(ctx, e.FromState, e.ToState)
	case *lifecycle.OperationSucceededEvent:
		h.recorder.RecordTransition(ctx, e.FromState, e.ToState)
		h.recorder.RecordOutcome(ctx, e.OperationType, lifecycle.OperationStatusSucceeded, "", e.Duration, e.BytesCopied)
	case *lifecycle.OperationFailedEvent:
		h.recorder.RecordTransition(ctx, e.FromState, e.ToState)
		h.recorder.RecordOutcome(ctx, e.OperationType, lifecycle.OperationStatusFailed, e.ErrorCode, 0, 0)
	}
	return nil
}

var (
	_ shared.EventHandler = (*LifecycleAuditHandler)(nil)
	_ shared.EventHandler = (*LifecycleMetricsHandler)(nil)
)
