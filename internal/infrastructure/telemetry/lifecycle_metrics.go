package telemetry

import (
	"context"
	"fmt"
	"time"

	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Attribute keys of the lifecycle metrics
var (
	AttrOperationType   = attribute.Key("operation_type")
	AttrOperationStatus = attribute.Key("operation_status")
	AttrErrorCode       = attribute.Key("error_code")
	AttrAccepted        = attribute.Key("accepted")
	AttrFromState       = attribute.Key("from_state")
	AttrToState         = attribute.Key("to_state")
)

// OperationDurationBuckets cover transfers from seconds to a day (seconds)
var OperationDurationBuckets = []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 21600, 86400}

// LifecycleMetrics records cooling and restore activity
type LifecycleMetrics struct {
	dispatches  metric.Int64Counter
	outcomes    metric.Int64Counter
	transitions metric.Int64Counter
	bytesMoved  metric.Int64Counter
	duration    metric.Float64Histogram
	logger      *zap.Logger
}

// NewLifecycleMetrics creates the lifecycle instruments on meter
func NewLifecycleMetrics(meter metric.Meter, logger *zap.Logger) (*LifecycleMetrics, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &LifecycleMetrics{logger: logger}

	var err error
	if m.dispatches, err = meter.Int64Counter("lab_lifecycle_dispatch_total",
		metric.WithDescription("Transfers sent to the cooling API"),
		metric.WithUnit("{dispatch}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}
	if m.outcomes, err = meter.Int64Counter("lab_lifecycle_operation_total",
		metric.WithDescription("Lifecycle operations that reached a terminal status"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create outcome counter: %w", err)
	}
	if m.transitions, err = meter.Int64Counter("lab_lifecycle_transition_total",
		metric.WithDescription("Project lifecycle state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create transition counter: %w", err)
	}
	if m.bytesMoved, err = meter.Int64Counter("lab_lifecycle_bytes_copied_total",
		metric.WithDescription("Bytes copied by successful operations"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, fmt.Errorf("failed to create bytes counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("lab_lifecycle_operation_duration_seconds",
		metric.WithDescription("Time from dispatch to terminal status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(OperationDurationBuckets...),
	); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	return m, nil
}

// RecordDispatch counts a dispatch attempt
func (m *LifecycleMetrics) RecordDispatch(ctx context.Context, opType lifecycle.OperationType, accepted bool) {
	m.dispatches.Add(ctx, 1, metric.WithAttributes(
		AttrOperationType.String(string(opType)),
		AttrAccepted.Bool(accepted),
	))
}

// RecordOutcome counts a terminal operation and, when it ran, its duration
func (m *LifecycleMetrics) RecordOutcome(ctx context.Context, opType lifecycle.OperationType, status lifecycle.OperationStatus, errorCode string, duration time.Duration, bytes int64) {
	attrs := metric.WithAttributes(
		AttrOperationType.String(string(opType)),
		AttrOperationStatus.String(string(status)),
		AttrErrorCode.String(errorCode),
	)
	m.outcomes.Add(ctx, 1, attrs)
	if duration > 0 {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if status == lifecycle.OperationStatusSucceeded && bytes > 0 {
		m.bytesMoved.Add(ctx, bytes, metric.WithAttributes(AttrOperationType.String(string(opType))))
	}
}

// RecordTransition counts a project state change
func (m *LifecycleMetrics) RecordTransition(ctx context.Context, from, to lifecycle.LifecycleState) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		AttrFromState.String(string(from)),
		AttrToState.String(string(to)),
	))
}

// OperationCounter reports current operation counts per type and status
type OperationCounter interface {
	CountByTypeAndStatus(ctx context.Context) ([]lifecycle.OperationCount, error)
}

// ObserveOperations registers a gauge of operations per type and status,
// read from counter on every collection.
func (m *LifecycleMetrics) ObserveOperations(meter metric.Meter, counter OperationCounter) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("lab_lifecycle_operations",
		metric.WithDescription("Lifecycle operations per type and status"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations gauge: %w", err)
	}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		counts, err := counter.CountByTypeAndStatus(ctx)
		if err != nil {
			m.logger.Warn("Failed to count lifecycle operations", zap.Error(err))
			return nil
		}
		for _, c := range counts {
			o.ObserveInt64(gauge, c.Count, metric.WithAttributes(
				AttrOperationType.String(string(c.Type)),
				AttrOperationStatus.String(string(c.Status)),
			))
		}
		return nil
	}, gauge)
}

// Ensure LifecycleMetrics implements MetricsRecorder
var _ lifecycleapp.MetricsRecorder = (*LifecycleMetrics)(nil)
