package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// lifecycleEvents drives a project through a cooling that succeeds and a
// restore that fails, returning every event raised
func lifecycleEvents(t *testing.T) []shared.DomainEvent {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p, err := lifecycle.NewProjectData("alpha", "")
	require.NoError(t, err)
	require.NoError(t, p.SetExpectedTotals(100, 2))

	cool, err := p.StartOperation(lifecycle.OperationTypeCool)
	require.NoError(t, err)
	require.NoError(t, p.MarkDispatched(cool, now))
	_, err = p.CompleteOperation(cool, int64Ptr(100), int64Ptr(2), now.Add(time.Minute), time.Hour)
	require.NoError(t, err)

	restore, err := p.StartOperation(lifecycle.OperationTypeRestore)
	require.NoError(t, err)
	require.NoError(t, p.MarkDispatchFailed(restore, "connection refused", now))

	retry, err := p.StartOperation(lifecycle.OperationTypeRestore)
	require.NoError(t, err)
	require.NoError(t, p.MarkDispatched(retry, now))
	require.NoError(t, p.FailOperation(retry, "BUCKET_GONE", "bucket missing", nil, now))
	return p.PullDomainEvents()
}

func TestLifecycleAuditHandler(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	handler := NewLifecycleAuditHandler(zap.New(core))
	assert.ElementsMatch(t, lifecycle.AllEventTypes(), handler.EventTypes())

	for _, event := range lifecycleEvents(t) {
		require.NoError(t, handler.Handle(context.Background(), event))
	}

	messages := make([]string, 0, logs.Len())
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{
		"project registered",
		"operation started",
		"operation dispatched",
		"operation succeeded",
		"operation started",
		"dispatch failed",
		"operation started",
		"operation dispatched",
		"operation failed",
	}, messages)

	failed := logs.FilterMessage("operation failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	fields := failed[0].ContextMap()
	assert.Equal(t, "BUCKET_GONE", fields["error_code"])
	assert.Equal(t, "alpha", fields["project"])
	assert.Equal(t, string(lifecycle.StateRestoring), fields["from_state"])
	assert.Equal(t, string(lifecycle.StateError), fields["to_state"])

	succeeded := logs.FilterMessage("operation succeeded").All()
	require.Len(t, succeeded, 1)
	assert.Equal(t, int64(100), succeeded[0].ContextMap()["bytes_copied"])
	assert.Equal(t, time.Minute, succeeded[0].ContextMap()["duration"])
}

func TestLifecycleMetricsHandler(t *testing.T) {
	recorder := new(MockMetricsRecorder)
	recorder.On("RecordTransition", mock.Anything, lifecycle.StateHot, lifecycle.StateCooling).Once()
	recorder.On("RecordTransition", mock.Anything, lifecycle.StateCooling, lifecycle.StateCool).Once()
	recorder.On("RecordTransition", mock.Anything, lifecycle.StateCool, lifecycle.StateRestoring).Once()
	recorder.On("RecordTransition", mock.Anything, lifecycle.StateRestoring, lifecycle.StateError).Once()
	recorder.On("RecordOutcome", mock.Anything, lifecycle.OperationTypeCool, lifecycle.OperationStatusSucceeded,
		"", time.Minute, int64(100)).Once()
	recorder.On("RecordOutcome", mock.Anything, lifecycle.OperationTypeRestore, lifecycle.OperationStatusFailed,
		"BUCKET_GONE", time.Duration(0), int64(0)).Once()

	handler := NewLifecycleMetricsHandler(recorder)
	subscribed := make(map[string]bool)
	for _, eventType := range handler.EventTypes() {
		subscribed[eventType] = true
	}

	for _, event := range lifecycleEvents(t) {
		if subscribed[event.EventType()] {
			require.NoError(t, handler.Handle(context.Background(), event))
		}
	}

	recorder.AssertExpectations(t)
	recorder.AssertNotCalled(t, "RecordDispatch", mock.Anything, mock.Anything, mock.Anything)
}
