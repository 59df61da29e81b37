package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  []lifecycleapp.ScheduleOptions
	result *lifecycleapp.ScheduleResult
	err    error
	block  chan struct{}
	passes chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		result: &lifecycleapp.ScheduleResult{Claimed: 2, Dispatched: 1, Failed: 1},
		passes: make(chan struct{}, 16),
	}
}

func (f *fakeRunner) ScheduleCooling(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, opts)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	select {
	case f.passes <- struct{}{}:
	default:
	}
	return f.result, f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func waitPass(t *testing.T, f *fakeRunner) {
	t.Helper()
	select {
	case <-f.passes:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a cooling pass")
	}
}

func TestDefaultCoolingSchedulerConfig(t *testing.T) {
	cfg := DefaultCoolingSchedulerConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.Equal(t, 2*time.Minute, cfg.PassTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestCoolingSchedulerConfig_Validate(t *testing.T) {
	assert.ErrorIs(t, CoolingSchedulerConfig{Interval: 0}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, CoolingSchedulerConfig{Interval: time.Second, PassTimeout: -1}.Validate(), ErrInvalidConfig)
}

func TestCoolingScheduler_PeriodicPass(t *testing.T) {
	runner := newFakeRunner()
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{
		Enabled:     true,
		Interval:    10 * time.Millisecond,
		PassTimeout: time.Second,
	})

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())

	waitPass(t, runner)
	waitPass(t, runner)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsRunning())

	report := s.LastPass()
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 1, report.Dispatched)
	assert.Equal(t, 1, report.Failed)
	assert.NoError(t, report.Err)
}

func TestCoolingScheduler_RunOnStart(t *testing.T) {
	runner := newFakeRunner()
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{
		Enabled:    true,
		Interval:   time.Hour,
		RunOnStart: true,
	})

	require.NoError(t, s.Start(context.Background()))
	waitPass(t, runner)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 1, runner.callCount())
}

func TestCoolingScheduler_Disabled(t *testing.T) {
	runner := newFakeRunner()
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{Enabled: false})

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())

	_, err := s.TriggerNow(context.Background(), lifecycleapp.ScheduleOptions{})
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
	assert.Zero(t, runner.callCount())
}

func TestCoolingScheduler_StartRejectsInvalidConfig(t *testing.T) {
	s := NewCoolingScheduler(newFakeRunner(), nil, CoolingSchedulerConfig{Enabled: true})

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.False(t, s.IsRunning())
}

func TestCoolingScheduler_StartTwice(t *testing.T) {
	s := NewCoolingScheduler(newFakeRunner(), zaptest.NewLogger(t), CoolingSchedulerConfig{Enabled: true, Interval: time.Hour})

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestCoolingScheduler_TriggerNow(t *testing.T) {
	runner := newFakeRunner()
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{Enabled: true, Interval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	result, err := s.TriggerNow(context.Background(), lifecycleapp.ScheduleOptions{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Claimed)
	require.Equal(t, 1, runner.callCount())
	assert.Equal(t, 3, runner.calls[0].Limit)
	assert.NotNil(t, s.LastPass())
}

func TestCoolingScheduler_DryRunDoesNotReplaceLastPass(t *testing.T) {
	runner := newFakeRunner()
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{Enabled: true, Interval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	runner.result = &lifecycleapp.ScheduleResult{DryRun: true, Candidates: []string{"proj-a"}}
	_, err := s.TriggerNow(context.Background(), lifecycleapp.ScheduleOptions{DryRun: true})
	require.NoError(t, err)
	assert.Nil(t, s.LastPass())
}

func TestCoolingScheduler_TriggerWhilePassRuns(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{Enabled: true, Interval: time.Hour})
	require.NoError(t, s.Start(context.Background()))

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background(), lifecycleapp.ScheduleOptions{})
		firstDone <- err
	}()

	require.Eventually(t, func() bool { return runner.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := s.TriggerNow(context.Background(), lifecycleapp.ScheduleOptions{})
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(runner.block)
	require.NoError(t, <-firstDone)
	require.NoError(t, s.Stop(context.Background()))
}

func TestCoolingScheduler_RecordsPassError(t *testing.T) {
	runner := newFakeRunner()
	runner.result = nil
	runner.err = errors.New("database unavailable")
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{Enabled: true, Interval: time.Hour})
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	_, err := s.TriggerNow(context.Background(), lifecycleapp.ScheduleOptions{})
	require.Error(t, err)

	report := s.LastPass()
	require.NotNil(t, report)
	assert.EqualError(t, report.Err, "database unavailable")
	assert.Zero(t, report.Claimed)
}

func TestCoolingScheduler_StopCancelsRunningPass(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := NewCoolingScheduler(runner, zaptest.NewLogger(t), CoolingSchedulerConfig{
		Enabled:    true,
		Interval:   time.Hour,
		RunOnStart: true,
	})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runner.callCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	report := s.LastPass()
	require.NotNil(t, report)
	assert.ErrorIs(t, report.Err, context.Canceled)
}
