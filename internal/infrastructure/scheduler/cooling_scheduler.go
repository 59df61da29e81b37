package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CoolingRunner runs one scheduling pass
type CoolingRunner interface {
	ScheduleCooling(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error)
}

// CoolingSchedulerConfig holds configuration for the cooling scheduler
type CoolingSchedulerConfig struct {
	// Enabled determines if the periodic pass runs
	Enabled bool

	// Interval is the time between two passes
	Interval time.Duration

	// PassTimeout bounds a single pass, claim and dispatch included
	PassTimeout time.Duration

	// RunOnStart triggers a pass right after Start instead of waiting one interval
	RunOnStart bool
}

// DefaultCoolingSchedulerConfig returns default configuration
func DefaultCoolingSchedulerConfig() CoolingSchedulerConfig {
	return CoolingSchedulerConfig{
		Enabled:     true,
		Interval:    5 * time.Minute,
		PassTimeout: 2 * time.Minute,
		RunOnStart:  false,
	}
}

// Validate checks the configuration
func (c CoolingSchedulerConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	if c.PassTimeout < 0 {
		return fmt.Errorf("%w: pass timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CoolingScheduler periodically claims HOT projects past their cooling
// deadline and dispatches them to the cooling API.
type CoolingScheduler struct {
	runner CoolingRunner
	logger *zap.Logger
	config CoolingSchedulerConfig

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	passMu    sync.Mutex
	reportMu  sync.Mutex
	lastPass  *PassReport
}

// PassReport summarizes the most recent pass
type PassReport struct {
	StartedAt  time.Time
	Duration   time.Duration
	Claimed    int
	Dispatched int
	Failed     int
	Err        error
}

// NewCoolingScheduler creates a new cooling scheduler
func NewCoolingScheduler(runner CoolingRunner, logger *zap.Logger, config CoolingSchedulerConfig) *CoolingScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CoolingScheduler{
		runner: runner,
		logger: logger,
		config: config,
	}
}

// Start starts the periodic pass
func (s *CoolingScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Cooling scheduler is disabled")
		return nil
	}
	if err := s.config.Validate(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.isRunning = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Cooling scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("pass_timeout", s.config.PassTimeout),
	)
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running pass
func (s *CoolingScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Cooling scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Cooling scheduler stop timed out")
		return ctx.Err()
	}
}

// IsRunning reports whether the periodic pass is active
func (s *CoolingScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// LastPass returns the report of the most recent pass, nil before the first one
func (s *CoolingScheduler) LastPass() *PassReport {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	if s.lastPass == nil {
		return nil
	}
	report := *s.lastPass
	return &report
}

// TriggerNow runs a pass immediately. It fails when the scheduler is
// stopped or when a pass is already running.
func (s *CoolingScheduler) TriggerNow(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error) {
	if !s.IsRunning() {
		return nil, ErrSchedulerNotRunning
	}
	if !s.passMu.TryLock() {
		return nil, ErrPassInProgress
	}
	defer s.passMu.Unlock()
	return s.runPassLocked(ctx, opts)
}

func (s *CoolingScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs a periodic pass unless a triggered one still holds the lock
func (s *CoolingScheduler) tick(ctx context.Context) {
	if !s.passMu.TryLock() {
		s.logger.Debug("Skipping cooling pass, previous pass still running")
		return
	}
	defer s.passMu.Unlock()

	passCtx := ctx
	if s.config.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, s.config.PassTimeout)
		defer cancel()
	}
	_, _ = s.runPassLocked(passCtx, lifecycleapp.ScheduleOptions{})
}

// runPassLocked must be called with passMu held
func (s *CoolingScheduler) runPassLocked(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "lifecycle.cooling_pass",
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Int("limit", opts.Limit),
	)
	startedAt := time.Now()
	var (
		result *lifecycleapp.ScheduleResult
		err    error
	)
	telemetry.WithProfilingLabels(ctx, map[string]string{"operation": "cooling_pass"}, func(ctx context.Context) {
		result, err = s.runner.ScheduleCooling(ctx, opts)
	})
	telemetry.EndSpan(span, err)

	report := &PassReport{StartedAt: startedAt, Duration: time.Since(startedAt), Err: err}
	if result != nil {
		report.Claimed = result.Claimed
		report.Dispatched = result.Dispatched
		report.Failed = result.Failed
	}
	if !opts.DryRun {
		s.reportMu.Lock()
		s.lastPass = report
		s.reportMu.Unlock()
	}

	if err != nil {
		s.logger.Error("Cooling pass failed", zap.Error(err), zap.Duration("duration", report.Duration))
		return result, err
	}
	if result.Claimed > 0 || result.Failed > 0 {
		s.logger.Info("Cooling pass completed",
			zap.Bool("dry_run", result.DryRun),
			zap.Int("claimed", result.Claimed),
			zap.Int("dispatched", result.Dispatched),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", report.Duration),
		)
	} else {
		s.logger.Debug("Cooling pass found no candidates", zap.Int("candidates", len(result.Candidates)))
	}
	return result, nil
}
