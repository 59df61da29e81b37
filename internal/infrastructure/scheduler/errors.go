package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when triggering a pass on a stopped scheduler
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrPassInProgress is returned when a pass is triggered while another one runs
	ErrPassInProgress = errors.New("cooling pass already in progress")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)
