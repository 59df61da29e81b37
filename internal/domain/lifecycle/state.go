package lifecycle

// LifecycleState is the storage tier a project's data currently lives in
type LifecycleState string

const (
	StateHot       LifecycleState = "HOT"
	StateCooling   LifecycleState = "COOLING"
	StateCool      LifecycleState = "COOL"
	StateRestoring LifecycleState = "RESTORING"
	StateError     LifecycleState = "ERROR"
)

// AllLifecycleStates returns every lifecycle state
func AllLifecycleStates() []LifecycleState {
	return []LifecycleState{StateHot, StateCooling, StateCool, StateRestoring, StateError}
}

// IsValid checks if the state is a known lifecycle state
func (s LifecycleState) IsValid() bool {
	switch s {
	case StateHot, StateCooling, StateCool, StateRestoring, StateError:
		return true
	}
	return false
}

// String returns the string representation
func (s LifecycleState) String() string {
	return string(s)
}

// IsStable reports whether no transfer is running for the state
func (s LifecycleState) IsStable() bool {
	return s == StateHot || s == StateCool || s == StateError
}

// IsInFlight reports whether the state waits for an external transfer
func (s LifecycleState) IsInFlight() bool {
	return s == StateCooling || s == StateRestoring
}

// CanTransitionTo checks if transition to target state is allowed
func (s LifecycleState) CanTransitionTo(target LifecycleState) bool {
	switch s {
	case StateHot:
		return target == StateCooling
	case StateCooling:
		return target == StateCool || target == StateError
	case StateCool:
		return target == StateRestoring
	case StateRestoring:
		return target == StateHot || target == StateError
	case StateError:
		return target == StateCooling || target == StateRestoring
	}
	return false
}

// OperationType is the kind of transfer a lifecycle operation performs
type OperationType string

const (
	OperationTypeCool    OperationType = "COOL"
	OperationTypeRestore OperationType = "RESTORE"
)

// IsValid checks if the operation type is known
func (t OperationType) IsValid() bool {
	return t == OperationTypeCool || t == OperationTypeRestore
}

// String returns the string representation
func (t OperationType) String() string {
	return string(t)
}

// SourceState is the state a project must be in for the operation to start.
// ERROR is accepted as well, as an operator retry.
func (t OperationType) SourceState() LifecycleState {
	if t == OperationTypeRestore {
		return StateCool
	}
	return StateHot
}

// InFlightState is the project state while the transfer runs
func (t OperationType) InFlightState() LifecycleState {
	if t == OperationTypeRestore {
		return StateRestoring
	}
	return StateCooling
}

// TargetState is the project state after a verified transfer
func (t OperationType) TargetState() LifecycleState {
	if t == OperationTypeRestore {
		return StateHot
	}
	return StateCool
}

// OperationStatus is the progress of a single lifecycle operation
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "PENDING"
	OperationStatusRunning   OperationStatus = "RUNNING"
	OperationStatusSucceeded OperationStatus = "SUCCEEDED"
	OperationStatusFailed    OperationStatus = "FAILED"
)

// AllOperationStatuses returns every operation status
func AllOperationStatuses() []OperationStatus {
	return []OperationStatus{
		OperationStatusPending,
		OperationStatusRunning,
		OperationStatusSucceeded,
		OperationStatusFailed,
	}
}

// IsValid checks if the status is known
func (s OperationStatus) IsValid() bool {
	switch s {
	case OperationStatusPending, OperationStatusRunning, OperationStatusSucceeded, OperationStatusFailed:
		return true
	}
	return false
}

// String returns the string representation
func (s OperationStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the operation can no longer change
func (s OperationStatus) IsTerminal() bool {
	return s == OperationStatusSucceeded || s == OperationStatusFailed
}

// IsInFlight reports whether the operation still occupies its project
func (s OperationStatus) IsInFlight() bool {
	return s == OperationStatusPending || s == OperationStatusRunning
}

// CanTransitionTo checks if transition to target status is allowed
func (s OperationStatus) CanTransitionTo(target OperationStatus) bool {
	switch s {
	case OperationStatusPending:
		return target == OperationStatusRunning || target == OperationStatusFailed
	case OperationStatusRunning:
		return target == OperationStatusSucceeded || target == OperationStatusFailed
	}
	return false
}

// Error codes stored on failed operations
const (
	ErrorCodeDispatchFailed       = "DISPATCH_FAILED"
	ErrorCodeVerificationMismatch = "VERIFICATION_MISMATCH"
	ErrorCodeInventoryMismatch    = "INVENTORY_MISMATCH"
	ErrorCodeRemoteFailure        = "REMOTE_FAILURE"
	ErrorCodeStateConflict        = "STATE_CONFLICT"
)
