package lifecycle

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/shared"
)

const maxSlugLength = 120

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// IsValidSlug reports whether slug can name a project
func IsValidSlug(slug string) bool {
	return len(slug) > 0 && len(slug) <= maxSlugLength && slugPattern.MatchString(slug)
}

// RunData is a run of a project. Its lifecycle state always mirrors the
// project it belongs to.
type RunData struct {
	shared.BaseEntity
	ProjectDataID  uuid.UUID
	RunName        string
	LifecycleState LifecycleState
	Bytes          *int64
	Files          *int64
}

// ProjectData is the aggregate root tracking where a project's data lives
type ProjectData struct {
	shared.BaseAggregateRoot
	ProjectSlug       string
	ProjectName       string
	LifecycleState    LifecycleState
	CoolingEligibleAt *time.Time
	ExpectedBytes     *int64
	ExpectedFiles     *int64
	LastOperationID   *uuid.UUID
	Runs              []RunData
}

// NewProjectData creates a HOT project
func NewProjectData(slug, name string) (*ProjectData, error) {
	slug = strings.TrimSpace(slug)
	if !IsValidSlug(slug) {
		return nil, ErrInvalidSlug
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = slug
	}

	p := &ProjectData{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		ProjectSlug:       slug,
		ProjectName:       name,
		LifecycleState:    StateHot,
	}
	p.AddDomainEvent(NewProjectDataRegisteredEvent(p))
	return p, nil
}

// SetCoolingEligibleAt sets when the scheduler may start cooling the
// project. Nil disables automatic cooling.
func (p *ProjectData) SetCoolingEligibleAt(at *time.Time) {
	if at != nil {
		utc := at.UTC()
		at = &utc
	}
	p.CoolingEligibleAt = at
	p.Touch(time.Now().UTC())
}

// SetExpectedTotals sets the byte and file counts a transfer must report
func (p *ProjectData) SetExpectedTotals(bytes, files int64) error {
	if bytes < 0 || files < 0 {
		return shared.NewDomainError("INVALID_INPUT", "Expected totals cannot be negative")
	}
	if p.LifecycleState.IsInFlight() {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot change totals while project is %s", p.LifecycleState))
	}
	p.ExpectedBytes = &bytes
	p.ExpectedFiles = &files
	p.Touch(time.Now().UTC())
	return nil
}

// UpsertRun adds a run or updates its counters
func (p *ProjectData) UpsertRun(name string, bytes, files *int64) (*RunData, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, shared.NewDomainError("INVALID_INPUT", "Run name cannot be empty")
	}
	if (bytes != nil && *bytes < 0) || (files != nil && *files < 0) {
		return nil, shared.NewDomainError("INVALID_INPUT", "Run counters cannot be negative")
	}
	now := time.Now().UTC()
	for i := range p.Runs {
		if p.Runs[i].RunName == name {
			p.Runs[i].Bytes = bytes
			p.Runs[i].Files = files
			p.Runs[i].Touch(now)
			p.Touch(now)
			return &p.Runs[i], nil
		}
	}
	p.Runs = append(p.Runs, RunData{
		BaseEntity:     shared.NewBaseEntity(),
		ProjectDataID:  p.ID,
		RunName:        name,
		LifecycleState: p.LifecycleState,
		Bytes:          bytes,
		Files:          files,
	})
	p.Touch(now)
	return &p.Runs[len(p.Runs)-1], nil
}

// IsCoolingDue reports whether the scheduler should pick the project up
func (p *ProjectData) IsCoolingDue(now time.Time) bool {
	return p.LifecycleState == StateHot &&
		p.CoolingEligibleAt != nil &&
		!p.CoolingEligibleAt.After(now)
}

// EnsureNoOperationInFlight rejects a new operation while inFlight, the
// project's PENDING or RUNNING operation as loaded under the row lock, is set.
func (p *ProjectData) EnsureNoOperationInFlight(inFlight *LifecycleOperation) error {
	if inFlight == nil || inFlight.ProjectDataID != p.ID || !inFlight.Status.IsInFlight() {
		return nil
	}
	return ErrOperationInFlight
}

// StartOperation creates a PENDING operation of the given type. The
// project state does not change until the cooling API accepts it.
// Run EnsureNoOperationInFlight first; the partial unique index on
// in-flight operations backs it up at commit.
func (p *ProjectData) StartOperation(opType OperationType) (*LifecycleOperation, error) {
	if !opType.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("Unknown operation type %q", opType))
	}
	if p.LifecycleState != opType.SourceState() && p.LifecycleState != StateError {
		return nil, shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot start %s while project %s is %s", opType, p.ProjectSlug, p.LifecycleState))
	}
	if p.ExpectedBytes == nil || p.ExpectedFiles == nil {
		return nil, ErrTotalsUnknown
	}

	op := newLifecycleOperation(p.ID, opType, *p.ExpectedBytes, *p.ExpectedFiles)
	p.LastOperationID = &op.ID
	p.Touch(op.CreatedAt)
	p.AddDomainEvent(&OperationStartedEvent{
		OperationEvent: newOperationEvent(EventTypeOperationStarted, p, op, p.LifecycleState),
	})
	return op, nil
}

// MarkDispatched applies an accepted dispatch: the operation runs and the
// project enters the operation's in-flight state.
func (p *ProjectData) MarkDispatched(op *LifecycleOperation, now time.Time) error {
	if op.ProjectDataID != p.ID {
		return ErrForeignOperation
	}
	target := op.Type.InFlightState()
	if !p.LifecycleState.CanTransitionTo(target) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Cannot move project %s from %s to %s", p.ProjectSlug, p.LifecycleState, target))
	}
	if err := op.markRunning(now); err != nil {
		return err
	}

	from := p.LifecycleState
	p.setState(target, now)
	p.AddDomainEvent(&OperationDispatchedEvent{
		OperationEvent: newOperationEvent(EventTypeOperationDispatched, p, op, from),
	})
	return nil
}

// MarkDispatchFailed fails an operation the cooling API never accepted.
// This is a transient failure: the project keeps its state so the
// scheduler or an operator can try again.
func (p *ProjectData) MarkDispatchFailed(op *LifecycleOperation, message string, now time.Time) error {
	if op.ProjectDataID != p.ID {
		return ErrForeignOperation
	}
	if err := op.markFailed(now, ErrorCodeDispatchFailed, message, nil); err != nil {
		return err
	}
	p.Touch(now)
	p.AddDomainEvent(&DispatchFailedEvent{
		OperationEvent: newOperationEvent(EventTypeDispatchFailed, p, op, p.LifecycleState),
		ErrorMessage:   message,
	})
	return nil
}

// CompleteOperation applies a SUCCEEDED report. The reported counts must
// match the totals snapshotted on the operation; otherwise the operation
// fails with VERIFICATION_MISMATCH and the project moves to ERROR.
// A verified RESTORE re-arms cooling after restoreRetention.
func (p *ProjectData) CompleteOperation(
	op *LifecycleOperation,
	bytesCopied, filesCopied *int64,
	now time.Time,
	restoreRetention time.Duration,
) (VerificationResult, error) {
	if op.ProjectDataID != p.ID {
		return VerificationResult{}, ErrForeignOperation
	}
	result := Verify(op.BytesTotal, op.FilesTotal, bytesCopied, filesCopied)

	if p.LifecycleState != op.Type.InFlightState() {
		return result, p.failConflicting(op, now)
	}
	if !result.Matched {
		op.BytesCopied = bytesCopied
		op.FilesCopied = filesCopied
		return result, p.FailOperation(op, ErrorCodeVerificationMismatch,
			fmt.Sprintf("Reported counts do not match expected totals (%s)", strings.Join(result.Mismatches(), ", ")),
			result.Details(), now)
	}

	if err := op.markSucceeded(now, bytesCopied, filesCopied); err != nil {
		return result, err
	}
	from := p.LifecycleState
	p.setState(op.Type.TargetState(), now)
	switch op.Type {
	case OperationTypeRestore:
		eligible := now.Add(restoreRetention)
		p.CoolingEligibleAt = &eligible
	case OperationTypeCool:
		p.CoolingEligibleAt = nil
	}

	p.AddDomainEvent(&OperationSucceededEvent{
		OperationEvent: newOperationEvent(EventTypeOperationSucceeded, p, op, from),
		BytesCopied:    *bytesCopied,
		FilesCopied:    *filesCopied,
		Duration:       op.Duration(),
	})
	return result, nil
}

// FailOperation applies a failed transfer: the operation fails and the
// project moves to ERROR, where it waits for an operator retry.
func (p *ProjectData) FailOperation(op *LifecycleOperation, code, message string, details map[string]any, now time.Time) error {
	if op.ProjectDataID != p.ID {
		return ErrForeignOperation
	}
	if p.LifecycleState != op.Type.InFlightState() {
		return p.failConflicting(op, now)
	}
	if code == "" {
		code = ErrorCodeRemoteFailure
	}
	if err := op.markFailed(now, code, message, details); err != nil {
		return err
	}
	from := p.LifecycleState
	p.setState(StateError, now)
	p.addFailedEvent(op, from)
	return nil
}

// failConflicting handles a report for an operation whose project is not in
// the matching in-flight state. The project is forced into ERROR so an
// operator looks at it.
func (p *ProjectData) failConflicting(op *LifecycleOperation, now time.Time) error {
	details := map[string]any{
		"project_state":  string(p.LifecycleState),
		"expected_state": string(op.Type.InFlightState()),
	}
	msg := fmt.Sprintf("Project %s is %s, expected %s", p.ProjectSlug, p.LifecycleState, op.Type.InFlightState())
	if err := op.markFailed(now, ErrorCodeStateConflict, msg, details); err != nil {
		return err
	}
	from := p.LifecycleState
	p.setState(StateError, now)
	p.addFailedEvent(op, from)
	return nil
}

func (p *ProjectData) addFailedEvent(op *LifecycleOperation, from LifecycleState) {
	p.AddDomainEvent(&OperationFailedEvent{
		OperationEvent: newOperationEvent(EventTypeOperationFailed, p, op, from),
		ErrorCode:      op.ErrorCode,
		ErrorMessage:   op.ErrorMessage,
		ErrorDetails:   op.ErrorDetails,
	})
}

// setState moves the project and all its runs to state
func (p *ProjectData) setState(state LifecycleState, now time.Time) {
	p.LifecycleState = state
	for i := range p.Runs {
		p.Runs[i].LifecycleState = state
		p.Runs[i].Touch(now)
	}
	p.Touch(now)
}
