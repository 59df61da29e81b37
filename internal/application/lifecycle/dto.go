package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
)

// RegisterProjectRequest represents a request to start tracking a project
type RegisterProjectRequest struct {
	Slug              string     `json:"slug" binding:"required,project_slug"`
	Name              string     `json:"name" binding:"max=255"`
	CoolingEligibleAt *time.Time `json:"cooling_eligible_at"`
	ExpectedBytes     *int64     `json:"expected_bytes" binding:"omitempty,min=0"`
	ExpectedFiles     *int64     `json:"expected_files" binding:"omitempty,min=0"`
}

// SetEligibilityRequest sets or clears a project's cooling deadline
type SetEligibilityRequest struct {
	CoolingEligibleAt *time.Time `json:"cooling_eligible_at"`
}

// SetTotalsRequest sets the counts a transfer must reproduce
type SetTotalsRequest struct {
	ExpectedBytes *int64 `json:"expected_bytes" binding:"required,min=0"`
	ExpectedFiles *int64 `json:"expected_files" binding:"required,min=0"`
}

// UpsertRunRequest adds a run to a project or updates its counters
type UpsertRunRequest struct {
	RunName string `json:"run_name" binding:"required,min=1,max=255"`
	Bytes   *int64 `json:"bytes" binding:"omitempty,min=0"`
	Files   *int64 `json:"files" binding:"omitempty,min=0"`
}

// RetryRequest selects the operation to start for a project in ERROR
type RetryRequest struct {
	Type lifecycle.OperationType `json:"type" binding:"required,oneof=COOL RESTORE"`
}

// CallbackRequest is the cooling API's report on a transfer
type CallbackRequest struct {
	OperationID  uuid.UUID                 `json:"operation_id" binding:"required"`
	Status       lifecycle.OperationStatus `json:"status" binding:"required,oneof=SUCCEEDED FAILED"`
	BytesCopied  *int64                    `json:"bytes_copied" binding:"omitempty,min=0"`
	FilesCopied  *int64                    `json:"files_copied" binding:"omitempty,min=0"`
	ErrorCode    string                    `json:"error_code" binding:"max=50"`
	ErrorMessage string                    `json:"error_message" binding:"max=4000"`
	ErrorDetails map[string]any            `json:"error_details"`
}

// ProjectListFilter filters project listings
type ProjectListFilter struct {
	State    string `form:"state" binding:"omitempty,oneof=HOT COOLING COOL RESTORING ERROR"`
	Search   string `form:"search" binding:"max=100"`
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"page_size" binding:"min=0,max=100"`
	OrderBy  string `form:"order_by"`
	OrderDir string `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// OperationListFilter filters operation listings
type OperationListFilter struct {
	ProjectID *uuid.UUID `form:"-"`
	Type      string     `form:"type" binding:"omitempty,oneof=COOL RESTORE"`
	Status    string     `form:"status" binding:"omitempty,oneof=PENDING RUNNING SUCCEEDED FAILED"`
	Page      int        `form:"page" binding:"min=0"`
	PageSize  int        `form:"page_size" binding:"min=0,max=100"`
	OrderBy   string     `form:"order_by"`
	OrderDir  string     `form:"order_dir" binding:"omitempty,oneof=asc desc"`
}

// ScheduleOptions tunes one scheduler pass
type ScheduleOptions struct {
	// Limit overrides the configured batch size when positive
	Limit int `json:"limit" binding:"min=0,max=1000"`
	// DryRun lists candidates without claiming them
	DryRun bool `json:"dry_run"`
	// Now overrides the current time, zero means time.Now
	Now time.Time `json:"-"`
}

// RunResponse represents a run in API responses
type RunResponse struct {
	ID             uuid.UUID `json:"id"`
	RunName        string    `json:"run_name"`
	LifecycleState string    `json:"lifecycle_state"`
	Bytes          *int64    `json:"bytes"`
	Files          *int64    `json:"files"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProjectResponse represents a project in API responses
type ProjectResponse struct {
	ID                uuid.UUID     `json:"id"`
	ProjectSlug       string        `json:"project_slug"`
	ProjectName       string        `json:"project_name"`
	LifecycleState    string        `json:"lifecycle_state"`
	CoolingEligibleAt *time.Time    `json:"cooling_eligible_at"`
	ExpectedBytes     *int64        `json:"expected_bytes"`
	ExpectedFiles     *int64        `json:"expected_files"`
	LastOperationID   *uuid.UUID    `json:"last_operation_id"`
	Runs              []RunResponse `json:"runs"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	Version           int           `json:"version"`
}

// OperationResponse represents a lifecycle operation in API responses
type OperationResponse struct {
	ID            uuid.UUID      `json:"id"`
	ProjectDataID uuid.UUID      `json:"project_data_id"`
	Type          string         `json:"type"`
	Status        string         `json:"status"`
	BytesTotal    int64          `json:"bytes_total"`
	FilesTotal    int64          `json:"files_total"`
	BytesCopied   *int64         `json:"bytes_copied"`
	FilesCopied   *int64         `json:"files_copied"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ErrorDetails  map[string]any `json:"error_details,omitempty"`
	StartedAt     *time.Time     `json:"started_at"`
	FinishedAt    *time.Time     `json:"finished_at"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// OperationCountResponse is one row of the operation statistics
type OperationCountResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// OperationStatsResponse summarizes operations by type and status
type OperationStatsResponse struct {
	Total    int64                    `json:"total"`
	InFlight int64                    `json:"in_flight"`
	Failed   int64                    `json:"failed"`
	Counts   []OperationCountResponse `json:"counts"`
}

// ScheduleResult reports what one scheduler pass did
type ScheduleResult struct {
	DryRun     bool                `json:"dry_run"`
	Candidates []string            `json:"candidates"`
	Claimed    int                 `json:"claimed"`
	Dispatched int                 `json:"dispatched"`
	Failed     int                 `json:"failed"`
	Operations []OperationResponse `json:"operations"`
}

// VerificationResponse compares reported counts with expected totals
type VerificationResponse struct {
	Matched       bool   `json:"matched"`
	ExpectedBytes int64  `json:"expected_bytes"`
	ExpectedFiles int64  `json:"expected_files"`
	ActualBytes   *int64 `json:"actual_bytes"`
	ActualFiles   *int64 `json:"actual_files"`
}

// CallbackResult reports how a callback was applied
type CallbackResult struct {
	AlreadyProcessed bool                  `json:"already_processed"`
	Operation        OperationResponse     `json:"operation"`
	ProjectState     string                `json:"project_state"`
	Verification     *VerificationResponse `json:"verification,omitempty"`
}

// ToProjectResponse converts a domain ProjectData to a response
func ToProjectResponse(p *lifecycle.ProjectData) ProjectResponse {
	runs := make([]RunResponse, len(p.Runs))
	for i, r := range p.Runs {
		runs[i] = RunResponse{
			ID:             r.ID,
			RunName:        r.RunName,
			LifecycleState: string(r.LifecycleState),
			Bytes:          r.Bytes,
			Files:          r.Files,
			UpdatedAt:      r.UpdatedAt,
		}
	}
	return ProjectResponse{
		ID:                p.ID,
		ProjectSlug:       p.ProjectSlug,
		ProjectName:       p.ProjectName,
		LifecycleState:    string(p.LifecycleState),
		CoolingEligibleAt: p.CoolingEligibleAt,
		ExpectedBytes:     p.ExpectedBytes,
		ExpectedFiles:     p.ExpectedFiles,
		LastOperationID:   p.LastOperationID,
		Runs:              runs,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		Version:           p.Version,
	}
}

// ToOperationResponse converts a domain LifecycleOperation to a response
func ToOperationResponse(op *lifecycle.LifecycleOperation) OperationResponse {
	return OperationResponse{
		ID:            op.ID,
		ProjectDataID: op.ProjectDataID,
		Type:          string(op.Type),
		Status:        string(op.Status),
		BytesTotal:    op.BytesTotal,
		FilesTotal:    op.FilesTotal,
		BytesCopied:   op.BytesCopied,
		FilesCopied:   op.FilesCopied,
		ErrorCode:     op.ErrorCode,
		ErrorMessage:  op.ErrorMessage,
		ErrorDetails:  op.ErrorDetails,
		StartedAt:     op.StartedAt,
		FinishedAt:    op.FinishedAt,
		CreatedAt:     op.CreatedAt,
		UpdatedAt:     op.UpdatedAt,
	}
}

func toVerificationResponse(r lifecycle.VerificationResult) *VerificationResponse {
	return &VerificationResponse{
		Matched:       r.Matched,
		ExpectedBytes: r.ExpectedBytes,
		ExpectedFiles: r.ExpectedFiles,
		ActualBytes:   r.ActualBytes,
		ActualFiles:   r.ActualFiles,
	}
}

// toFilter builds the shared paging filter with defaults applied
func toFilter(page, pageSize int, orderBy, orderDir string) shared.Filter {
	f := shared.DefaultFilter()
	if page > 0 {
		f.Page = page
	}
	if pageSize > 0 {
		f.PageSize = pageSize
	}
	if orderBy != "" {
		f.OrderBy = orderBy
	}
	if orderDir != "" {
		f.OrderDir = orderDir
	}
	return f
}
