package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
)

// ProjectDataModel is the persistence model for the ProjectData aggregate
type ProjectDataModel struct {
	AggregateModel
	ProjectSlug       string                   `gorm:"type:varchar(120);not null;uniqueIndex:idx_project_data_slug"`
	ProjectName       string                   `gorm:"type:varchar(255);not null"`
	LifecycleState    lifecycle.LifecycleState `gorm:"type:varchar(20);not null;index:idx_project_data_state_eligible,priority:1"`
	CoolingEligibleAt *time.Time               `gorm:"index:idx_project_data_state_eligible,priority:2"`
	ExpectedBytes     *int64
	ExpectedFiles     *int64
	LastOperationID   *uuid.UUID     `gorm:"type:uuid"`
	Runs              []RunDataModel `gorm:"foreignKey:ProjectDataID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (ProjectDataModel) TableName() string {
	return "project_data"
}

// ToDomain converts the model, with any preloaded runs, to a domain ProjectData
func (m *ProjectDataModel) ToDomain() *lifecycle.ProjectData {
	p := &lifecycle.ProjectData{
		ProjectSlug:       m.ProjectSlug,
		ProjectName:       m.ProjectName,
		LifecycleState:    m.LifecycleState,
		CoolingEligibleAt: m.CoolingEligibleAt,
		ExpectedBytes:     m.ExpectedBytes,
		ExpectedFiles:     m.ExpectedFiles,
		LastOperationID:   m.LastOperationID,
	}
	m.PopulateAggregateRoot(&p.BaseAggregateRoot)
	if len(m.Runs) > 0 {
		p.Runs = make([]lifecycle.RunData, len(m.Runs))
		for i := range m.Runs {
			p.Runs[i] = *m.Runs[i].ToDomain()
		}
	}
	return p
}

// FromDomain populates the model from a domain ProjectData, runs included
func (m *ProjectDataModel) FromDomain(p *lifecycle.ProjectData) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.ProjectSlug = p.ProjectSlug
	m.ProjectName = p.ProjectName
	m.LifecycleState = p.LifecycleState
	m.CoolingEligibleAt = p.CoolingEligibleAt
	m.ExpectedBytes = p.ExpectedBytes
	m.ExpectedFiles = p.ExpectedFiles
	m.LastOperationID = p.LastOperationID
	m.Runs = make([]RunDataModel, len(p.Runs))
	for i := range p.Runs {
		m.Runs[i].FromDomain(&p.Runs[i])
	}
}

// ProjectDataModelFromDomain creates a new persistence model from a domain ProjectData
func ProjectDataModelFromDomain(p *lifecycle.ProjectData) *ProjectDataModel {
	m := &ProjectDataModel{}
	m.FromDomain(p)
	return m
}

// RunDataModel is the persistence model for runs of a project
type RunDataModel struct {
	BaseModel
	ProjectDataID  uuid.UUID                `gorm:"type:uuid;not null;uniqueIndex:idx_run_data_project_run,priority:1"`
	RunName        string                   `gorm:"type:varchar(255);not null;uniqueIndex:idx_run_data_project_run,priority:2"`
	LifecycleState lifecycle.LifecycleState `gorm:"type:varchar(20);not null"`
	Bytes          *int64
	Files          *int64
}

// TableName returns the table name for GORM
func (RunDataModel) TableName() string {
	return "run_data"
}

// ToDomain converts the model to a domain RunData
func (m *RunDataModel) ToDomain() *lifecycle.RunData {
	return &lifecycle.RunData{
		BaseEntity:     m.BaseModel.ToDomain(),
		ProjectDataID:  m.ProjectDataID,
		RunName:        m.RunName,
		LifecycleState: m.LifecycleState,
		Bytes:          m.Bytes,
		Files:          m.Files,
	}
}

// FromDomain populates the model from a domain RunData
func (m *RunDataModel) FromDomain(r *lifecycle.RunData) {
	m.FromDomainBaseEntity(r.BaseEntity)
	m.ProjectDataID = r.ProjectDataID
	m.RunName = r.RunName
	m.LifecycleState = r.LifecycleState
	m.Bytes = r.Bytes
	m.Files = r.Files
}

// LifecycleOperationModel is the persistence model for lifecycle operations.
// The partial unique index keeps a single in-flight operation per project.
type LifecycleOperationModel struct {
	BaseModel
	ProjectDataID uuid.UUID                 `gorm:"type:uuid;not null;index:idx_lifecycle_operations_project;uniqueIndex:idx_lifecycle_operations_in_flight,where:status <> 'SUCCEEDED' AND status <> 'FAILED'"`
	Type          lifecycle.OperationType   `gorm:"type:varchar(20);not null"`
	Status        lifecycle.OperationStatus `gorm:"type:varchar(20);not null;index:idx_lifecycle_operations_status"`
	BytesTotal    int64                     `gorm:"not null"`
	FilesTotal    int64                     `gorm:"not null"`
	BytesCopied   *int64
	FilesCopied   *int64
	ErrorCode     string `gorm:"type:varchar(50)"`
	ErrorMessage  string `gorm:"type:text"`
	ErrorDetails  []byte `gorm:"type:jsonb"`
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// TableName returns the table name for GORM
func (LifecycleOperationModel) TableName() string {
	return "lifecycle_operations"
}

// ToDomain converts the model to a domain LifecycleOperation. Unreadable
// error details are dropped rather than failing the load.
func (m *LifecycleOperationModel) ToDomain() *lifecycle.LifecycleOperation {
	op := &lifecycle.LifecycleOperation{
		BaseEntity:    m.BaseModel.ToDomain(),
		ProjectDataID: m.ProjectDataID,
		Type:          m.Type,
		Status:        m.Status,
		BytesTotal:    m.BytesTotal,
		FilesTotal:    m.FilesTotal,
		BytesCopied:   m.BytesCopied,
		FilesCopied:   m.FilesCopied,
		ErrorCode:     m.ErrorCode,
		ErrorMessage:  m.ErrorMessage,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
	if len(m.ErrorDetails) > 0 {
		var details map[string]any
		if err := json.Unmarshal(m.ErrorDetails, &details); err == nil {
			op.ErrorDetails = details
		}
	}
	return op
}

// FromDomain populates the model from a domain LifecycleOperation
func (m *LifecycleOperationModel) FromDomain(op *lifecycle.LifecycleOperation) error {
	m.FromDomainBaseEntity(op.BaseEntity)
	m.ProjectDataID = op.ProjectDataID
	m.Type = op.Type
	m.Status = op.Status
	m.BytesTotal = op.BytesTotal
	m.FilesTotal = op.FilesTotal
	m.BytesCopied = op.BytesCopied
	m.FilesCopied = op.FilesCopied
	m.ErrorCode = op.ErrorCode
	m.ErrorMessage = op.ErrorMessage
	m.StartedAt = op.StartedAt
	m.FinishedAt = op.FinishedAt
	m.ErrorDetails = nil
	if len(op.ErrorDetails) > 0 {
		raw, err := json.Marshal(op.ErrorDetails)
		if err != nil {
			return err
		}
		m.ErrorDetails = raw
	}
	return nil
}

// LifecycleOperationModelFromDomain creates a new persistence model from a domain LifecycleOperation
func LifecycleOperationModelFromDomain(op *lifecycle.LifecycleOperation) (*LifecycleOperationModel, error) {
	m := &LifecycleOperationModel{}
	if err := m.FromDomain(op); err != nil {
		return nil, err
	}
	return m, nil
}

// LifecycleModels lists the models owned by the lifecycle schema
func LifecycleModels() []any {
	return []any{
		&ProjectDataModel{},
		&RunDataModel{},
		&LifecycleOperationModel{},
		&OutboxEntryModel{},
	}
}
