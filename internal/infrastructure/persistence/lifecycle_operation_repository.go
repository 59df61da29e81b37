package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/labdata/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLifecycleOperationRepository implements LifecycleOperationRepository using GORM
type GormLifecycleOperationRepository struct {
	db *gorm.DB
}

// NewGormLifecycleOperationRepository creates a new GormLifecycleOperationRepository
func NewGormLifecycleOperationRepository(db *gorm.DB) *GormLifecycleOperationRepository {
	return &GormLifecycleOperationRepository{db: db}
}

// FindByID finds an operation by its ID
func (r *GormLifecycleOperationRepository) FindByID(ctx context.Context, id uuid.UUID) (*lifecycle.LifecycleOperation, error) {
	return r.findOne(r.db.WithContext(ctx).Where("id = ?", id))
}

// FindByIDForUpdate finds an operation and locks its row (SELECT ... FOR UPDATE)
func (r *GormLifecycleOperationRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*lifecycle.LifecycleOperation, error) {
	return r.findOne(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

// FindInFlightByProject finds the PENDING or RUNNING operation of a project
func (r *GormLifecycleOperationRepository) FindInFlightByProject(ctx context.Context, projectID uuid.UUID) (*lifecycle.LifecycleOperation, error) {
	return r.findOne(r.db.WithContext(ctx).
		Where("project_data_id = ? AND status IN ?", projectID,
			[]lifecycle.OperationStatus{lifecycle.OperationStatusPending, lifecycle.OperationStatusRunning}))
}

// FindStalePending returns PENDING operations created before createdBefore, oldest first
func (r *GormLifecycleOperationRepository) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*lifecycle.LifecycleOperation, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", lifecycle.OperationStatusPending, createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.LifecycleOperationModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	ops := make([]*lifecycle.LifecycleOperation, len(rows))
	for i := range rows {
		ops[i] = rows[i].ToDomain()
	}
	return ops, nil
}

func (r *GormLifecycleOperationRepository) findOne(query *gorm.DB) (*lifecycle.LifecycleOperation, error) {
	var model models.LifecycleOperationModel
	if err := query.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll lists operations matching the filter with the total match count
func (r *GormLifecycleOperationRepository) FindAll(ctx context.Context, filter lifecycle.OperationFilter) ([]lifecycle.LifecycleOperation, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.LifecycleOperationModel{})
	if filter.ProjectDataID != nil {
		query = query.Where("project_data_id = ?", *filter.ProjectDataID)
	}
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, LifecycleOperationSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)
	query = query.Order(orderBy + " " + orderDir)
	if filter.PageSize > 0 {
		query = query.Limit(filter.PageSize).Offset(filter.Offset())
	}

	var rows []models.LifecycleOperationModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	ops := make([]lifecycle.LifecycleOperation, len(rows))
	for i := range rows {
		ops[i] = *rows[i].ToDomain()
	}
	return ops, total, nil
}

// CountByTypeAndStatus counts operations grouped by type and status
func (r *GormLifecycleOperationRepository) CountByTypeAndStatus(ctx context.Context) ([]lifecycle.OperationCount, error) {
	var rows []struct {
		Type   lifecycle.OperationType
		Status lifecycle.OperationStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.LifecycleOperationModel{}).
		Select("type, status, COUNT(*) AS count").
		Group("type, status").
		Order("type, status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make([]lifecycle.OperationCount, len(rows))
	for i, row := range rows {
		counts[i] = lifecycle.OperationCount{Type: row.Type, Status: row.Status, Count: row.Count}
	}
	return counts, nil
}

// Create inserts a new operation. The partial unique index on in-flight
// operations turns a concurrent second claim into ErrOperationInFlight.
func (r *GormLifecycleOperationRepository) Create(ctx context.Context, op *lifecycle.LifecycleOperation) error {
	model, err := models.LifecycleOperationModelFromDomain(op)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return lifecycle.ErrOperationInFlight
		}
		return err
	}
	return nil
}

// Update saves the mutable fields of an operation
func (r *GormLifecycleOperationRepository) Update(ctx context.Context, op *lifecycle.LifecycleOperation) error {
	model, err := models.LifecycleOperationModelFromDomain(op)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).
		Model(&models.LifecycleOperationModel{}).
		Where("id = ?", op.ID).
		Updates(map[string]any{
			"status":        model.Status,
			"bytes_copied":  model.BytesCopied,
			"files_copied":  model.FilesCopied,
			"error_code":    model.ErrorCode,
			"error_message": model.ErrorMessage,
			"error_details": model.ErrorDetails,
			"started_at":    model.StartedAt,
			"finished_at":   model.FinishedAt,
			"updated_at":    nonZeroTime(model.UpdatedAt),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Ensure GormLifecycleOperationRepository implements LifecycleOperationRepository
var _ lifecycle.LifecycleOperationRepository = (*GormLifecycleOperationRepository)(nil)
