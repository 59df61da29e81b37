package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/labdata/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormProjectDataRepository implements ProjectDataRepository using GORM
type GormProjectDataRepository struct {
	db *gorm.DB
}

// NewGormProjectDataRepository creates a new GormProjectDataRepository
func NewGormProjectDataRepository(db *gorm.DB) *GormProjectDataRepository {
	return &GormProjectDataRepository{db: db}
}

// FindByID finds a project by its ID, runs included
func (r *GormProjectDataRepository) FindByID(ctx context.Context, id uuid.UUID) (*lifecycle.ProjectData, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("id = ?", id))
}

// FindBySlug finds a project by its slug, runs included
func (r *GormProjectDataRepository) FindBySlug(ctx context.Context, slug string) (*lifecycle.ProjectData, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).Where("project_slug = ?", slug))
}

// FindByIDForUpdate finds a project and locks its row (SELECT ... FOR UPDATE)
func (r *GormProjectDataRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*lifecycle.ProjectData, error) {
	return r.findOne(ctx, r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *GormProjectDataRepository) findOne(ctx context.Context, query *gorm.DB) (*lifecycle.ProjectData, error) {
	var model models.ProjectDataModel
	if err := query.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if err := r.loadRuns(ctx, &model); err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

func (r *GormProjectDataRepository) loadRuns(ctx context.Context, projects ...*models.ProjectDataModel) error {
	if len(projects) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(projects))
	byID := make(map[uuid.UUID]*models.ProjectDataModel, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	var runs []models.RunDataModel
	if err := r.db.WithContext(ctx).
		Where("project_data_id IN ?", ids).
		Order("run_name ASC").
		Find(&runs).Error; err != nil {
		return err
	}
	for _, run := range runs {
		if p, ok := byID[run.ProjectDataID]; ok {
			p.Runs = append(p.Runs, run)
		}
	}
	return nil
}

// FindAll lists projects matching the filter with the total match count
func (r *GormProjectDataRepository) FindAll(ctx context.Context, filter lifecycle.ProjectFilter) ([]lifecycle.ProjectData, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.ProjectDataModel{})
	if filter.State != nil {
		query = query.Where("lifecycle_state = ?", *filter.State)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(project_slug) LIKE ? OR LOWER(project_name) LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ProjectDataModel
	if err := r.applyFilter(query, filter.Filter, ProjectDataSortFields).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	ptrs := make([]*models.ProjectDataModel, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := r.loadRuns(ctx, ptrs...); err != nil {
		return nil, 0, err
	}

	projects := make([]lifecycle.ProjectData, len(rows))
	for i := range rows {
		projects[i] = *rows[i].ToDomain()
	}
	return projects, total, nil
}

// FindCoolingCandidates returns HOT projects due for cooling, oldest
// deadline first. With query.Lock the rows stay locked until the
// surrounding transaction ends; with query.SkipLocked rows locked by a
// concurrent claimer are skipped instead of waited on.
func (r *GormProjectDataRepository) FindCoolingCandidates(ctx context.Context, query lifecycle.CandidateQuery) ([]*lifecycle.ProjectData, error) {
	q := r.db.WithContext(ctx).
		Model(&models.ProjectDataModel{}).
		Where("project_data.lifecycle_state = ?", lifecycle.StateHot).
		Where("project_data.cooling_eligible_at IS NOT NULL AND project_data.cooling_eligible_at <= ?", query.Now).
		Where("project_data.expected_bytes IS NOT NULL AND project_data.expected_files IS NOT NULL").
		Where("NOT EXISTS (SELECT 1 FROM lifecycle_operations o WHERE o.project_data_id = project_data.id AND o.type = ? AND o.status IN ?)",
			lifecycle.OperationTypeCool,
			[]lifecycle.OperationStatus{lifecycle.OperationStatusPending, lifecycle.OperationStatusRunning})

	if !query.DispatchRetryAfter.IsZero() {
		q = q.Where("NOT EXISTS (SELECT 1 FROM lifecycle_operations f WHERE f.project_data_id = project_data.id AND f.error_code = ? AND f.finished_at > ?)",
			lifecycle.ErrorCodeDispatchFailed, query.DispatchRetryAfter)
	}

	q = q.Order("project_data.cooling_eligible_at ASC").Order("project_data.id ASC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if query.Lock {
		locking := clause.Locking{Strength: "UPDATE"}
		if query.SkipLocked {
			locking.Options = "SKIP LOCKED"
		}
		q = q.Clauses(locking)
	}

	var rows []models.ProjectDataModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	ptrs := make([]*models.ProjectDataModel, len(rows))
	for i := range rows {
		ptrs[i] = &rows[i]
	}
	if err := r.loadRuns(ctx, ptrs...); err != nil {
		return nil, err
	}

	projects := make([]*lifecycle.ProjectData, len(rows))
	for i := range rows {
		projects[i] = rows[i].ToDomain()
	}
	return projects, nil
}

// ExistsBySlug checks if a project with the given slug exists
func (r *GormProjectDataRepository) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.ProjectDataModel{}).
		Where("project_slug = ?", slug).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create inserts a new project and its runs
func (r *GormProjectDataRepository) Create(ctx context.Context, project *lifecycle.ProjectData) error {
	model := models.ProjectDataModelFromDomain(project)
	runs := model.Runs
	model.Runs = nil

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return r.upsertRuns(ctx, runs)
}

// Update saves the project if its version is unchanged since it was loaded,
// then upserts its runs. The domain object's version is bumped on success.
func (r *GormProjectDataRepository) Update(ctx context.Context, project *lifecycle.ProjectData) error {
	model := models.ProjectDataModelFromDomain(project)
	result := r.db.WithContext(ctx).
		Model(&models.ProjectDataModel{}).
		Where("id = ? AND version = ?", project.ID, project.Version).
		Updates(map[string]any{
			"project_name":        model.ProjectName,
			"lifecycle_state":     model.LifecycleState,
			"cooling_eligible_at": model.CoolingEligibleAt,
			"expected_bytes":      model.ExpectedBytes,
			"expected_files":      model.ExpectedFiles,
			"last_operation_id":   model.LastOperationID,
			"version":             project.Version + 1,
			"updated_at":          nonZeroTime(model.UpdatedAt),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	project.IncrementVersion()
	return r.upsertRuns(ctx, model.Runs)
}

func (r *GormProjectDataRepository) upsertRuns(ctx context.Context, runs []models.RunDataModel) error {
	if len(runs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_data_id"}, {Name: "run_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"lifecycle_state", "bytes", "files", "updated_at"}),
		}).
		Create(&runs).Error
}

func (r *GormProjectDataRepository) applyFilter(query *gorm.DB, filter shared.Filter, sortFields map[string]bool) *gorm.DB {
	orderBy := ValidateSortField(filter.OrderBy, sortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)
	query = query.Order(orderBy + " " + orderDir)

	if filter.PageSize > 0 {
		query = query.Limit(filter.PageSize).Offset(filter.Offset())
	}
	return query
}

// isUniqueViolation reports whether err is a unique constraint violation
// from PostgreSQL or SQLite
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

func nonZeroTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// Ensure GormProjectDataRepository implements ProjectDataRepository
var _ lifecycle.ProjectDataRepository = (*GormProjectDataRepository)(nil)
