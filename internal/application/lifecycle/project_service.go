package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// ProjectService registers projects and maintains their lifecycle settings
type ProjectService struct {
	txScope     TransactionScope
	projectRepo lifecycle.ProjectDataRepository
	logger      *zap.Logger
}

// NewProjectService creates a new ProjectService
func NewProjectService(txScope TransactionScope, projectRepo lifecycle.ProjectDataRepository, logger *zap.Logger) *ProjectService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectService{
		txScope:     txScope,
		projectRepo: projectRepo,
		logger:      logger.Named("projects"),
	}
}

// RegisterProject starts tracking a project in the HOT tier
func (s *ProjectService) RegisterProject(ctx context.Context, req RegisterProjectRequest) (*ProjectResponse, error) {
	slug := strings.TrimSpace(req.Slug)
	exists, err := s.projectRepo.ExistsBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrProjectExists
	}

	project, err := lifecycle.NewProjectData(slug, req.Name)
	if err != nil {
		return nil, err
	}
	if req.CoolingEligibleAt != nil {
		project.SetCoolingEligibleAt(req.CoolingEligibleAt)
	}
	if req.ExpectedBytes != nil || req.ExpectedFiles != nil {
		if req.ExpectedBytes == nil || req.ExpectedFiles == nil {
			return nil, shared.NewDomainError("VALIDATION_ERROR", "expected_bytes and expected_files must be set together")
		}
		if err := project.SetExpectedTotals(*req.ExpectedBytes, *req.ExpectedFiles); err != nil {
			return nil, err
		}
	}

	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.ProjectRepo().Create(ctx, project); err != nil {
			if errors.Is(err, shared.ErrAlreadyExists) {
				return ErrProjectExists
			}
			return err
		}
		return repos.SaveEvents(ctx, project.PullDomainEvents()...)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("project registered",
		zap.String("project", project.ProjectSlug),
		zap.String("project_id", project.ID.String()),
	)
	resp := ToProjectResponse(project)
	return &resp, nil
}

// GetProject returns a project with its runs
func (s *ProjectService) GetProject(ctx context.Context, id uuid.UUID) (*ProjectResponse, error) {
	project, err := s.projectRepo.FindByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrProjectNotFound)
	}
	resp := ToProjectResponse(project)
	return &resp, nil
}

// GetProjectBySlug returns a project with its runs
func (s *ProjectService) GetProjectBySlug(ctx context.Context, slug string) (*ProjectResponse, error) {
	project, err := s.projectRepo.FindBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return nil, notFoundAs(err, ErrProjectNotFound)
	}
	resp := ToProjectResponse(project)
	return &resp, nil
}

// ListProjects lists projects with the total match count
func (s *ProjectService) ListProjects(ctx context.Context, filter ProjectListFilter) ([]ProjectResponse, int64, error) {
	domainFilter := lifecycle.ProjectFilter{
		Filter: toFilter(filter.Page, filter.PageSize, filter.OrderBy, filter.OrderDir),
	}
	domainFilter.Search = filter.Search
	if filter.State != "" {
		state := lifecycle.LifecycleState(filter.State)
		if !state.IsValid() {
			return nil, 0, shared.NewDomainError("VALIDATION_ERROR", "Unknown lifecycle state")
		}
		domainFilter.State = &state
	}

	projects, total, err := s.projectRepo.FindAll(ctx, domainFilter)
	if err != nil {
		return nil, 0, err
	}
	responses := make([]ProjectResponse, len(projects))
	for i := range projects {
		responses[i] = ToProjectResponse(&projects[i])
	}
	return responses, total, nil
}

// SetCoolingEligibility sets or clears when the scheduler may cool the project
func (s *ProjectService) SetCoolingEligibility(ctx context.Context, id uuid.UUID, req SetEligibilityRequest) (*ProjectResponse, error) {
	return s.mutate(ctx, id, func(p *lifecycle.ProjectData) error {
		p.SetCoolingEligibleAt(req.CoolingEligibleAt)
		return nil
	})
}

// SetExpectedTotals sets the counts the next transfer must reproduce
func (s *ProjectService) SetExpectedTotals(ctx context.Context, id uuid.UUID, req SetTotalsRequest) (*ProjectResponse, error) {
	if req.ExpectedBytes == nil || req.ExpectedFiles == nil {
		return nil, shared.NewDomainError("VALIDATION_ERROR", "expected_bytes and expected_files are required")
	}
	return s.mutate(ctx, id, func(p *lifecycle.ProjectData) error {
		return p.SetExpectedTotals(*req.ExpectedBytes, *req.ExpectedFiles)
	})
}

// UpsertRun adds a run or updates its counters
func (s *ProjectService) UpsertRun(ctx context.Context, id uuid.UUID, req UpsertRunRequest) (*ProjectResponse, error) {
	return s.mutate(ctx, id, func(p *lifecycle.ProjectData) error {
		_, err := p.UpsertRun(req.RunName, req.Bytes, req.Files)
		return err
	})
}

// mutate applies fn to the locked project and saves it
func (s *ProjectService) mutate(ctx context.Context, id uuid.UUID, fn func(*lifecycle.ProjectData) error) (*ProjectResponse, error) {
	var project *lifecycle.ProjectData
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		var err error
		project, err = repos.ProjectRepo().FindByIDForUpdate(ctx, id)
		if err != nil {
			return notFoundAs(err, ErrProjectNotFound)
		}
		if err := fn(project); err != nil {
			return err
		}
		if err := repos.ProjectRepo().Update(ctx, project); err != nil {
			return err
		}
		return repos.SaveEvents(ctx, project.PullDomainEvents()...)
	})
	if err != nil {
		return nil, err
	}
	resp := ToProjectResponse(project)
	return &resp, nil
}
