package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
)

// ProjectService is the project registry the handler serves
type ProjectService interface {
	RegisterProject(ctx context.Context, req lifecycleapp.RegisterProjectRequest) (*lifecycleapp.ProjectResponse, error)
	GetProject(ctx context.Context, id uuid.UUID) (*lifecycleapp.ProjectResponse, error)
	ListProjects(ctx context.Context, filter lifecycleapp.ProjectListFilter) ([]lifecycleapp.ProjectResponse, int64, error)
	SetCoolingEligibility(ctx context.Context, id uuid.UUID, req lifecycleapp.SetEligibilityRequest) (*lifecycleapp.ProjectResponse, error)
	SetExpectedTotals(ctx context.Context, id uuid.UUID, req lifecycleapp.SetTotalsRequest) (*lifecycleapp.ProjectResponse, error)
	UpsertRun(ctx context.Context, id uuid.UUID, req lifecycleapp.UpsertRunRequest) (*lifecycleapp.ProjectResponse, error)
}

// ProjectHandler handles project registry endpoints
type ProjectHandler struct {
	BaseHandler
	projects ProjectService
}

// NewProjectHandler creates a new ProjectHandler
func NewProjectHandler(projects ProjectService) *ProjectHandler {
	return &ProjectHandler{projects: projects}
}

// Register starts tracking a project
// @ID           registerProject
// @Summary      Register a project
// @Tags         projects
// @Accept       json
// @Produce      json
// @Param        request body lifecycleapp.RegisterProjectRequest true "Project"
// @Success      201 {object} dto.Response{data=lifecycleapp.ProjectResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects [post]
func (h *ProjectHandler) Register(c *gin.Context) {
	var req lifecycleapp.RegisterProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	project, err := h.projects.RegisterProject(c.Request.Context(), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, project)
}

// List lists projects with optional state and slug filters
// @ID           listProjects
// @Summary      List projects
// @Tags         projects
// @Produce      json
// @Param        state query string false "Lifecycle state" Enums(HOT, COOLING, COOL, RESTORING, ERROR)
// @Param        search query string false "Slug substring"
// @Param        page query int false "Page number" minimum(1)
// @Param        page_size query int false "Page size" maximum(100)
// @Success      200 {object} dto.Response{data=[]lifecycleapp.ProjectResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects [get]
func (h *ProjectHandler) List(c *gin.Context) {
	var filter lifecycleapp.ProjectListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BindError(c, err)
		return
	}

	projects, total, err := h.projects.ListProjects(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, projects, total, max(filter.Page, 1), filter.PageSize)
}

// Get returns a project with its runs
// @ID           getProject
// @Summary      Get a project
// @Tags         projects
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Success      200 {object} dto.Response{data=lifecycleapp.ProjectResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id} [get]
func (h *ProjectHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	project, err := h.projects.GetProject(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, project)
}

// SetEligibility sets or clears the cooling deadline
// @ID           setProjectEligibility
// @Summary      Set the cooling deadline
// @Tags         projects
// @Accept       json
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Param        request body lifecycleapp.SetEligibilityRequest true "Deadline, null clears it"
// @Success      200 {object} dto.Response{data=lifecycleapp.ProjectResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id}/eligibility [put]
func (h *ProjectHandler) SetEligibility(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var req lifecycleapp.SetEligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	project, err := h.projects.SetCoolingEligibility(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, project)
}

// SetTotals records the byte and file counts a transfer must reproduce
// @ID           setProjectTotals
// @Summary      Set expected totals
// @Tags         projects
// @Accept       json
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Param        request body lifecycleapp.SetTotalsRequest true "Byte and file totals"
// @Success      200 {object} dto.Response{data=lifecycleapp.ProjectResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id}/totals [put]
func (h *ProjectHandler) SetTotals(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var req lifecycleapp.SetTotalsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	project, err := h.projects.SetExpectedTotals(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, project)
}

// UpsertRun adds a run or updates its counters
// @ID           upsertProjectRun
// @Summary      Add or update a run
// @Tags         projects
// @Accept       json
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Param        request body lifecycleapp.UpsertRunRequest true "Run"
// @Success      200 {object} dto.Response{data=lifecycleapp.ProjectResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id}/runs [put]
func (h *ProjectHandler) UpsertRun(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var req lifecycleapp.UpsertRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	project, err := h.projects.UpsertRun(c.Request.Context(), id, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, project)
}
