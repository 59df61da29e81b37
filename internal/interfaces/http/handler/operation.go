package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/domain/lifecycle"
)

// OperationService starts and reports lifecycle operations
type OperationService interface {
	RequestCooling(ctx context.Context, projectID uuid.UUID) (*lifecycleapp.OperationResponse, error)
	RequestRestore(ctx context.Context, projectID uuid.UUID) (*lifecycleapp.OperationResponse, error)
	RetryFromError(ctx context.Context, projectID uuid.UUID, opType lifecycle.OperationType) (*lifecycleapp.OperationResponse, error)
	GetOperation(ctx context.Context, id uuid.UUID) (*lifecycleapp.OperationResponse, error)
	ListOperations(ctx context.Context, filter lifecycleapp.OperationListFilter) ([]lifecycleapp.OperationResponse, int64, error)
	OperationStats(ctx context.Context) (*lifecycleapp.OperationStatsResponse, error)
}

// OperationHandler handles manual cooling, restore and retry as well as
// operation history
type OperationHandler struct {
	BaseHandler
	operations OperationService
}

// NewOperationHandler creates a new OperationHandler
func NewOperationHandler(operations OperationService) *OperationHandler {
	return &OperationHandler{operations: operations}
}

// Cool starts cooling a HOT project. The transfer runs asynchronously, so
// the response is 202 with the operation as dispatched.
// @ID           coolProject
// @Summary      Cool a project
// @Tags         operations
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Success      202 {object} dto.Response{data=lifecycleapp.OperationResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Failure      502 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id}/cool [post]
func (h *OperationHandler) Cool(c *gin.Context) {
	h.start(c, h.operations.RequestCooling)
}

// Restore starts restoring a COOL project
// @ID           restoreProject
// @Summary      Restore a project
// @Tags         operations
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Success      202 {object} dto.Response{data=lifecycleapp.OperationResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Failure      502 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id}/restore [post]
func (h *OperationHandler) Restore(c *gin.Context) {
	h.start(c, h.operations.RequestRestore)
}

// Retry starts a new operation for a project in ERROR
// @ID           retryProject
// @Summary      Retry a failed project
// @Tags         operations
// @Accept       json
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Param        request body lifecycleapp.RetryRequest true "Operation type"
// @Success      202 {object} dto.Response{data=lifecycleapp.OperationResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Failure      502 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id}/retry [post]
func (h *OperationHandler) Retry(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var req lifecycleapp.RetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	op, err := h.operations.RetryFromError(c.Request.Context(), id, req.Type)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, op)
}

func (h *OperationHandler) start(c *gin.Context, fn func(context.Context, uuid.UUID) (*lifecycleapp.OperationResponse, error)) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	op, err := fn(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, op)
}

// ListForProject lists a project's operations, newest first by default
// @ID           listProjectOperations
// @Summary      List operations of a project
// @Tags         operations
// @Produce      json
// @Param        id path string true "Project ID" format(uuid)
// @Param        type query string false "Operation type" Enums(COOL, RESTORE)
// @Param        status query string false "Operation status" Enums(PENDING, RUNNING, SUCCEEDED, FAILED)
// @Param        page query int false "Page number" minimum(1)
// @Param        page_size query int false "Page size" maximum(100)
// @Success      200 {object} dto.Response{data=[]lifecycleapp.OperationResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/projects/{id}/operations [get]
func (h *OperationHandler) ListForProject(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var filter lifecycleapp.OperationListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BindError(c, err)
		return
	}
	filter.ProjectID = &id
	if filter.OrderBy == "" {
		filter.OrderBy = "created_at"
		filter.OrderDir = "desc"
	}

	ops, total, err := h.operations.ListOperations(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, ops, total, max(filter.Page, 1), filter.PageSize)
}

// Get returns one operation
// @ID           getOperation
// @Summary      Get an operation
// @Tags         operations
// @Produce      json
// @Param        id path string true "Operation ID" format(uuid)
// @Success      200 {object} dto.Response{data=lifecycleapp.OperationResponse}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/operations/{id} [get]
func (h *OperationHandler) Get(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}

	op, err := h.operations.GetOperation(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, op)
}

// Stats counts operations per type and status
// @ID           getOperationStats
// @Summary      Count operations
// @Tags         operations
// @Produce      json
// @Success      200 {object} dto.Response{data=lifecycleapp.OperationStatsResponse}
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/operations/stats [get]
func (h *OperationHandler) Stats(c *gin.Context) {
	stats, err := h.operations.OperationStats(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}
