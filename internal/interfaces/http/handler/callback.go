package handler

import (
	"context"

	"github.com/gin-gonic/gin"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/infrastructure/logger"
	"github.com/labdata/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// CallbackService applies cooling API results
type CallbackService interface {
	HandleCallback(ctx context.Context, req lifecycleapp.CallbackRequest) (*lifecycleapp.CallbackResult, error)
}

// CallbackHandler receives transfer results from the cooling API
type CallbackHandler struct {
	BaseHandler
	callbacks CallbackService
}

// NewCallbackHandler creates a new CallbackHandler
func NewCallbackHandler(callbacks CallbackService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks}
}

// Handle applies a SUCCEEDED or FAILED report. Repeated reports for a
// finished operation are acknowledged with 200 and already_processed set.
// @ID           handleCallback
// @Summary      Report a transfer result
// @Tags         callbacks
// @Accept       json
// @Produce      json
// @Param        request body lifecycleapp.CallbackRequest true "Transfer result"
// @Success      200 {object} dto.Response{data=lifecycleapp.CallbackResult}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/callbacks [post]
func (h *CallbackHandler) Handle(c *gin.Context) {
	var req lifecycleapp.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.callbacks.HandleCallback(c.Request.Context(), req)
	if err != nil {
		logger.FromContext(c.Request.Context()).Warn("Callback rejected",
			zap.String("operation_id", req.OperationID.String()),
			zap.String("status", string(req.Status)),
			zap.String("caller", middleware.GetJWTSubject(c)),
			zap.Error(err))
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}
