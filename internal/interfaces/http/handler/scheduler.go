package handler

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/infrastructure/scheduler"
	"github.com/labdata/backend/internal/interfaces/http/dto"
)

// PassTrigger runs a scheduler pass on demand
type PassTrigger interface {
	TriggerNow(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error)
}

// SchedulerHandler triggers cooling passes outside the periodic schedule
type SchedulerHandler struct {
	BaseHandler
	trigger     PassTrigger
	fallback    scheduler.CoolingRunner
	passTimeout time.Duration
}

// NewSchedulerHandler creates a new SchedulerHandler. fallback, when not
// nil, runs the pass directly while the periodic scheduler is disabled.
func NewSchedulerHandler(trigger PassTrigger, fallback scheduler.CoolingRunner) *SchedulerHandler {
	return &SchedulerHandler{
		trigger:     trigger,
		fallback:    fallback,
		passTimeout: scheduler.DefaultCoolingSchedulerConfig().PassTimeout,
	}
}

// WithPassTimeout bounds triggered passes; zero leaves them unbounded
func (h *SchedulerHandler) WithPassTimeout(d time.Duration) *SchedulerHandler {
	h.passTimeout = d
	return h
}

// Run runs one cooling pass and reports what it claimed. An empty body
// runs a regular pass.
// @ID           runCoolingPass
// @Summary      Run a cooling pass
// @Tags         scheduler
// @Accept       json
// @Produce      json
// @Param        request body lifecycleapp.ScheduleOptions false "Pass options"
// @Success      200 {object} dto.Response{data=lifecycleapp.ScheduleResult}
// @Failure      400 {object} dto.Response
// @Failure      401 {object} dto.Response
// @Failure      403 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Security     BearerAuth
// @Router       /lifecycle/scheduler/run [post]
func (h *SchedulerHandler) Run(c *gin.Context) {
	var opts lifecycleapp.ScheduleOptions
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			h.BindError(c, err)
			return
		}
	}

	// Claimed operations stay PENDING if the pass stops between claim and
	// dispatch, so a client disconnect must not cancel it.
	ctx := context.WithoutCancel(c.Request.Context())
	if h.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.passTimeout)
		defer cancel()
	}

	result, err := h.run(ctx, opts)
	switch {
	case errors.Is(err, scheduler.ErrPassInProgress):
		h.Error(c, dto.ErrCodeSchedulerBusy, "A cooling pass is already running")
	case errors.Is(err, scheduler.ErrSchedulerNotRunning):
		h.Error(c, dto.ErrCodeUnavailable, "Cooling scheduler is not running")
	case err != nil:
		h.HandleError(c, err)
	default:
		h.Success(c, result)
	}
}

func (h *SchedulerHandler) run(ctx context.Context, opts lifecycleapp.ScheduleOptions) (*lifecycleapp.ScheduleResult, error) {
	if h.trigger != nil {
		result, err := h.trigger.TriggerNow(ctx, opts)
		if !errors.Is(err, scheduler.ErrSchedulerNotRunning) || h.fallback == nil {
			return result, err
		}
	}
	if h.fallback == nil {
		return nil, scheduler.ErrSchedulerNotRunning
	}
	return h.fallback.ScheduleCooling(ctx, opts)
}
