package handler

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	lifecycleapp "github.com/labdata/backend/internal/application/lifecycle"
	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
	"github.com/labdata/backend/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOperationHandler_Cool(t *testing.T) {
	projectID := uuid.New()
	opID := uuid.New()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"accepted", nil, http.StatusAccepted, ""},
		{"already in flight", lifecycleapp.ErrOperationInFlight, http.StatusConflict, "OPERATION_IN_FLIGHT"},
		{"wrong state", shared.ErrInvalidState, http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"totals unknown", lifecycle.ErrTotalsUnknown, http.StatusUnprocessableEntity, "TOTALS_UNKNOWN"},
		{"project missing", lifecycleapp.ErrProjectNotFound, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockOperationService)
			h := NewOperationHandler(svc)
			if tt.err != nil {
				svc.On("RequestCooling", mock.Anything, projectID).Return(nil, tt.err)
			} else {
				svc.On("RequestCooling", mock.Anything, projectID).Return(&lifecycleapp.OperationResponse{
					ID: opID, ProjectDataID: projectID, Type: "COOL", Status: "RUNNING",
				}, nil)
			}

			w := perform(http.MethodPost, "/projects/:id/cool", "/projects/"+projectID.String()+"/cool", nil, h.Cool)

			if tt.code != "" {
				assertErrorCode(t, w, tt.status, tt.code)
				return
			}
			require.Equal(t, tt.status, w.Code)
			data := decode(t, w).Data.(map[string]any)
			assert.Equal(t, opID.String(), data["id"])
			assert.Equal(t, "RUNNING", data["status"])
			svc.AssertExpectations(t)
		})
	}
}

func TestOperationHandler_Restore(t *testing.T) {
	svc := new(mockOperationService)
	h := NewOperationHandler(svc)
	projectID := uuid.New()
	svc.On("RequestRestore", mock.Anything, projectID).
		Return(&lifecycleapp.OperationResponse{Type: "RESTORE", Status: "PENDING"}, nil)

	w := perform(http.MethodPost, "/projects/:id/restore", "/projects/"+projectID.String()+"/restore", nil, h.Restore)

	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

func TestOperationHandler_Retry(t *testing.T) {
	projectID := uuid.New()
	target := "/projects/" + projectID.String() + "/retry"

	t.Run("starts requested type", func(t *testing.T) {
		svc := new(mockOperationService)
		h := NewOperationHandler(svc)
		svc.On("RetryFromError", mock.Anything, projectID, lifecycle.OperationTypeRestore).
			Return(&lifecycleapp.OperationResponse{Type: "RESTORE", Status: "RUNNING"}, nil)

		w := perform(http.MethodPost, "/projects/:id/retry", target, map[string]any{"type": "RESTORE"}, h.Retry)

		assert.Equal(t, http.StatusAccepted, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("project not in error", func(t *testing.T) {
		svc := new(mockOperationService)
		h := NewOperationHandler(svc)
		svc.On("RetryFromError", mock.Anything, projectID, lifecycle.OperationTypeCool).
			Return(nil, lifecycleapp.ErrNotInError)

		w := perform(http.MethodPost, "/projects/:id/retry", target, map[string]any{"type": "COOL"}, h.Retry)
		assertErrorCode(t, w, http.StatusUnprocessableEntity, "INVALID_STATE")
	})

	t.Run("unknown type", func(t *testing.T) {
		svc := new(mockOperationService)
		h := NewOperationHandler(svc)

		w := perform(http.MethodPost, "/projects/:id/retry", target, map[string]any{"type": "DELETE"}, h.Retry)

		assertErrorCode(t, w, http.StatusBadRequest, dto.ErrCodeValidation)
		svc.AssertNotCalled(t, "RetryFromError", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestOperationHandler_ListForProject(t *testing.T) {
	svc := new(mockOperationService)
	h := NewOperationHandler(svc)
	projectID := uuid.New()
	svc.On("ListOperations", mock.Anything, mock.MatchedBy(func(f lifecycleapp.OperationListFilter) bool {
		return f.ProjectID != nil && *f.ProjectID == projectID &&
			f.Status == "FAILED" && f.OrderBy == "created_at" && f.OrderDir == "desc"
	})).Return([]lifecycleapp.OperationResponse{{Status: "FAILED"}}, int64(1), nil)

	w := perform(http.MethodGet, "/projects/:id/operations",
		"/projects/"+projectID.String()+"/operations?status=FAILED", nil, h.ListForProject)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, int64(1), decode(t, w).Meta.Total)
	svc.AssertExpectations(t)
}

func TestOperationHandler_Get(t *testing.T) {
	svc := new(mockOperationService)
	h := NewOperationHandler(svc)
	opID := uuid.New()
	svc.On("GetOperation", mock.Anything, opID).Return(nil, lifecycleapp.ErrOperationNotFound)

	w := perform(http.MethodGet, "/operations/:id", "/operations/"+opID.String(), nil, h.Get)

	assertErrorCode(t, w, http.StatusNotFound, "NOT_FOUND")
}

func TestOperationHandler_Stats(t *testing.T) {
	svc := new(mockOperationService)
	h := NewOperationHandler(svc)
	svc.On("OperationStats", mock.Anything).Return(&lifecycleapp.OperationStatsResponse{
		Total:    3,
		InFlight: 1,
		Counts:   []lifecycleapp.OperationCountResponse{{Type: "COOL", Status: "RUNNING", Count: 1}},
	}, nil).Once()
	svc.On("OperationStats", mock.Anything).Return(nil, errors.New("db down")).Once()

	w := perform(http.MethodGet, "/operations/stats", "/operations/stats", nil, h.Stats)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w).Data.(map[string]any)["total"])

	w = perform(http.MethodGet, "/operations/stats", "/operations/stats", nil, h.Stats)
	assertErrorCode(t, w, http.StatusInternalServerError, dto.ErrCodeInternal)
}
