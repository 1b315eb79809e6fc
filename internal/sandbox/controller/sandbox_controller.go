package controller

import (
	"context"

	"ownide/internal/sandbox/middleware"
	"ownide/internal/sandbox/model"
	appErr "ownide/pkg/errors"
	"ownide/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SubmissionService is what the HTTP layer needs from the sandbox service.
type SubmissionService interface {
	Submit(ctx context.Context, visitor model.Visitor, req model.ExecutionRequest) (model.SubmissionStatus, error)
	Status(ctx context.Context, taskID string) (model.SubmissionStatus, error)
}

// SandboxController handles code execution endpoints.
type SandboxController struct {
	svc   SubmissionService
	watch WatchConfig
}

// NewSandboxController creates a new SandboxController.
func NewSandboxController(svc SubmissionService, watch WatchConfig) *SandboxController {
	return &SandboxController{svc: svc, watch: watch.withDefaults()}
}

// ExecuteRequest defines the submission payload.
type ExecuteRequest struct {
	Language  string  `json:"language"`
	Code      string  `json:"code"`
	InputData *string `json:"input_data"`
}

// Submit accepts a program and schedules it.
func (h *SandboxController) Submit(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	visitor, ok := middleware.VisitorFrom(c)
	if !ok {
		response.Error(c, appErr.New(appErr.InternalServerError).WithMessage("visitor is not resolved"))
		return
	}

	status, err := h.svc.Submit(c.Request.Context(), visitor, model.ExecutionRequest{
		Language:  model.Language(req.Language),
		Code:      req.Code,
		InputData: req.InputData,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, status)
}

// GetStatus returns the current status of one submission.
func (h *SandboxController) GetStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		response.BadRequest(c, "Invalid task id")
		return
	}
	status, err := h.svc.Status(c.Request.Context(), taskID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, status)
}
