// internal/workers/actions/approve-action/handler.go
package approveaction

import (
	"context"
	"strings"
	"time"

	"action-engine/internal/common/camunda"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "action-approve"
)

type Approver interface {
	Approve(ctx context.Context, actionID uint64, approver string) (*models.Action, error)
}

type Handler struct {
	config *Config
	engine Approver
	logger logger.Logger
}

func NewHandler(config *Config, engine Approver, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		engine: engine,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	camunda.HandleJob(client, job, TaskType, h.config.Timeout, h.logger, func(ctx context.Context) (interface{}, error) {
		var input Input
		if err := camunda.DecodeVariables(job, &input); err != nil {
			return nil, errors.NewInvalidRequestError(err.Error())
		}
		return h.Execute(ctx, &input)
	})
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.ActionID == 0 {
		return nil, errors.NewInvalidRequestError("actionId is required")
	}
	if strings.TrimSpace(input.Approver) == "" {
		return nil, errors.NewInvalidRequestError("approver is required")
	}

	action, err := h.engine.Approve(ctx, input.ActionID, input.Approver)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ActionID: action.ID,
		Status:   string(action.Status),
		Approver: action.Approver,
	}
	if action.ApprovedAt != nil {
		out.ApprovedAt = action.ApprovedAt.UTC().Format(time.RFC3339)
	}
	return out, nil
}
