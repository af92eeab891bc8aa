// internal/workers/actions/execute-action/handler.go
package executeaction

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
	TaskType = "action-execute"
)

type ActionExecutor interface {
	Execute(ctx context.Context, actionID uint64, caller string) (*models.Action, error)
}

type Handler struct {
	config *Config
	engine ActionExecutor
	logger logger.Logger
}

func NewHandler(config *Config, engine ActionExecutor, log logger.Logger) *Handler {
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

// Execute settles an approved action. A failed dispatch is not a job error:
// the action is already Failed and the process routes on Success.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.ActionID == 0 {
		return nil, errors.NewInvalidRequestError("actionId is required")
	}
	if strings.TrimSpace(input.Caller) == "" {
		return nil, errors.NewInvalidRequestError("caller is required")
	}

	action, err := h.engine.Execute(ctx, input.ActionID, input.Caller)
	if err != nil {
		return nil, err
	}

	out := &Output{
		ActionID: action.ID,
		Status:   string(action.Status),
		Success:  action.Status == models.StatusCompleted,
		Result:   action.Result,
	}
	if action.ExecutedAt != nil {
		out.ExecutedAt = action.ExecutedAt.UTC().Format(time.RFC3339)
	}
	if !out.Success {
		h.logger.Warn("action settled as failed", map[string]interface{}{
			"actionId": action.ID,
			"result":   action.Result,
		})
	}
	return out, nil
}
