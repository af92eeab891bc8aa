// internal/workers/actions/cancel-action/handler.go
package cancelaction

import (
	"context"
	"strings"

	"action-engine/internal/common/camunda"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "action-cancel"
)

type Canceller interface {
	Cancel(ctx context.Context, actionID uint64, caller, reason string) (*models.Action, error)
}

type Handler struct {
	config *Config
	engine Canceller
	logger logger.Logger
}

func NewHandler(config *Config, engine Canceller, log logger.Logger) *Handler {
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
	if strings.TrimSpace(input.Caller) == "" {
		return nil, errors.NewInvalidRequestError("caller is required")
	}

	action, err := h.engine.Cancel(ctx, input.ActionID, input.Caller, strings.TrimSpace(input.Reason))
	if err != nil {
		return nil, err
	}
	return &Output{
		ActionID: action.ID,
		Status:   string(action.Status),
		Result:   action.Result,
	}, nil
}
