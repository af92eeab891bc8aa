// internal/workers/actions/query-actions/handler.go
package queryactions

import (
	"context"
	"strings"

	"action-engine/internal/actions"
	"action-engine/internal/common/camunda"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "action-query"
)

type Reader interface {
	GetAction(ctx context.Context, actionID uint64) (*models.Action, error)
	GetUserActions(ctx context.Context, owner string) ([]*models.Action, error)
	GetUserUsage(ctx context.Context, owner string) (*actions.UserUsage, error)
}

type Handler struct {
	config *Config
	engine Reader
	logger logger.Logger
}

func NewHandler(config *Config, engine Reader, log logger.Logger) *Handler {
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
	op := strings.ToLower(strings.TrimSpace(input.Operation))
	out := &Output{Operation: op}

	switch op {
	case OperationGet:
		if input.ActionID == 0 {
			return nil, errors.NewInvalidRequestError("actionId is required")
		}
		action, err := h.engine.GetAction(ctx, input.ActionID)
		if err != nil {
			return nil, err
		}
		out.Action = action
		out.Count = 1

	case OperationList:
		if strings.TrimSpace(input.Owner) == "" {
			return nil, errors.NewInvalidRequestError("owner is required")
		}
		list, err := h.engine.GetUserActions(ctx, input.Owner)
		if err != nil {
			return nil, err
		}
		out.Actions = list
		out.Count = len(list)

	case OperationUsage:
		if strings.TrimSpace(input.Owner) == "" {
			return nil, errors.NewInvalidRequestError("owner is required")
		}
		usage, err := h.engine.GetUserUsage(ctx, input.Owner)
		if err != nil {
			return nil, err
		}
		out.Usage = usage

	default:
		return nil, errors.NewInvalidRequestError("unknown operation: " + input.Operation)
	}

	return out, nil
}
