// internal/workers/actions/create-action/handler.go
package createaction

import (
	"bytes"
	"context"
	"encoding/json"
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
	TaskType = "action-create"
)

type ActionCreator interface {
	CreateAction(ctx context.Context, req actions.CreateRequest) (*models.Action, error)
}

type Handler struct {
	config *Config
	engine ActionCreator
	logger logger.Logger
}

func NewHandler(config *Config, engine ActionCreator, log logger.Logger) *Handler {
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
	if err := validateInput(input); err != nil {
		return nil, err
	}

	payload, err := payloadBytes(input.Payload)
	if err != nil {
		return nil, err
	}

	action, err := h.engine.CreateAction(ctx, actions.CreateRequest{
		Caller:      input.Caller,
		Owner:       input.Owner,
		Type:        input.ActionType,
		Payload:     payload,
		ChatContext: input.ChatContext,
		Target:      input.Target,
		GasLimit:    input.GasLimit,
	})
	if err != nil {
		h.logger.Info("action request rejected", map[string]interface{}{
			"owner":      input.Owner,
			"actionType": input.ActionType,
			"code":       errors.CodeOf(err),
		})
		return nil, err
	}

	return &Output{
		ActionID:      action.ID,
		Status:        string(action.Status),
		PayloadDigest: action.PayloadDigest,
		Approver:      action.Approver,
	}, nil
}

func validateInput(input *Input) error {
	var missing []string
	if strings.TrimSpace(input.Caller) == "" {
		missing = append(missing, "caller")
	}
	if strings.TrimSpace(input.Owner) == "" {
		missing = append(missing, "owner")
	}
	if strings.TrimSpace(input.ActionType) == "" {
		missing = append(missing, "actionType")
	}
	if strings.TrimSpace(input.Target) == "" {
		missing = append(missing, "target")
	}
	if len(bytes.TrimSpace(input.Payload)) == 0 {
		missing = append(missing, "payload")
	}
	if len(missing) > 0 {
		return errors.NewInvalidRequestError("missing required fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// payloadBytes unwraps a JSON string payload to its raw bytes and passes any
// other JSON value through untouched.
func payloadBytes(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, errors.NewInvalidRequestError("payload: " + err.Error())
		}
		return []byte(s), nil
	}
	return append([]byte(nil), trimmed...), nil
}
