// internal/workers/admin/admin-config/handler.go
package adminconfig

import (
	"context"
	"strings"
	"time"

	"action-engine/internal/allowlist"
	"action-engine/internal/common/camunda"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "admin-config"
)

type TierAdmin interface {
	CreateTier(ctx context.Context, name string, price int64, duration time.Duration, maxQueries, maxActions uint64, features []string) (uint64, error)
	SetTierActive(ctx context.Context, tierID uint64, active bool) error
	ListTiers(ctx context.Context, activeOnly bool) ([]*models.SubscriptionTier, error)
}

type EngineAdmin interface {
	SetActionTypeEnabled(ctx context.Context, actionType string, enabled bool) error
	SetDailyLimit(ctx context.Context, tier string, limit int64) error
	EmergencyDisableAll(ctx context.Context, active bool) error
}

type Handler struct {
	config    *Config
	operators map[string]struct{}
	tiers     TierAdmin
	registry  allowlist.Registry
	engine    EngineAdmin
	logger    logger.Logger
}

func NewHandler(config *Config, tiers TierAdmin, registry allowlist.Registry, engine EngineAdmin, log logger.Logger) *Handler {
	ops := make(map[string]struct{}, len(config.Operators))
	for _, op := range config.Operators {
		ops[op] = struct{}{}
	}
	return &Handler{
		config:    config,
		operators: ops,
		tiers:     tiers,
		registry:  registry,
		engine:    engine,
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
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
	if _, ok := h.operators[input.Caller]; !ok {
		return nil, errors.NewUnauthorizedCallerError(input.Caller, "admin")
	}

	op := strings.ToLower(strings.TrimSpace(input.Operation))
	out := &Output{Operation: op, Applied: true}

	var err error
	switch op {
	case OperationCreateTier:
		out.TierID, err = h.tiers.CreateTier(ctx, input.Name, input.Price,
			time.Duration(input.DurationSeconds)*time.Second, input.MaxQueries, input.MaxActions, input.Features)

	case OperationSetTierActive:
		err = h.tiers.SetTierActive(ctx, input.TierID, input.Enabled)

	case OperationListTiers:
		out.Applied = false
		out.Tiers, err = h.tiers.ListTiers(ctx, input.ActiveOnly)

	case OperationSetSupport:
		var protocol models.ProtocolType
		if protocol, err = parseTarget(input.Address, input.Protocol); err == nil {
			err = h.registry.SetSupport(ctx, input.Address, protocol, input.Enabled)
		}

	case OperationListSupported:
		out.Applied = false
		protocol, ok := models.ParseProtocolType(input.Protocol)
		if !ok {
			return nil, errors.NewInvalidRequestError("unknown protocol: " + input.Protocol)
		}
		out.Addresses, err = h.registry.ListSupported(ctx, protocol)

	case OperationSetActionTypeEnabled:
		err = h.engine.SetActionTypeEnabled(ctx, input.ActionType, input.Enabled)

	case OperationSetDailyLimit:
		err = h.engine.SetDailyLimit(ctx, input.Tier, input.DailyLimit)

	case OperationEmergencyStop:
		err = h.engine.EmergencyDisableAll(ctx, input.Enabled)

	default:
		return nil, errors.NewInvalidRequestError("unknown operation: " + input.Operation)
	}
	if err != nil {
		return nil, err
	}

	if out.Applied {
		h.logger.Info("admin change applied", map[string]interface{}{
			"operation": op,
			"caller":    input.Caller,
		})
	}
	return out, nil
}

func parseTarget(address, protocol string) (models.ProtocolType, error) {
	if strings.TrimSpace(address) == "" {
		return "", errors.NewInvalidRequestError("address is required")
	}
	p, ok := models.ParseProtocolType(protocol)
	if !ok {
		return "", errors.NewInvalidRequestError("unknown protocol: " + protocol)
	}
	return p, nil
}
