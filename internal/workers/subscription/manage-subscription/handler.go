// internal/workers/subscription/manage-subscription/handler.go
package managesubscription

import (
	"context"
	"strconv"
	"strings"
	"time"

	"action-engine/internal/common/camunda"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/models"
	"action-engine/internal/payments"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "subscription-manage"
)

type SubscriptionManager interface {
	Purchase(ctx context.Context, owner string, tierID uint64, referrer string) (uint64, error)
	Renew(ctx context.Context, subscriptionID uint64, caller string) (time.Time, error)
	Cancel(ctx context.Context, subscriptionID uint64, caller string) error
	WithdrawEarnings(ctx context.Context, owner string) (int64, error)
	GetSubscription(ctx context.Context, subscriptionID uint64) (*models.Subscription, error)
}

type Handler struct {
	config *Config
	ledger SubscriptionManager
	logger logger.Logger
}

func NewHandler(config *Config, ledger SubscriptionManager, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		ledger: ledger,
		logger: log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	camunda.HandleJob(client, job, TaskType, h.config.Timeout, h.logger, func(ctx context.Context) (interface{}, error) {
		var input Input
		if err := camunda.DecodeVariables(job, &input); err != nil {
			return nil, errors.NewInvalidRequestError(err.Error())
		}
		// Retries of a job keep its key.
		ctx = payments.WithIdempotencyKey(ctx, "job-"+strconv.FormatInt(job.Key, 10))
		return h.Execute(ctx, &input)
	})
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	op := strings.ToLower(strings.TrimSpace(input.Operation))
	if input.RequestID != "" {
		ctx = payments.WithIdempotencyKey(ctx, input.RequestID)
	}

	switch op {
	case OperationPurchase:
		if strings.TrimSpace(input.Owner) == "" || input.TierID == 0 {
			return nil, errors.NewInvalidRequestError("owner and tierId are required")
		}
		id, err := h.ledger.Purchase(ctx, input.Owner, input.TierID, input.Referrer)
		if err != nil {
			return nil, err
		}
		return h.describe(ctx, op, id)

	case OperationRenew:
		if err := requireSubscriptionCaller(input); err != nil {
			return nil, err
		}
		if _, err := h.ledger.Renew(ctx, input.SubscriptionID, input.Caller); err != nil {
			return nil, err
		}
		return h.describe(ctx, op, input.SubscriptionID)

	case OperationCancel:
		if err := requireSubscriptionCaller(input); err != nil {
			return nil, err
		}
		if err := h.ledger.Cancel(ctx, input.SubscriptionID, input.Caller); err != nil {
			return nil, err
		}
		return h.describe(ctx, op, input.SubscriptionID)

	case OperationWithdrawEarnings:
		if strings.TrimSpace(input.Owner) == "" {
			return nil, errors.NewInvalidRequestError("owner is required")
		}
		amount, err := h.ledger.WithdrawEarnings(ctx, input.Owner)
		if err != nil {
			return nil, err
		}
		return &Output{Operation: op, Amount: amount}, nil

	default:
		return nil, errors.NewInvalidRequestError("unknown operation: " + input.Operation)
	}
}

func (h *Handler) describe(ctx context.Context, op string, subscriptionID uint64) (*Output, error) {
	sub, err := h.ledger.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return &Output{
		Operation:      op,
		SubscriptionID: sub.ID,
		Tier:           sub.Terms.Name,
		EndTime:        sub.EndTime.UTC().Format(time.RFC3339),
		Active:         sub.Active,
		Amount:         sub.PaidAmount,
	}, nil
}

func requireSubscriptionCaller(input *Input) error {
	if input.SubscriptionID == 0 || strings.TrimSpace(input.Caller) == "" {
		return errors.NewInvalidRequestError("subscriptionId and caller are required")
	}
	return nil
}
