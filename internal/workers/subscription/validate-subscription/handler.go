// internal/workers/subscription/validate-subscription/handler.go
package validatesubscription

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"action-engine/internal/common/camunda"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/redis/go-redis/v9"
)

const (
	TaskType = "validate-subscription"
)

// QueryLedger is the part of the usage ledger a chat query consumes.
type QueryLedger interface {
	CanQuery(ctx context.Context, owner string) (bool, error)
	IncrementUsage(ctx context.Context, owner string, queryDelta, actionDelta uint64) error
	ActiveSubscription(ctx context.Context, owner string) (*models.Subscription, error)
}

type Handler struct {
	config *Config
	ledger QueryLedger
	redis  redis.Cmdable
	logger logger.Logger
}

// NewHandler builds the handler. redisClient may be nil, which disables the
// tier cache.
func NewHandler(config *Config, ledger QueryLedger, redisClient redis.Cmdable, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		ledger: ledger,
		redis:  redisClient,
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

// Execute admits one chat query against the owner's subscription. Denials
// complete the job with IsValid=false so the process can answer the user.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	owner := strings.TrimSpace(input.Owner)
	if owner == "" {
		return nil, errors.NewInvalidRequestError("owner is required")
	}

	ok, err := h.ledger.CanQuery(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return h.deny(ctx, owner)
	}

	if err := h.ledger.IncrementUsage(ctx, owner, 1, 0); err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNoValidSubscription {
			return h.deny(ctx, owner)
		}
		return nil, err
	}

	snap, err := h.snapshot(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &Output{IsValid: true, TierLevel: snap.Tier, Permissions: snap.Features}, nil
}

func (h *Handler) deny(ctx context.Context, owner string) (*Output, error) {
	h.invalidate(ctx, owner)

	reason := string(errors.ErrCodeQuotaExceeded)
	if _, err := h.ledger.ActiveSubscription(ctx, owner); err != nil {
		if errors.CodeOf(err) != errors.ErrCodeNoValidSubscription {
			return nil, err
		}
		reason = string(errors.ErrCodeNoValidSubscription)
	}
	h.logger.Info("query denied", map[string]interface{}{"owner": owner, "reason": reason})
	return &Output{IsValid: false, Reason: reason}, nil
}

func (h *Handler) snapshot(ctx context.Context, owner string) (*TierSnapshot, error) {
	if h.redis != nil {
		if val, err := h.redis.Get(ctx, h.cacheKey(owner)).Result(); err == nil {
			var snap TierSnapshot
			if err := json.Unmarshal([]byte(val), &snap); err == nil && time.Now().Unix() <= snap.EndTime {
				return &snap, nil
			}
		}
	}

	sub, err := h.ledger.ActiveSubscription(ctx, owner)
	if err != nil {
		return nil, err
	}
	snap := &TierSnapshot{
		SubscriptionID: sub.ID,
		Tier:           sub.Terms.Name,
		Features:       sub.Terms.Features,
		EndTime:        sub.EndTime.Unix(),
	}

	if h.redis != nil {
		data, _ := json.Marshal(snap)
		if err := h.redis.Set(ctx, h.cacheKey(owner), data, h.config.CacheTTL).Err(); err != nil {
			h.logger.Debug("failed to cache tier snapshot", map[string]interface{}{
				"owner": owner,
				"error": err.Error(),
			})
		}
	}
	return snap, nil
}

func (h *Handler) invalidate(ctx context.Context, owner string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.Del(ctx, h.cacheKey(owner)).Err(); err != nil {
		h.logger.Debug("failed to drop tier snapshot", map[string]interface{}{
			"owner": owner,
			"error": err.Error(),
		})
	}
}

func (h *Handler) cacheKey(owner string) string {
	return h.config.CachePrefix + ":sub:" + owner
}
