// internal/actions/engine.go
package actions

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"action-engine/internal/allowlist"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/keylock"
	"action-engine/internal/common/logger"
	"action-engine/internal/common/metrics"
	"action-engine/internal/dispatch"
	"action-engine/internal/models"
	"action-engine/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AutoApprover is recorded as the approver of auto-approved actions.
const AutoApprover = "system:auto"

// Lifecycle events passed to EventSinks.
const (
	EventCreated   = "created"
	EventApproved  = "approved"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventExpired   = "expired"
)

// Ledger is the subset of the subscription ledger the engine consults.
type Ledger interface {
	CanAct(ctx context.Context, owner string) (bool, error)
	ActiveSubscription(ctx context.Context, owner string) (*models.Subscription, error)
	IncrementUsage(ctx context.Context, owner string, queryDelta, actionDelta uint64) error
	Usage(ctx context.Context, owner string) (*models.UsageCounter, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, action *models.Action) *dispatch.Outcome
}

// EventSink observes action lifecycle transitions. Delivery failures stay
// inside the sink.
type EventSink interface {
	ActionChanged(ctx context.Context, event string, action *models.Action)
}

// Alerter notifies operators about conditions needing manual attention.
type Alerter interface {
	Alert(ctx context.Context, subject, body string)
}

type Config struct {
	ExpiryWindow   time.Duration
	AutoApprove    bool
	RequestSources []string
	Operators      []string
	LockShards     int
	// SettleTimeout bounds the writes that follow a dispatch. They run
	// detached from the caller's context.
	SettleTimeout time.Duration
}

type CreateRequest struct {
	Caller      string
	Owner       string
	Type        string
	Payload     []byte
	ChatContext string
	Target      string
	GasLimit    uint64
}

// UserUsage combines ledger usage with the rate-limit view of one owner.
type UserUsage struct {
	Owner             string        `json:"owner"`
	Subscribed        bool          `json:"subscribed"`
	Tier              string        `json:"tier,omitempty"`
	QueriesUsed       uint64        `json:"queriesUsed"`
	ActionsUsed       uint64        `json:"actionsUsed"`
	MaxQueries        uint64        `json:"maxQueries"`
	MaxActions        uint64        `json:"maxActions"`
	CycleStart        time.Time     `json:"cycleStart"`
	DayCount          int64         `json:"dayCount"`
	DailyCap          int64         `json:"dailyCap"`
	LastActionAt      *time.Time    `json:"lastActionAt,omitempty"`
	CooldownRemaining time.Duration `json:"cooldownRemainingMs"`
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithEventSinks(sinks ...EventSink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

func WithAlerter(a Alerter) Option {
	return func(e *Engine) { e.alerter = a }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// Engine admits, persists and drives actions through their lifecycle.
type Engine struct {
	store      Store
	ledger     Ledger
	limiter    *ratelimit.Limiter
	registry   allowlist.Registry
	dispatcher Dispatcher
	policy     Policy
	auth       *authorizer
	cfg        Config
	locks      *keylock.Locker
	sinks      []EventSink
	alerter    Alerter
	tracer     trace.Tracer
	now        func() time.Time
	logger     logger.Logger
}

func NewEngine(store Store, ledger Ledger, limiter *ratelimit.Limiter, registry allowlist.Registry, dispatcher Dispatcher, cfg Config, log logger.Logger, opts ...Option) *Engine {
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = time.Hour
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = 10 * time.Second
	}
	e := &Engine{
		store:      store,
		ledger:     ledger,
		limiter:    limiter,
		registry:   registry,
		dispatcher: dispatcher,
		policy:     NewMemoryPolicy(),
		auth:       newAuthorizer(cfg.RequestSources, cfg.Operators),
		cfg:        cfg,
		locks:      keylock.New(cfg.LockShards),
		tracer:     otel.Tracer("action-engine/actions"),
		now:        time.Now,
		logger:     log.WithFields(map[string]interface{}{"component": "action-engine"}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

// ==========================
// Admission
// ==========================

// CreateAction runs the admission checks in order and stores a Pending
// action. Nothing is recorded unless every check passes.
func (e *Engine) CreateAction(ctx context.Context, req CreateRequest) (*models.Action, error) {
	ctx, span := e.tracer.Start(ctx, "actions.CreateAction", trace.WithAttributes(
		attribute.String("action.owner", req.Owner),
		attribute.String("action.type", req.Type),
	))
	defer span.End()

	if !e.auth.canRequest(req.Caller, req.Owner) {
		return nil, e.deny(req.Type, errors.NewUnauthorizedCallerError(req.Caller, req.Owner))
	}

	actionType, ok := models.ParseActionType(req.Type)
	if !ok {
		return nil, e.deny(req.Type, errors.NewInvalidActionTypeError(req.Type))
	}
	label := string(actionType)

	unlock := e.locks.Lock(req.Owner)
	defer unlock()

	canAct, err := e.ledger.CanAct(ctx, req.Owner)
	if err != nil {
		return nil, e.deny(label, err)
	}
	if !canAct {
		return nil, e.deny(label, errors.NewQuotaExceededError(req.Owner))
	}

	sub, err := e.ledger.ActiveSubscription(ctx, req.Owner)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeNoValidSubscription {
			return nil, e.deny(label, errors.NewQuotaExceededError(req.Owner))
		}
		return nil, e.deny(label, err)
	}
	tier := sub.Terms.Name

	now := e.now().UTC()
	if err := e.limiter.Check(ctx, req.Owner, tier, now); err != nil {
		return nil, e.deny(label, err)
	}

	allowed, err := policyAllows(ctx, e.policy, actionType)
	if err != nil {
		return nil, e.deny(label, errors.NewStorageFailedError("policy_lookup", err))
	}
	if !allowed {
		return nil, e.deny(label, errors.NewActionTypeDisabledError(label))
	}

	category, _ := models.CategoryOf(actionType)
	supported, err := e.registry.IsSupported(ctx, req.Target, category)
	if err != nil {
		return nil, e.deny(label, errors.NewStorageFailedError("allowlist_lookup", err))
	}
	if !supported {
		return nil, e.deny(label, errors.NewUnsupportedTargetError(models.NormalizeAddress(req.Target), string(category)))
	}

	reservation, err := e.limiter.Reserve(ctx, req.Owner, tier, now)
	if err != nil {
		return nil, e.deny(label, err)
	}

	payload := append([]byte(nil), req.Payload...)
	action := &models.Action{
		Owner:         req.Owner,
		Type:          actionType,
		Payload:       payload,
		PayloadDigest: dispatch.Digest(payload),
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		ChatContext:   req.ChatContext,
		TargetAddress: models.NormalizeAddress(req.Target),
		GasLimit:      req.GasLimit,
		RequestedBy:   req.Caller,
	}
	id, err := e.store.Create(ctx, action)
	if err != nil {
		if rerr := e.limiter.Release(ctx, reservation); rerr != nil {
			e.logger.Error("failed to release rate-limit reservation", map[string]interface{}{
				"owner": req.Owner, "error": rerr.Error(),
			})
		}
		return nil, e.deny(label, errors.NewStorageFailedError("create_action", err))
	}
	action.ID = id
	span.SetAttributes(attribute.Int64("action.id", int64(id)))

	metrics.ActionsAdmitted.WithLabelValues(label).Inc()
	e.logger.Info("action admitted", map[string]interface{}{
		"actionId": id, "owner": req.Owner, "type": label, "target": action.TargetAddress, "caller": req.Caller,
	})
	e.emit(ctx, EventCreated, action)

	if e.cfg.AutoApprove {
		approved, err := e.approve(ctx, id, AutoApprover)
		if err != nil {
			e.logger.Warn("auto-approve failed", map[string]interface{}{"actionId": id, "error": err.Error()})
			return action, nil
		}
		return approved, nil
	}
	return action, nil
}

func (e *Engine) deny(actionType string, err error) error {
	code := errors.CodeOf(err)
	metrics.ActionsDenied.WithLabelValues(actionType, string(code)).Inc()
	e.logger.Debug("action denied", map[string]interface{}{"type": actionType, "code": code, "error": err.Error()})
	return err
}

// ==========================
// Lifecycle
// ==========================

func (e *Engine) Approve(ctx context.Context, actionID uint64, approver string) (*models.Action, error) {
	if strings.TrimSpace(approver) == "" {
		return nil, errors.NewInvalidRequestError("approver is required")
	}
	return e.approve(ctx, actionID, approver)
}

func (e *Engine) approve(ctx context.Context, actionID uint64, approver string) (*models.Action, error) {
	now := e.now().UTC()
	action, swapped, err := e.store.Transition(ctx, actionID,
		[]models.ActionStatus{models.StatusPending},
		models.StatusUpdate{To: models.StatusApproved, At: now, Approver: approver, ApprovedAt: &now},
	)
	if err != nil {
		return nil, e.storeError(actionID, "approve", err)
	}
	if !swapped {
		return nil, errors.NewActionNotPendingError(actionID, string(action.Status))
	}

	e.logger.Info("action approved", map[string]interface{}{"actionId": actionID, "approver": approver})
	e.emit(ctx, EventApproved, action)
	return action, nil
}

// Execute dispatches an approved action and settles it. Dispatch failures are
// recorded on the returned action, not returned as errors.
func (e *Engine) Execute(ctx context.Context, actionID uint64, caller string) (*models.Action, error) {
	ctx, span := e.tracer.Start(ctx, "actions.Execute", trace.WithAttributes(attribute.Int64("action.id", int64(actionID))))
	defer span.End()

	action, err := e.store.Get(ctx, actionID)
	if err != nil {
		return nil, e.storeError(actionID, "get", err)
	}
	if !e.auth.canOperate(caller, action.Owner) {
		return nil, errors.NewNotAuthorizedToExecuteError(actionID, caller)
	}
	switch action.Status {
	case models.StatusApproved:
	case models.StatusExpired:
		return nil, errors.NewActionExpiredError(actionID)
	default:
		return nil, errors.NewActionNotApprovedError(actionID, string(action.Status))
	}

	now := e.now().UTC()
	if action.ApprovedAt != nil && now.Sub(*action.ApprovedAt) > e.cfg.ExpiryWindow {
		return nil, e.expire(ctx, action, now)
	}

	action, swapped, err := e.store.Transition(ctx, actionID,
		[]models.ActionStatus{models.StatusApproved},
		models.StatusUpdate{To: models.StatusExecuting, At: now},
	)
	if err != nil {
		return nil, e.storeError(actionID, "start_execution", err)
	}
	if !swapped {
		return nil, errors.NewActionNotApprovedError(actionID, string(action.Status))
	}

	metrics.DispatchInFlight.Inc()
	outcome := e.dispatcher.Dispatch(ctx, action)
	metrics.DispatchInFlight.Dec()

	status := models.StatusCompleted
	if !outcome.Success {
		status = models.StatusFailed
	}

	// The caller's deadline may already have passed while dispatching.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SettleTimeout)
	defer cancel()

	settledAt := e.now().UTC()
	result := outcome.ResultString()
	settled, swapped, err := e.store.Transition(settleCtx, actionID,
		[]models.ActionStatus{models.StatusExecuting},
		models.StatusUpdate{To: status, At: settledAt, ExecutedAt: &settledAt, Result: &result},
	)
	if err != nil {
		e.logger.Error("failed to settle action", map[string]interface{}{
			"actionId": actionID, "status": status, "result": result, "error": err.Error(),
		})
		return nil, e.storeError(actionID, "settle", err)
	}
	if !swapped {
		return nil, errors.NewInternalError(fmt.Errorf("action %d left Executing concurrently (now %s)", actionID, settled.Status))
	}

	metrics.ActionsSettled.WithLabelValues(string(settled.Type), string(status)).Inc()
	e.logger.Info("action settled", map[string]interface{}{
		"actionId": actionID, "status": status, "code": outcome.Code, "reference": outcome.Reference,
	})

	if outcome.Success {
		e.recordUsage(settleCtx, settled)
		e.emit(settleCtx, EventCompleted, settled)
	} else {
		e.emit(settleCtx, EventFailed, settled)
	}
	return settled, nil
}

// recordUsage charges one action to the owner's cycle. A failure leaves the
// action Completed and is reported to operators.
func (e *Engine) recordUsage(ctx context.Context, action *models.Action) {
	unlock := e.locks.Lock(action.Owner)
	err := e.ledger.IncrementUsage(ctx, action.Owner, 0, 1)
	unlock()
	if err == nil {
		return
	}

	metrics.UsageIncrementFailures.Inc()
	e.logger.Error("usage increment failed for completed action", map[string]interface{}{
		"actionId": action.ID, "owner": action.Owner, "error": err.Error(),
	})
	if e.alerter != nil {
		e.alerter.Alert(ctx, "Usage increment failed",
			fmt.Sprintf("Action %d for %s completed but its usage could not be recorded: %v", action.ID, action.Owner, err))
	}
}

func (e *Engine) expire(ctx context.Context, action *models.Action, now time.Time) error {
	expired, swapped, err := e.store.Transition(ctx, action.ID,
		[]models.ActionStatus{models.StatusApproved},
		models.StatusUpdate{To: models.StatusExpired, At: now},
	)
	if err != nil {
		return e.storeError(action.ID, "expire", err)
	}
	if !swapped {
		if expired.Status == models.StatusExpired {
			return errors.NewActionExpiredError(action.ID)
		}
		return errors.NewActionNotApprovedError(action.ID, string(expired.Status))
	}

	metrics.ActionsSettled.WithLabelValues(string(expired.Type), string(models.StatusExpired)).Inc()
	e.logger.Info("action expired", map[string]interface{}{"actionId": action.ID, "approvedAt": action.ApprovedAt})
	e.emit(ctx, EventExpired, expired)
	return errors.NewActionExpiredError(action.ID)
}

func (e *Engine) Cancel(ctx context.Context, actionID uint64, caller, reason string) (*models.Action, error) {
	action, err := e.store.Get(ctx, actionID)
	if err != nil {
		return nil, e.storeError(actionID, "get", err)
	}
	if !e.auth.canOperate(caller, action.Owner) {
		return nil, errors.NewNotAuthorizedToExecuteError(actionID, caller)
	}

	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "cancelled by " + caller
	}
	now := e.now().UTC()
	cancelled, swapped, err := e.store.Transition(ctx, actionID,
		[]models.ActionStatus{models.StatusPending, models.StatusApproved},
		models.StatusUpdate{To: models.StatusCancelled, At: now, Result: &reason},
	)
	if err != nil {
		return nil, e.storeError(actionID, "cancel", err)
	}
	if !swapped {
		return nil, errors.NewActionNotCancellableError(actionID, string(cancelled.Status))
	}

	metrics.ActionsSettled.WithLabelValues(string(cancelled.Type), string(models.StatusCancelled)).Inc()
	e.logger.Info("action cancelled", map[string]interface{}{"actionId": actionID, "caller": caller, "reason": reason})
	e.emit(ctx, EventCancelled, cancelled)
	return cancelled, nil
}

// ==========================
// Queries
// ==========================

func (e *Engine) GetAction(ctx context.Context, actionID uint64) (*models.Action, error) {
	action, err := e.store.Get(ctx, actionID)
	if err != nil {
		return nil, e.storeError(actionID, "get", err)
	}
	return action, nil
}

func (e *Engine) GetUserActions(ctx context.Context, owner string) ([]*models.Action, error) {
	list, err := e.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, errors.NewStorageFailedError("list_actions", err)
	}
	return list, nil
}

func (e *Engine) GetUserUsage(ctx context.Context, owner string) (*UserUsage, error) {
	out := &UserUsage{Owner: owner}

	sub, err := e.ledger.ActiveSubscription(ctx, owner)
	switch {
	case err == nil:
		out.Subscribed = true
		out.Tier = sub.Terms.Name
		out.MaxQueries = sub.Terms.MaxQueries
		out.MaxActions = sub.Terms.MaxActions
	case errors.CodeOf(err) != errors.ErrCodeNoValidSubscription:
		return nil, err
	}

	usage, err := e.ledger.Usage(ctx, owner)
	if err != nil {
		return nil, err
	}
	out.QueriesUsed = usage.QueriesUsed
	out.ActionsUsed = usage.ActionsUsed
	out.CycleStart = usage.CycleStart

	st, err := e.limiter.Status(ctx, owner, out.Tier, e.now().UTC())
	if err != nil {
		return nil, err
	}
	out.DayCount = st.DayCount
	out.DailyCap = st.DailyCap
	out.CooldownRemaining = st.CooldownRemaining
	if !st.LastActionAt.IsZero() {
		t := st.LastActionAt
		out.LastActionAt = &t
	}
	return out, nil
}

// ==========================
// Admin
// ==========================

func (e *Engine) SetActionTypeEnabled(ctx context.Context, actionType string, enabled bool) error {
	t, ok := models.ParseActionType(actionType)
	if !ok {
		return errors.NewInvalidActionTypeError(actionType)
	}
	if err := e.policy.SetEnabled(ctx, t, enabled); err != nil {
		return errors.NewStorageFailedError("policy_set", err)
	}
	e.logger.Info("action type toggled", map[string]interface{}{"type": t, "enabled": enabled})
	return nil
}

func (e *Engine) SetDailyLimit(ctx context.Context, tier string, limit int64) error {
	if err := e.limiter.SetDailyLimit(ctx, tier, limit); err != nil {
		return err
	}
	e.logger.Info("daily limit updated", map[string]interface{}{"tier": tier, "limit": limit})
	return nil
}

func (e *Engine) EmergencyDisableAll(ctx context.Context, active bool) error {
	if err := e.policy.SetEmergencyStop(ctx, active); err != nil {
		return errors.NewStorageFailedError("policy_emergency_stop", err)
	}
	e.logger.Warn("emergency stop toggled", map[string]interface{}{"active": active})
	if e.alerter == nil {
		return nil
	}
	if active {
		e.alerter.Alert(ctx, "Emergency stop activated", "All new action admissions are blocked.")
	} else {
		e.alerter.Alert(ctx, "Emergency stop lifted", "Action admissions are allowed again.")
	}
	return nil
}

// ==========================
// Helpers
// ==========================

func (e *Engine) storeError(actionID uint64, op string, err error) error {
	if stderrors.Is(err, ErrNotFound) {
		return errors.NewActionNotFoundError(actionID)
	}
	if _, ok := errors.AsStandardError(err); ok {
		return err
	}
	return errors.NewStorageFailedError(op+"_action", err)
}

func (e *Engine) emit(ctx context.Context, event string, action *models.Action) {
	for _, sink := range e.sinks {
		sink.ActionChanged(ctx, event, action.Clone())
	}
}
