// internal/ledger/ledger.go
package ledger

import (
	"context"
	stderrors "errors"
	"math/big"
	"strings"
	"time"

	"action-engine/internal/common/errors"
	"action-engine/internal/common/keylock"
	"action-engine/internal/common/logger"
	"action-engine/internal/common/metrics"
	"action-engine/internal/models"
)

const bpsDenominator = 10000

type Config struct {
	Treasury            string
	Cycle               time.Duration
	ReferralDiscountBps int64
	ReferralRewardBps   int64
	ProratedRefunds     bool
	LockShards          int
}

// DefaultConfig uses a 30 day cycle, a 10% referral discount and a 5% reward.
func DefaultConfig(treasury string) Config {
	return Config{
		Treasury:            treasury,
		Cycle:               30 * 24 * time.Hour,
		ReferralDiscountBps: 1000,
		ReferralRewardBps:   500,
		LockShards:          64,
	}
}

const (
	EventPurchase = "purchase"
	EventRenew    = "renew"
	EventCancel   = "cancel"
)

// EventSink receives subscription lifecycle events.
type EventSink interface {
	SubscriptionChanged(ctx context.Context, event string, sub *models.Subscription)
}

type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithEventSinks(sinks ...EventSink) Option {
	return func(l *Ledger) { l.events = append(l.events, sinks...) }
}

// Ledger tracks tiers, subscriptions, per-cycle usage and referral earnings.
type Ledger struct {
	store  Store
	funds  FundsTransfer
	cfg    Config
	locks  *keylock.Locker
	now    func() time.Time
	events []EventSink
	logger logger.Logger
}

func New(store Store, funds FundsTransfer, cfg Config, log logger.Logger, opts ...Option) *Ledger {
	if cfg.Cycle <= 0 {
		cfg.Cycle = 30 * 24 * time.Hour
	}
	l := &Ledger{
		store:  store,
		funds:  funds,
		cfg:    cfg,
		locks:  keylock.New(cfg.LockShards),
		now:    time.Now,
		logger: log.WithFields(map[string]interface{}{"component": "ledger"}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ==========================
// Tiers
// ==========================

func (l *Ledger) CreateTier(ctx context.Context, name string, price int64, duration time.Duration, maxQueries, maxActions uint64, features []string) (uint64, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return 0, errors.NewInvalidTierParamsError("name must not be empty")
	case price <= 0:
		return 0, errors.NewInvalidTierParamsError("price must be positive")
	case duration <= 0:
		return 0, errors.NewInvalidTierParamsError("duration must be positive")
	}

	id, err := l.store.CreateTier(ctx, &models.SubscriptionTier{
		Name:       name,
		Price:      price,
		Duration:   duration,
		MaxQueries: maxQueries,
		MaxActions: maxActions,
		Features:   features,
		Active:     true,
		CreatedAt:  l.now().UTC(),
	})
	if err != nil {
		return 0, errors.NewStorageFailedError("create_tier", err)
	}

	l.logger.Info("tier created", map[string]interface{}{
		"tierId": id, "name": name, "price": price, "maxActions": maxActions,
	})
	return id, nil
}

func (l *Ledger) SetTierActive(ctx context.Context, tierID uint64, active bool) error {
	if err := l.store.SetTierActive(ctx, tierID, active); err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return errors.NewInvalidTierParamsError("tier does not exist")
		}
		return errors.NewStorageFailedError("set_tier_active", err)
	}
	l.logger.Info("tier activity changed", map[string]interface{}{"tierId": tierID, "active": active})
	return nil
}

func (l *Ledger) GetTier(ctx context.Context, tierID uint64) (*models.SubscriptionTier, error) {
	tier, err := l.store.GetTier(ctx, tierID)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, errors.NewInvalidTierParamsError("tier does not exist")
		}
		return nil, errors.NewStorageFailedError("get_tier", err)
	}
	return tier, nil
}

func (l *Ledger) ListTiers(ctx context.Context, activeOnly bool) ([]*models.SubscriptionTier, error) {
	tiers, err := l.store.ListTiers(ctx)
	if err != nil {
		return nil, errors.NewStorageFailedError("list_tiers", err)
	}
	if !activeOnly {
		return tiers, nil
	}
	out := tiers[:0]
	for _, t := range tiers {
		if t.Active {
			out = append(out, t)
		}
	}
	return out, nil
}

// ==========================
// Subscriptions
// ==========================

// Purchase charges the owner once and opens a fresh usage cycle.
func (l *Ledger) Purchase(ctx context.Context, owner string, tierID uint64, referrer string) (uint64, error) {
	unlock := l.locks.Lock(owner)
	defer unlock()

	now := l.now().UTC()

	tier, err := l.store.GetTier(ctx, tierID)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return 0, errors.NewTierInactiveError(tierID)
		}
		return 0, errors.NewStorageFailedError("get_tier", err)
	}
	if !tier.Active {
		return 0, errors.NewTierInactiveError(tierID)
	}

	current, err := l.currentSubscription(ctx, owner)
	if err != nil {
		return 0, err
	}
	if current != nil && current.IsLive(now) {
		return 0, errors.NewAlreadySubscribedError(owner, current.ID)
	}

	price := tier.Price
	var reward int64
	referrer = strings.TrimSpace(referrer)
	if referrer != "" && referrer != owner {
		price -= bps(price, l.cfg.ReferralDiscountBps)
		reward = bps(price, l.cfg.ReferralRewardBps)
	} else {
		referrer = ""
	}

	if err := l.funds.Transfer(ctx, owner, l.cfg.Treasury, price); err != nil {
		return 0, errors.NewInsufficientFundsError(err)
	}

	// A lapsed subscription stays in the store but can no longer be renewed.
	if current != nil && current.Active {
		current.Active = false
		if err := l.store.UpdateSubscription(ctx, current); err != nil {
			l.logger.Warn("failed to retire lapsed subscription", map[string]interface{}{
				"subscriptionId": current.ID, "error": err.Error(),
			})
		}
	}

	sub := &models.Subscription{
		Owner:      owner,
		TierID:     tier.ID,
		Terms:      tier.Terms(),
		StartTime:  now,
		EndTime:    now.Add(tier.Duration),
		PaidAmount: price,
		Referrer:   referrer,
		Active:     true,
	}
	id, err := l.store.InsertSubscription(ctx, sub, &models.UsageCounter{Owner: owner, CycleStart: now})
	if err != nil {
		l.logger.Error("subscription insert failed after payment", map[string]interface{}{
			"owner": owner, "tierId": tierID, "paid": price, "error": err.Error(),
		})
		return 0, errors.NewStorageFailedError("insert_subscription", err)
	}
	sub.ID = id

	if reward > 0 {
		if err := l.store.AddEarnings(ctx, referrer, reward); err != nil {
			l.logger.Error("failed to credit referral reward", map[string]interface{}{
				"referrer": referrer, "reward": reward, "error": err.Error(),
			})
		}
	}

	metrics.SubscriptionEvents.WithLabelValues(EventPurchase).Inc()
	l.logger.Info("subscription purchased", map[string]interface{}{
		"subscriptionId": id, "owner": owner, "tierId": tierID, "paid": price, "referrer": referrer,
	})
	l.emit(ctx, EventPurchase, sub)
	return id, nil
}

// Renew charges the snapshotted price and extends from max(EndTime, now).
// Usage counters are left untouched.
func (l *Ledger) Renew(ctx context.Context, subscriptionID uint64, caller string) (time.Time, error) {
	sub, err := l.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return time.Time{}, err
	}

	unlock := l.locks.Lock(sub.Owner)
	defer unlock()

	if sub, err = l.loadSubscription(ctx, subscriptionID); err != nil {
		return time.Time{}, err
	}
	if sub.Owner != caller {
		return time.Time{}, errors.NewNotOwnerError(subscriptionID, caller)
	}
	if !sub.Active {
		return time.Time{}, errors.NewSubscriptionInactiveError(subscriptionID)
	}

	tier, err := l.store.GetTier(ctx, sub.TierID)
	if err != nil && !stderrors.Is(err, ErrNotFound) {
		return time.Time{}, errors.NewStorageFailedError("get_tier", err)
	}
	if tier == nil || !tier.Active {
		return time.Time{}, errors.NewTierInactiveError(sub.TierID)
	}

	if err := l.funds.Transfer(ctx, sub.Owner, l.cfg.Treasury, sub.Terms.Price); err != nil {
		return time.Time{}, errors.NewInsufficientFundsError(err)
	}

	now := l.now().UTC()
	base := sub.EndTime
	if now.After(base) {
		base = now
	}
	sub.EndTime = base.Add(sub.Terms.Duration)
	sub.RenewalCount++

	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		l.logger.Error("subscription update failed after renewal payment", map[string]interface{}{
			"subscriptionId": sub.ID, "error": err.Error(),
		})
		return time.Time{}, errors.NewStorageFailedError("update_subscription", err)
	}

	metrics.SubscriptionEvents.WithLabelValues(EventRenew).Inc()
	l.logger.Info("subscription renewed", map[string]interface{}{
		"subscriptionId": sub.ID, "owner": sub.Owner, "endTime": sub.EndTime, "renewals": sub.RenewalCount,
	})
	l.emit(ctx, EventRenew, sub)
	return sub.EndTime, nil
}

// Cancel deactivates the subscription, refunding the unused share first when
// prorated refunds are enabled.
func (l *Ledger) Cancel(ctx context.Context, subscriptionID uint64, caller string) error {
	sub, err := l.loadSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(sub.Owner)
	defer unlock()

	if sub, err = l.loadSubscription(ctx, subscriptionID); err != nil {
		return err
	}
	if sub.Owner != caller {
		return errors.NewNotOwnerError(subscriptionID, caller)
	}
	if !sub.Active {
		return errors.NewSubscriptionInactiveError(subscriptionID)
	}

	var refund int64
	if l.cfg.ProratedRefunds {
		refund = proratedRefund(sub, l.now().UTC())
		if refund > 0 {
			if err := l.funds.Transfer(ctx, l.cfg.Treasury, sub.Owner, refund); err != nil {
				return errors.NewInsufficientFundsError(err)
			}
		}
	}

	sub.Active = false
	if err := l.store.UpdateSubscription(ctx, sub); err != nil {
		return errors.NewStorageFailedError("update_subscription", err)
	}
	if err := l.store.ClearActiveSubscription(ctx, sub.Owner, sub.ID); err != nil {
		return errors.NewStorageFailedError("clear_active_subscription", err)
	}

	metrics.SubscriptionEvents.WithLabelValues(EventCancel).Inc()
	l.logger.Info("subscription cancelled", map[string]interface{}{
		"subscriptionId": sub.ID, "owner": sub.Owner, "refund": refund,
	})
	l.emit(ctx, EventCancel, sub)
	return nil
}

func (l *Ledger) GetSubscription(ctx context.Context, subscriptionID uint64) (*models.Subscription, error) {
	return l.loadSubscription(ctx, subscriptionID)
}

// ActiveSubscription returns the owner's live subscription or NoValidSubscription.
func (l *Ledger) ActiveSubscription(ctx context.Context, owner string) (*models.Subscription, error) {
	sub, err := l.currentSubscription(ctx, owner)
	if err != nil {
		return nil, err
	}
	if !sub.IsLive(l.now().UTC()) {
		return nil, errors.NewNoValidSubscriptionError(owner)
	}
	return sub, nil
}

// ==========================
// Usage
// ==========================

func (l *Ledger) CanQuery(ctx context.Context, owner string) (bool, error) {
	return l.hasCapacity(ctx, owner, func(sub *models.Subscription, u *models.UsageCounter) bool {
		return u.QueriesUsed < sub.Terms.MaxQueries
	})
}

func (l *Ledger) CanAct(ctx context.Context, owner string) (bool, error) {
	return l.hasCapacity(ctx, owner, func(sub *models.Subscription, u *models.UsageCounter) bool {
		return u.ActionsUsed < sub.Terms.MaxActions
	})
}

func (l *Ledger) hasCapacity(ctx context.Context, owner string, check func(*models.Subscription, *models.UsageCounter) bool) (bool, error) {
	unlock := l.locks.Lock(owner)
	defer unlock()

	sub, usage, err := l.liveUsage(ctx, owner)
	if err != nil || sub == nil {
		return false, err
	}
	return check(sub, usage), nil
}

// IncrementUsage re-validates the live subscription and adds the deltas with a
// single conditional store write, so instances sharing the store cannot
// overshoot the tier limits.
func (l *Ledger) IncrementUsage(ctx context.Context, owner string, queryDelta, actionDelta uint64) error {
	unlock := l.locks.Lock(owner)
	defer unlock()

	now := l.now().UTC()
	sub, err := l.currentSubscription(ctx, owner)
	if err != nil {
		return err
	}
	if !sub.IsLive(now) {
		return errors.NewNoValidSubscriptionError(owner)
	}

	initial := models.UsageCounter{Owner: owner, CycleStart: sub.StartTime}
	initial.ResetIfDue(now, l.cfg.Cycle)
	_, err = l.store.AddUsage(ctx, owner, UsageIncrement{
		Queries:    queryDelta,
		Actions:    actionDelta,
		MaxQueries: sub.Terms.MaxQueries,
		MaxActions: sub.Terms.MaxActions,
		CycleStart: initial.CycleStart,
		DueBefore:  now.Add(-l.cfg.Cycle),
		Now:        now,
	})
	if stderrors.Is(err, ErrUsageLimit) {
		return errors.NewNoValidSubscriptionError(owner)
	}
	if err != nil {
		return errors.NewStorageFailedError("add_usage", err)
	}
	return nil
}

// Usage returns the owner's counter after applying any due cycle reset.
func (l *Ledger) Usage(ctx context.Context, owner string) (*models.UsageCounter, error) {
	unlock := l.locks.Lock(owner)
	defer unlock()

	usage, err := l.loadUsage(ctx, owner)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		return &models.UsageCounter{Owner: owner}, nil
	}
	return usage, nil
}

// liveUsage returns (nil, nil, nil) when the owner has no live subscription.
// Callers must hold the owner lock.
func (l *Ledger) liveUsage(ctx context.Context, owner string) (*models.Subscription, *models.UsageCounter, error) {
	sub, err := l.currentSubscription(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	if !sub.IsLive(l.now().UTC()) {
		return nil, nil, nil
	}

	usage, err := l.loadUsage(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	if usage == nil {
		usage = &models.UsageCounter{Owner: owner, CycleStart: sub.StartTime}
		usage.ResetIfDue(l.now().UTC(), l.cfg.Cycle)
	}
	return sub, usage, nil
}

// loadUsage returns the stored counter with any due cycle reset applied to
// the returned copy. Resets are persisted by AddUsage.
func (l *Ledger) loadUsage(ctx context.Context, owner string) (*models.UsageCounter, error) {
	usage, err := l.store.GetUsage(ctx, owner)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.NewStorageFailedError("get_usage", err)
	}
	usage.ResetIfDue(l.now().UTC(), l.cfg.Cycle)
	return usage, nil
}

// ==========================
// Referral earnings
// ==========================

func (l *Ledger) Earnings(ctx context.Context, owner string) (int64, error) {
	bal, err := l.store.GetEarnings(ctx, owner)
	if err != nil {
		return 0, errors.NewStorageFailedError("get_earnings", err)
	}
	return bal, nil
}

// WithdrawEarnings pays out the whole balance; the balance is reduced only
// after the transfer succeeds.
func (l *Ledger) WithdrawEarnings(ctx context.Context, owner string) (int64, error) {
	unlock := l.locks.Lock(owner)
	defer unlock()

	bal, err := l.store.GetEarnings(ctx, owner)
	if err != nil {
		return 0, errors.NewStorageFailedError("get_earnings", err)
	}
	if bal <= 0 {
		return 0, errors.NewNoEarningsError(owner)
	}

	if err := l.funds.Transfer(ctx, l.cfg.Treasury, owner, bal); err != nil {
		return 0, errors.NewInsufficientFundsError(err)
	}
	if err := l.store.SubtractEarnings(ctx, owner, bal); err != nil {
		l.logger.Error("earnings balance not reduced after payout", map[string]interface{}{
			"owner": owner, "amount": bal, "error": err.Error(),
		})
		return 0, errors.NewStorageFailedError("subtract_earnings", err)
	}

	l.logger.Info("referral earnings withdrawn", map[string]interface{}{"owner": owner, "amount": bal})
	return bal, nil
}

// ==========================
// Helpers
// ==========================

func (l *Ledger) loadSubscription(ctx context.Context, id uint64) (*models.Subscription, error) {
	sub, err := l.store.GetSubscription(ctx, id)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, errors.NewSubscriptionNotFoundError(id)
		}
		return nil, errors.NewStorageFailedError("get_subscription", err)
	}
	return sub, nil
}

// currentSubscription follows the owner's active pointer without checking expiry.
func (l *Ledger) currentSubscription(ctx context.Context, owner string) (*models.Subscription, error) {
	id, err := l.store.ActiveSubscriptionID(ctx, owner)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.NewStorageFailedError("active_subscription", err)
	}
	sub, err := l.store.GetSubscription(ctx, id)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, errors.NewStorageFailedError("get_subscription", err)
	}
	return sub, nil
}

func (l *Ledger) emit(ctx context.Context, event string, sub *models.Subscription) {
	for _, sink := range l.events {
		sink.SubscriptionChanged(ctx, event, copySubscription(sub))
	}
}

func bps(amount, rate int64) int64 {
	return amount * rate / bpsDenominator
}

// proratedRefund returns totalPaid * remaining / term over the current term.
func proratedRefund(sub *models.Subscription, now time.Time) int64 {
	remaining := sub.EndTime.Sub(now)
	term := sub.EndTime.Sub(sub.StartTime)
	if remaining <= 0 || term <= 0 {
		return 0
	}
	if remaining > term {
		remaining = term
	}

	termSec := int64(term / time.Second)
	if termSec == 0 {
		return 0
	}

	paid := big.NewInt(sub.PaidAmount)
	paid.Add(paid, new(big.Int).Mul(big.NewInt(int64(sub.RenewalCount)), big.NewInt(sub.Terms.Price)))

	refund := new(big.Int).Mul(paid, big.NewInt(int64(remaining/time.Second)))
	refund.Quo(refund, big.NewInt(termSec))
	return refund.Int64()
}
