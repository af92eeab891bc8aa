// internal/ratelimit/limiter.go
package ratelimit

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"action-engine/internal/common/errors"
)

const FreeTier = "free"

// DefaultDailyLimits is the per-tier daily action cap. Tier names are matched
// case-insensitively; tiers not listed use the Free cap.
var DefaultDailyLimits = map[string]int64{
	"free":       5,
	"basic":      20,
	"pro":        100,
	"enterprise": 1000,
}

// Status is the rate-limit view of one owner.
type Status struct {
	LastActionAt      time.Time
	DayCount          int64
	DailyCap          int64
	CooldownRemaining time.Duration
}

// Reservation is a recorded admission that can be rolled back.
type Reservation struct {
	owner string
	day   int64
	prev  time.Time
}

// Limiter combines the cooldown and tier-derived daily caps over a Tracker.
// Caps set at runtime live in a LimitTable and take precedence over the
// configured ones.
type Limiter struct {
	tracker  Tracker
	cooldown time.Duration
	base     map[string]int64
	table    LimitTable
}

type Option func(*Limiter)

// WithLimitTable shares runtime caps through t.
func WithLimitTable(t LimitTable) Option {
	return func(l *Limiter) { l.table = t }
}

func New(tracker Tracker, cooldown time.Duration, overrides map[string]int64, opts ...Option) *Limiter {
	base := make(map[string]int64, len(DefaultDailyLimits)+len(overrides))
	for k, v := range DefaultDailyLimits {
		base[k] = v
	}
	for k, v := range overrides {
		base[strings.ToLower(k)] = v
	}
	l := &Limiter{tracker: tracker, cooldown: cooldown, base: base, table: NewMemoryLimits()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Cooldown() time.Duration { return l.cooldown }

// DailyCap resolves the cap for tier, falling back to the Free cap.
func (l *Limiter) DailyCap(ctx context.Context, tier string) (int64, error) {
	name := strings.ToLower(strings.TrimSpace(tier))
	if v, ok, err := l.lookup(ctx, name); err != nil || ok {
		return v, err
	}
	v, _, err := l.lookup(ctx, FreeTier)
	return v, err
}

func (l *Limiter) lookup(ctx context.Context, name string) (int64, bool, error) {
	v, ok, err := l.table.Get(ctx, name)
	if err != nil {
		return 0, false, errors.NewStorageFailedError("ratelimit limits", err)
	}
	if ok {
		return v, true, nil
	}
	v, ok = l.base[name]
	return v, ok, nil
}

func (l *Limiter) SetDailyLimit(ctx context.Context, tier string, limit int64) error {
	name := strings.ToLower(strings.TrimSpace(tier))
	if name == "" {
		return errors.NewInvalidRequestError("tier name is required")
	}
	if limit < 0 {
		return errors.NewInvalidRequestError("daily limit must not be negative")
	}
	if err := l.table.Set(ctx, name, limit); err != nil {
		return errors.NewStorageFailedError("ratelimit limits", err)
	}
	return nil
}

// DailyLimits returns the effective cap table.
func (l *Limiter) DailyLimits(ctx context.Context) (map[string]int64, error) {
	set, err := l.table.All(ctx)
	if err != nil {
		return nil, errors.NewStorageFailedError("ratelimit limits", err)
	}
	out := make(map[string]int64, len(l.base)+len(set))
	for k, v := range l.base {
		out[k] = v
	}
	for k, v := range set {
		out[k] = v
	}
	return out, nil
}

// Check evaluates the cooldown first and then the daily cap without
// recording anything.
func (l *Limiter) Check(ctx context.Context, owner, tier string, now time.Time) error {
	st, err := l.Status(ctx, owner, tier, now)
	if err != nil {
		return err
	}
	if st.CooldownRemaining > 0 {
		return errors.NewCooldownActiveError(owner, st.CooldownRemaining)
	}
	if st.DayCount >= st.DailyCap {
		return errors.NewDailyLimitExceededError(owner, st.DailyCap)
	}
	return nil
}

// Reserve records an admission. The tracker re-checks both limits atomically,
// so a concurrent admission elsewhere surfaces as the matching error.
func (l *Limiter) Reserve(ctx context.Context, owner, tier string, now time.Time) (*Reservation, error) {
	day := DayIndex(now)
	prev, err := l.tracker.Get(ctx, owner, day)
	if err != nil {
		return nil, errors.NewStorageFailedError("ratelimit get", err)
	}

	limit, err := l.DailyCap(ctx, tier)
	if err != nil {
		return nil, err
	}
	if _, err := l.tracker.Record(ctx, owner, now, day, l.cooldown, limit); err != nil {
		switch {
		case stderrors.Is(err, ErrCooldown):
			remaining := l.cooldown - now.Sub(prev.LastAction)
			if prev.LastAction.IsZero() || remaining <= 0 {
				remaining = l.cooldown
			}
			return nil, errors.NewCooldownActiveError(owner, remaining)
		case stderrors.Is(err, ErrDailyCap):
			return nil, errors.NewDailyLimitExceededError(owner, limit)
		}
		return nil, errors.NewStorageFailedError("ratelimit record", err)
	}
	return &Reservation{owner: owner, day: day, prev: prev.LastAction}, nil
}

// Release rolls a reservation back.
func (l *Limiter) Release(ctx context.Context, r *Reservation) error {
	if r == nil {
		return nil
	}
	if err := l.tracker.Undo(ctx, r.owner, r.day, r.prev); err != nil {
		return errors.NewStorageFailedError("ratelimit undo", err)
	}
	return nil
}

func (l *Limiter) Status(ctx context.Context, owner, tier string, now time.Time) (*Status, error) {
	u, err := l.tracker.Get(ctx, owner, DayIndex(now))
	if err != nil {
		return nil, errors.NewStorageFailedError("ratelimit get", err)
	}
	dailyCap, err := l.DailyCap(ctx, tier)
	if err != nil {
		return nil, err
	}
	st := &Status{
		LastActionAt: u.LastAction,
		DayCount:     u.DayCount,
		DailyCap:     dailyCap,
	}
	if !u.LastAction.IsZero() {
		if remaining := l.cooldown - now.Sub(u.LastAction); remaining > 0 {
			st.CooldownRemaining = remaining
		}
	}
	return st, nil
}
