// internal/ledger/store.go
package ledger

import (
	"context"
	"errors"
	"time"

	"action-engine/internal/models"
)

var (
	// ErrNotFound is returned by stores for missing tiers, subscriptions and counters.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrUsageLimit is returned by AddUsage when the deltas would pass a limit.
	ErrUsageLimit = errors.New("ledger: usage limit reached")
)

// UsageIncrement is one conditional counter update. A stored counter whose
// cycle started at or before DueBefore is reset to zero with CycleStart=Now
// before the deltas are added. A missing counter is created at CycleStart.
type UsageIncrement struct {
	Queries    uint64
	Actions    uint64
	MaxQueries uint64
	MaxActions uint64
	CycleStart time.Time
	DueBefore  time.Time
	Now        time.Time
}

// apply runs the increment against u in place.
func (inc UsageIncrement) apply(u *models.UsageCounter) error {
	if !u.CycleStart.After(inc.DueBefore) {
		u.QueriesUsed, u.ActionsUsed, u.CycleStart = 0, 0, inc.Now
	}
	if u.QueriesUsed+inc.Queries > inc.MaxQueries || u.ActionsUsed+inc.Actions > inc.MaxActions {
		return ErrUsageLimit
	}
	u.QueriesUsed += inc.Queries
	u.ActionsUsed += inc.Actions
	return nil
}

// Store persists ledger state. Every method is individually atomic; the
// Ledger serializes per-owner sequences within one process with its own locks.
type Store interface {
	CreateTier(ctx context.Context, tier *models.SubscriptionTier) (uint64, error)
	GetTier(ctx context.Context, id uint64) (*models.SubscriptionTier, error)
	ListTiers(ctx context.Context) ([]*models.SubscriptionTier, error)
	SetTierActive(ctx context.Context, id uint64, active bool) error

	// InsertSubscription stores sub, points the owner's active pointer at it
	// and replaces the owner's usage counter, all in one step.
	InsertSubscription(ctx context.Context, sub *models.Subscription, usage *models.UsageCounter) (uint64, error)
	GetSubscription(ctx context.Context, id uint64) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	ActiveSubscriptionID(ctx context.Context, owner string) (uint64, error)
	// ClearActiveSubscription removes the pointer only while it still points at id.
	ClearActiveSubscription(ctx context.Context, owner string, id uint64) error

	GetUsage(ctx context.Context, owner string) (*models.UsageCounter, error)
	// AddUsage applies inc as one atomic check-and-write, so concurrent
	// writers sharing the store can never push a counter past its limits.
	AddUsage(ctx context.Context, owner string, inc UsageIncrement) (*models.UsageCounter, error)

	AddEarnings(ctx context.Context, owner string, amount int64) error
	SubtractEarnings(ctx context.Context, owner string, amount int64) error
	GetEarnings(ctx context.Context, owner string) (int64, error)
}

// FundsTransfer moves value between accounts in the smallest currency unit.
type FundsTransfer interface {
	Transfer(ctx context.Context, from, to string, amount int64) error
}
