// internal/models/subscription.go
package models

import "time"

// SubscriptionTier is a purchasable plan. Only Active may change after creation.
type SubscriptionTier struct {
	ID         uint64        `json:"id"`
	Name       string        `json:"name"`
	Price      int64         `json:"price"`
	Duration   time.Duration `json:"duration"`
	MaxQueries uint64        `json:"maxQueries"`
	MaxActions uint64        `json:"maxActions"`
	Features   []string      `json:"features,omitempty"`
	Active     bool          `json:"active"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Terms snapshots the tier at purchase time.
func (t *SubscriptionTier) Terms() TierTerms {
	return TierTerms{
		Name:       t.Name,
		Price:      t.Price,
		Duration:   t.Duration,
		MaxQueries: t.MaxQueries,
		MaxActions: t.MaxActions,
		Features:   append([]string(nil), t.Features...),
	}
}

// TierTerms are the limits a subscription was sold under.
type TierTerms struct {
	Name       string        `json:"name"`
	Price      int64         `json:"price"`
	Duration   time.Duration `json:"duration"`
	MaxQueries uint64        `json:"maxQueries"`
	MaxActions uint64        `json:"maxActions"`
	Features   []string      `json:"features,omitempty"`
}

type Subscription struct {
	ID           uint64    `json:"id"`
	Owner        string    `json:"owner"`
	TierID       uint64    `json:"tierId"`
	Terms        TierTerms `json:"terms"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
	PaidAmount   int64     `json:"paidAmount"`
	Referrer     string    `json:"referrer,omitempty"`
	Active       bool      `json:"active"`
	RenewalCount uint32    `json:"renewalCount"`
}

// IsLive reports whether the subscription grants access at now.
func (s *Subscription) IsLive(now time.Time) bool {
	return s != nil && s.Active && !now.After(s.EndTime)
}

type UsageCounter struct {
	Owner       string    `json:"owner"`
	QueriesUsed uint64    `json:"queriesUsed"`
	ActionsUsed uint64    `json:"actionsUsed"`
	CycleStart  time.Time `json:"cycleStart"`
}

// ResetIfDue zeroes the counter when now has reached CycleStart+cycle.
// It reports whether a reset happened.
func (u *UsageCounter) ResetIfDue(now time.Time, cycle time.Duration) bool {
	if now.Before(u.CycleStart.Add(cycle)) {
		return false
	}
	u.QueriesUsed = 0
	u.ActionsUsed = 0
	u.CycleStart = now
	return true
}
