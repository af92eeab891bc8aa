// internal/ledger/memory_store.go
package ledger

import (
	"context"
	"sort"
	"sync"

	"action-engine/internal/models"
)

// MemoryStore keeps ledger state in maps guarded by one RWMutex.
type MemoryStore struct {
	mu            sync.RWMutex
	nextTierID    uint64
	nextSubID     uint64
	tiers         map[uint64]*models.SubscriptionTier
	subscriptions map[uint64]*models.Subscription
	active        map[string]uint64
	usage         map[string]*models.UsageCounter
	earnings      map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tiers:         make(map[uint64]*models.SubscriptionTier),
		subscriptions: make(map[uint64]*models.Subscription),
		active:        make(map[string]uint64),
		usage:         make(map[string]*models.UsageCounter),
		earnings:      make(map[string]int64),
	}
}

func (s *MemoryStore) CreateTier(_ context.Context, tier *models.SubscriptionTier) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTierID++
	c := *tier
	c.ID = s.nextTierID
	c.Features = append([]string(nil), tier.Features...)
	s.tiers[c.ID] = &c
	return c.ID, nil
}

func (s *MemoryStore) GetTier(_ context.Context, id uint64) (*models.SubscriptionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tiers[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	c.Features = append([]string(nil), t.Features...)
	return &c, nil
}

func (s *MemoryStore) ListTiers(_ context.Context) ([]*models.SubscriptionTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SubscriptionTier, 0, len(s.tiers))
	for _, t := range s.tiers {
		c := *t
		c.Features = append([]string(nil), t.Features...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetTierActive(_ context.Context, id uint64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tiers[id]
	if !ok {
		return ErrNotFound
	}
	t.Active = active
	return nil
}

func (s *MemoryStore) InsertSubscription(_ context.Context, sub *models.Subscription, usage *models.UsageCounter) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	c := copySubscription(sub)
	c.ID = s.nextSubID
	s.subscriptions[c.ID] = c
	s.active[c.Owner] = c.ID
	u := *usage
	s.usage[u.Owner] = &u
	return c.ID, nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, id uint64) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copySubscription(sub), nil
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return ErrNotFound
	}
	s.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

func (s *MemoryStore) ActiveSubscriptionID(_ context.Context, owner string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[owner]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) ClearActiveSubscription(_ context.Context, owner string, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.active[owner]; ok && cur == id {
		delete(s.active, owner)
	}
	return nil
}

func (s *MemoryStore) GetUsage(_ context.Context, owner string) (*models.UsageCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usage[owner]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s *MemoryStore) AddUsage(_ context.Context, owner string, inc UsageIncrement) (*models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := models.UsageCounter{Owner: owner, CycleStart: inc.CycleStart}
	if cur, ok := s.usage[owner]; ok {
		u = *cur
	}
	if err := inc.apply(&u); err != nil {
		return nil, err
	}
	s.usage[owner] = &u
	c := u
	return &c, nil
}

func (s *MemoryStore) AddEarnings(_ context.Context, owner string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earnings[owner] += amount
	return nil
}

func (s *MemoryStore) SubtractEarnings(_ context.Context, owner string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.earnings[owner] -= amount
	return nil
}

func (s *MemoryStore) GetEarnings(_ context.Context, owner string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.earnings[owner], nil
}

func copySubscription(sub *models.Subscription) *models.Subscription {
	c := *sub
	c.Terms.Features = append([]string(nil), sub.Terms.Features...)
	return &c
}
