// internal/actions/store.go
package actions

import (
	"context"
	"errors"
	"sort"
	"sync"

	"action-engine/internal/models"
)

var ErrNotFound = errors.New("actions: record not found")

// Store persists action records. Transition is a compare-and-swap: the update
// is applied only while the stored status is one of from.
type Store interface {
	Create(ctx context.Context, action *models.Action) (uint64, error)
	Get(ctx context.Context, id uint64) (*models.Action, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.Action, error)
	// Transition returns the stored record and whether the swap happened.
	// When it did not, the returned record is the current one.
	Transition(ctx context.Context, id uint64, from []models.ActionStatus, update models.StatusUpdate) (*models.Action, bool, error)
}

type MemoryStore struct {
	mu      sync.Mutex
	nextID  uint64
	actions map[uint64]*models.Action
	byOwner map[string][]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		actions: make(map[uint64]*models.Action),
		byOwner: make(map[string][]uint64),
	}
}

func (s *MemoryStore) Create(_ context.Context, action *models.Action) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c := action.Clone()
	c.ID = s.nextID
	s.actions[c.ID] = c
	s.byOwner[c.Owner] = append(s.byOwner[c.Owner], c.ID)
	return c.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id uint64) (*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner string) ([]*models.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byOwner[owner]
	out := make([]*models.Action, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.actions[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Transition(_ context.Context, id uint64, from []models.ActionStatus, update models.StatusUpdate) (*models.Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !statusIn(a.Status, from) {
		return a.Clone(), false, nil
	}
	update.Apply(a)
	return a.Clone(), true, nil
}

func statusIn(s models.ActionStatus, set []models.ActionStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
