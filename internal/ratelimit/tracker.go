// internal/ratelimit/tracker.go
package ratelimit

import (
	"context"
	stderrors "errors"
	"sync"
	"time"
)

var (
	// ErrCooldown and ErrDailyCap are returned by Tracker.Record when the
	// conditional update is refused.
	ErrCooldown = stderrors.New("ratelimit: cooldown active")
	ErrDailyCap = stderrors.New("ratelimit: daily cap reached")
)

// Usage is the tracked state of one owner for one UTC day.
type Usage struct {
	LastAction time.Time
	DayCount   int64
}

// Tracker persists last-action times and per-day counters.
type Tracker interface {
	Get(ctx context.Context, owner string, day int64) (Usage, error)
	// Record re-checks cooldown and cap and, when both pass, stores now as the
	// last action time and increments the day counter. Returns the new count.
	Record(ctx context.Context, owner string, now time.Time, day int64, cooldown time.Duration, limit int64) (int64, error)
	// Undo reverts one Record: decrements the day counter and restores prev
	// as the last action time (zero clears it).
	Undo(ctx context.Context, owner string, day int64, prev time.Time) error
}

// DayIndex is the UTC day number of t.
func DayIndex(t time.Time) int64 {
	return t.UTC().Unix() / int64(24*time.Hour/time.Second)
}

type ownerState struct {
	last  time.Time
	day   int64
	count int64
}

type MemoryTracker struct {
	mu     sync.Mutex
	owners map[string]*ownerState
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{owners: make(map[string]*ownerState)}
}

func (m *MemoryTracker) Get(_ context.Context, owner string, day int64) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owners[owner]
	if !ok {
		return Usage{}, nil
	}
	u := Usage{LastAction: st.last}
	if st.day == day {
		u.DayCount = st.count
	}
	return u, nil
}

func (m *MemoryTracker) Record(_ context.Context, owner string, now time.Time, day int64, cooldown time.Duration, limit int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owners[owner]
	if !ok {
		st = &ownerState{}
		m.owners[owner] = st
	}
	if !st.last.IsZero() && now.Sub(st.last) < cooldown {
		return 0, ErrCooldown
	}
	if st.day != day {
		st.day, st.count = day, 0
	}
	if st.count >= limit {
		return 0, ErrDailyCap
	}
	st.last = now
	st.count++
	return st.count, nil
}

func (m *MemoryTracker) Undo(_ context.Context, owner string, day int64, prev time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.owners[owner]
	if !ok {
		return nil
	}
	if st.day == day && st.count > 0 {
		st.count--
	}
	st.last = prev
	return nil
}
