// internal/common/keylock/keylock.go
package keylock

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Locker is a fixed set of mutexes selected by key hash. Two keys may share a
// shard; a key always maps to the same shard.
type Locker struct {
	shards []sync.Mutex
}

func New(shards int) *Locker {
	if shards <= 0 {
		shards = 64
	}
	return &Locker{shards: make([]sync.Mutex, shards)}
}

func (l *Locker) shard(key string) *sync.Mutex {
	return &l.shards[xxhash.Sum64String(key)%uint64(len(l.shards))]
}

// Lock acquires the shard for key and returns its unlock func.
func (l *Locker) Lock(key string) func() {
	m := l.shard(key)
	m.Lock()
	return m.Unlock
}

// With runs fn while holding the shard for key.
func (l *Locker) With(key string, fn func() error) error {
	unlock := l.Lock(key)
	defer unlock()
	return fn()
}
