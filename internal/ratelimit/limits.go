// internal/ratelimit/limits.go
package ratelimit

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// LimitTable stores the daily caps set by operators at runtime. Tier names
// arrive lower-cased.
type LimitTable interface {
	Get(ctx context.Context, tier string) (int64, bool, error)
	Set(ctx context.Context, tier string, limit int64) error
	All(ctx context.Context) (map[string]int64, error)
}

type MemoryLimits struct {
	mu     sync.RWMutex
	limits map[string]int64
}

func NewMemoryLimits() *MemoryLimits {
	return &MemoryLimits{limits: make(map[string]int64)}
}

func (m *MemoryLimits) Get(_ context.Context, tier string) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.limits[tier]
	return v, ok, nil
}

func (m *MemoryLimits) Set(_ context.Context, tier string, limit int64) error {
	m.mu.Lock()
	m.limits[tier] = limit
	m.mu.Unlock()
	return nil
}

func (m *MemoryLimits) All(context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.limits))
	for k, v := range m.limits {
		out[k] = v
	}
	return out, nil
}

// RedisLimits keeps the table in the hash <prefix>:ratelimit:limits.
type RedisLimits struct {
	client redis.Cmdable
	key    string
}

func NewRedisLimits(client redis.Cmdable, prefix string) *RedisLimits {
	key := "ratelimit:limits"
	if prefix != "" {
		key = prefix + ":" + key
	}
	return &RedisLimits{client: client, key: key}
}

func (r *RedisLimits) Get(ctx context.Context, tier string) (int64, bool, error) {
	v, err := r.client.HGet(ctx, r.key, tier).Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("daily limit %s: %w", tier, err)
	}
	return v, true, nil
}

func (r *RedisLimits) Set(ctx context.Context, tier string, limit int64) error {
	if err := r.client.HSet(ctx, r.key, tier, limit).Err(); err != nil {
		return fmt.Errorf("set daily limit %s: %w", tier, err)
	}
	return nil
}

func (r *RedisLimits) All(ctx context.Context) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("daily limits: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("daily limit %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
