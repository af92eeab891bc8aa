// internal/actions/policy.go
package actions

import (
	"context"
	"fmt"
	"sync"

	"action-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// Policy holds the operator switches consulted at admission. Engines that
// share a Policy backend see each other's changes on the next admission.
type Policy interface {
	SetEnabled(ctx context.Context, t models.ActionType, enabled bool) error
	SetEmergencyStop(ctx context.Context, active bool) error
	EmergencyStop(ctx context.Context) (bool, error)
	Disabled(ctx context.Context, t models.ActionType) (bool, error)
	// DisabledTypes lists disabled types in declaration order.
	DisabledTypes(ctx context.Context) ([]models.ActionType, error)
}

// policyAllows reports whether new actions of type t may be admitted.
func policyAllows(ctx context.Context, p Policy, t models.ActionType) (bool, error) {
	stop, err := p.EmergencyStop(ctx)
	if err != nil || stop {
		return false, err
	}
	disabled, err := p.Disabled(ctx, t)
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

type MemoryPolicy struct {
	mu            sync.RWMutex
	disabled      map[models.ActionType]bool
	emergencyStop bool
}

func NewMemoryPolicy() *MemoryPolicy {
	return &MemoryPolicy{disabled: make(map[models.ActionType]bool)}
}

func (p *MemoryPolicy) SetEnabled(_ context.Context, t models.ActionType, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled {
		delete(p.disabled, t)
	} else {
		p.disabled[t] = true
	}
	return nil
}

func (p *MemoryPolicy) SetEmergencyStop(_ context.Context, active bool) error {
	p.mu.Lock()
	p.emergencyStop = active
	p.mu.Unlock()
	return nil
}

func (p *MemoryPolicy) EmergencyStop(context.Context) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.emergencyStop, nil
}

func (p *MemoryPolicy) Disabled(_ context.Context, t models.ActionType) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.disabled[t], nil
}

func (p *MemoryPolicy) DisabledTypes(context.Context) ([]models.ActionType, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []models.ActionType
	for _, t := range models.AllActionTypes {
		if p.disabled[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// RedisPolicy keeps the emergency flag at <prefix>:policy:emergency and the
// disabled types in the set <prefix>:policy:disabled.
type RedisPolicy struct {
	client redis.Cmdable
	prefix string
}

func NewRedisPolicy(client redis.Cmdable, prefix string) *RedisPolicy {
	return &RedisPolicy{client: client, prefix: prefix}
}

func (r *RedisPolicy) key(name string) string {
	if r.prefix == "" {
		return "policy:" + name
	}
	return r.prefix + ":policy:" + name
}

func (r *RedisPolicy) SetEnabled(ctx context.Context, t models.ActionType, enabled bool) error {
	var err error
	if enabled {
		err = r.client.SRem(ctx, r.key("disabled"), string(t)).Err()
	} else {
		err = r.client.SAdd(ctx, r.key("disabled"), string(t)).Err()
	}
	if err != nil {
		return fmt.Errorf("policy set %s: %w", t, err)
	}
	return nil
}

func (r *RedisPolicy) SetEmergencyStop(ctx context.Context, active bool) error {
	var err error
	if active {
		err = r.client.Set(ctx, r.key("emergency"), "1", 0).Err()
	} else {
		err = r.client.Del(ctx, r.key("emergency")).Err()
	}
	if err != nil {
		return fmt.Errorf("policy emergency stop: %w", err)
	}
	return nil
}

func (r *RedisPolicy) EmergencyStop(ctx context.Context) (bool, error) {
	n, err := r.client.Exists(ctx, r.key("emergency")).Result()
	if err != nil {
		return false, fmt.Errorf("policy emergency lookup: %w", err)
	}
	return n > 0, nil
}

func (r *RedisPolicy) Disabled(ctx context.Context, t models.ActionType) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key("disabled"), string(t)).Result()
	if err != nil {
		return false, fmt.Errorf("policy lookup %s: %w", t, err)
	}
	return ok, nil
}

func (r *RedisPolicy) DisabledTypes(ctx context.Context) ([]models.ActionType, error) {
	members, err := r.client.SMembers(ctx, r.key("disabled")).Result()
	if err != nil {
		return nil, fmt.Errorf("policy list: %w", err)
	}
	set := make(map[string]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	var out []models.ActionType
	for _, t := range models.AllActionTypes {
		if set[string(t)] {
			out = append(out, t)
		}
	}
	return out, nil
}

// authorizer answers who may request on behalf of an owner and who may
// operate on any action.
type authorizer struct {
	sources   map[string]bool
	operators map[string]bool
}

func newAuthorizer(sources, operators []string) *authorizer {
	a := &authorizer{sources: make(map[string]bool), operators: make(map[string]bool)}
	for _, s := range sources {
		a.sources[s] = true
	}
	for _, o := range operators {
		a.operators[o] = true
	}
	return a
}

func (a *authorizer) canRequest(caller, owner string) bool {
	return caller != "" && (caller == owner || a.sources[caller])
}

func (a *authorizer) canOperate(caller, owner string) bool {
	return caller != "" && (caller == owner || a.operators[caller])
}
