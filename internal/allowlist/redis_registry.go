// internal/allowlist/redis_registry.go
package allowlist

import (
	"context"
	"fmt"
	"sort"

	"action-engine/internal/common/errors"
	"action-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry keeps one set per protocol type at <prefix>:allowlist:<protocol>.
type RedisRegistry struct {
	client redis.Cmdable
	prefix string
}

func NewRedisRegistry(client redis.Cmdable, prefix string) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) key(protocol models.ProtocolType) string {
	if r.prefix == "" {
		return "allowlist:" + string(protocol)
	}
	return r.prefix + ":allowlist:" + string(protocol)
}

func (r *RedisRegistry) SetSupport(ctx context.Context, address string, protocol models.ProtocolType, supported bool) error {
	addr := models.NormalizeAddress(address)
	if addr == "" {
		return errors.NewInvalidRequestError("address is required")
	}
	var err error
	if supported {
		err = r.client.SAdd(ctx, r.key(protocol), addr).Err()
	} else {
		err = r.client.SRem(ctx, r.key(protocol), addr).Err()
	}
	if err != nil {
		return fmt.Errorf("allowlist set %s/%s: %w", protocol, addr, err)
	}
	return nil
}

func (r *RedisRegistry) IsSupported(ctx context.Context, address string, protocol models.ProtocolType) (bool, error) {
	addr := models.NormalizeAddress(address)
	if addr == "" {
		return false, nil
	}
	ok, err := r.client.SIsMember(ctx, r.key(protocol), addr).Result()
	if err != nil {
		return false, fmt.Errorf("allowlist lookup %s/%s: %w", protocol, addr, err)
	}
	return ok, nil
}

func (r *RedisRegistry) ListSupported(ctx context.Context, protocol models.ProtocolType) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.key(protocol)).Result()
	if err != nil {
		return nil, fmt.Errorf("allowlist list %s: %w", protocol, err)
	}
	sort.Strings(members)
	return members, nil
}
