// internal/allowlist/registry.go
package allowlist

import (
	"context"
	"sort"
	"sync"

	"action-engine/internal/common/errors"
	"action-engine/internal/models"
)

// Registry answers whether an address is supported under a protocol namespace.
// Addresses are normalized with models.NormalizeAddress by every implementation.
type Registry interface {
	SetSupport(ctx context.Context, address string, protocol models.ProtocolType, supported bool) error
	IsSupported(ctx context.Context, address string, protocol models.ProtocolType) (bool, error)
	ListSupported(ctx context.Context, protocol models.ProtocolType) ([]string, error)
}

type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[models.ProtocolType]map[string]struct{}
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[models.ProtocolType]map[string]struct{})}
}

func (r *MemoryRegistry) SetSupport(_ context.Context, address string, protocol models.ProtocolType, supported bool) error {
	addr := models.NormalizeAddress(address)
	if addr == "" {
		return errors.NewInvalidRequestError("address is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.entries[protocol]
	if !ok {
		if !supported {
			return nil
		}
		set = make(map[string]struct{})
		r.entries[protocol] = set
	}
	if supported {
		set[addr] = struct{}{}
	} else {
		delete(set, addr)
	}
	return nil
}

func (r *MemoryRegistry) IsSupported(_ context.Context, address string, protocol models.ProtocolType) (bool, error) {
	addr := models.NormalizeAddress(address)
	if addr == "" {
		return false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[protocol][addr]
	return ok, nil
}

func (r *MemoryRegistry) ListSupported(_ context.Context, protocol models.ProtocolType) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries[protocol]))
	for addr := range r.entries[protocol] {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}
