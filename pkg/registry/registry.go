// pkg/registry/registry.go
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"action-engine/internal/allowlist"
	"action-engine/internal/common/validation"
	"action-engine/internal/models"
)

const schemaName = "seed"

var schemas = func() *validation.Registry {
	r := validation.NewRegistry()
	r.MustRegister(schemaName, seedSchema)
	return r
}()

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

func ParseSeed(data []byte) (*Seed, error) {
	res, err := schemas.ValidateJSON(schemaName, data)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, fmt.Errorf("invalid seed: %s", res.Summary())
	}

	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, err
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks the rules the JSON schema cannot express.
func (s *Seed) Validate() error {
	names := make(map[string]bool, len(s.Tiers))
	for _, t := range s.Tiers {
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if names[key] {
			return fmt.Errorf("duplicate tier %q", t.Name)
		}
		names[key] = true
	}
	for _, name := range s.DisabledActionTypes {
		if _, ok := models.ParseActionType(name); !ok {
			return fmt.Errorf("unknown action type %q", name)
		}
	}
	for _, e := range s.AllowList {
		if _, ok := models.ParseProtocolType(e.Protocol); !ok {
			return fmt.Errorf("unknown protocol %q", e.Protocol)
		}
	}
	return nil
}

func SaveSeed(seed *Seed, path string) error {
	if err := seed.Validate(); err != nil {
		return err
	}
	seed.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// AddTier appends a tier, rejecting duplicate names.
func (s *Seed) AddTier(t TierSeed) error {
	for _, existing := range s.Tiers {
		if strings.EqualFold(existing.Name, t.Name) {
			return fmt.Errorf("tier %q already exists", t.Name)
		}
	}
	s.Tiers = append(s.Tiers, t)
	return nil
}

// Allow adds address to the protocol's entry.
func (s *Seed) Allow(protocol, address string) error {
	p, ok := models.ParseProtocolType(protocol)
	if !ok {
		return fmt.Errorf("unknown protocol %q", protocol)
	}
	addr := models.NormalizeAddress(address)
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	for i := range s.AllowList {
		if s.AllowList[i].Protocol != string(p) {
			continue
		}
		for _, a := range s.AllowList[i].Addresses {
			if models.NormalizeAddress(a) == addr {
				return nil
			}
		}
		s.AllowList[i].Addresses = append(s.AllowList[i].Addresses, addr)
		return nil
	}
	s.AllowList = append(s.AllowList, AllowListEntry{Protocol: string(p), Addresses: []string{addr}})
	return nil
}

type TierAdmin interface {
	CreateTier(ctx context.Context, name string, price int64, duration time.Duration, maxQueries, maxActions uint64, features []string) (uint64, error)
	SetTierActive(ctx context.Context, tierID uint64, active bool) error
	ListTiers(ctx context.Context, activeOnly bool) ([]*models.SubscriptionTier, error)
}

type EngineAdmin interface {
	SetActionTypeEnabled(ctx context.Context, actionType string, enabled bool) error
	SetDailyLimit(ctx context.Context, tier string, limit int64) error
}

// ApplyResult counts what Apply changed.
type ApplyResult struct {
	TiersCreated     int
	TiersSkipped     int
	AddressesAllowed int
}

// Apply pushes the seed through the admin operations. Tiers that already
// exist by name are left alone, so Apply is safe to run on every start.
func Apply(ctx context.Context, seed *Seed, tiers TierAdmin, reg allowlist.Registry, engine EngineAdmin) (*ApplyResult, error) {
	res := &ApplyResult{}

	existing, err := tiers.ListTiers(ctx, false)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[strings.ToLower(t.Name)] = true
	}

	for _, t := range seed.Tiers {
		if known[strings.ToLower(t.Name)] {
			res.TiersSkipped++
			continue
		}
		id, err := tiers.CreateTier(ctx, t.Name, t.Price, time.Duration(t.DurationDays)*24*time.Hour,
			t.MaxQueries, t.MaxActions, t.Features)
		if err != nil {
			return nil, fmt.Errorf("create tier %s: %w", t.Name, err)
		}
		if t.Inactive {
			if err := tiers.SetTierActive(ctx, id, false); err != nil {
				return nil, fmt.Errorf("deactivate tier %s: %w", t.Name, err)
			}
		}
		res.TiersCreated++
	}

	for _, e := range seed.AllowList {
		protocol, _ := models.ParseProtocolType(e.Protocol)
		for _, addr := range e.Addresses {
			if err := reg.SetSupport(ctx, addr, protocol, true); err != nil {
				return nil, fmt.Errorf("allow %s/%s: %w", e.Protocol, addr, err)
			}
			res.AddressesAllowed++
		}
	}

	for tier, limit := range seed.DailyLimits {
		if err := engine.SetDailyLimit(ctx, tier, limit); err != nil {
			return nil, fmt.Errorf("daily limit %s: %w", tier, err)
		}
	}
	for _, name := range seed.DisabledActionTypes {
		if err := engine.SetActionTypeEnabled(ctx, name, false); err != nil {
			return nil, fmt.Errorf("disable %s: %w", name, err)
		}
	}
	return res, nil
}
