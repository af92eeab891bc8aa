package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"action-engine/internal/allowlist"
	"action-engine/internal/common/logger"
	"action-engine/internal/ledger"
	"action-engine/internal/models"
	"action-engine/internal/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSeed = `{
  "version": "1",
  "tiers": [
    {"name": "Basic", "price": 100, "durationDays": 30, "maxQueries": 100, "maxActions": 10},
    {"name": "Legacy", "price": 50, "durationDays": 30, "maxQueries": 10, "maxActions": 1, "inactive": true}
  ],
  "allowList": [
    {"protocol": "staking", "addresses": ["0xPool"]},
    {"protocol": "dex", "addresses": ["0xRouter", "0xToken"]}
  ],
  "dailyLimits": {"pro": 150},
  "disabledActionTypes": ["Custom"]
}`

type fakeEngine struct {
	limits   map[string]int64
	disabled []string
}

func (f *fakeEngine) SetActionTypeEnabled(_ context.Context, actionType string, enabled bool) error {
	if !enabled {
		f.disabled = append(f.disabled, actionType)
	}
	return nil
}

func (f *fakeEngine) SetDailyLimit(_ context.Context, tier string, limit int64) error {
	f.limits[tier] = limit
	return nil
}

func TestParseSeed(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"valid", validSeed, ""},
		{"missing tiers", `{"version": "1"}`, "tiers"},
		{"zero price", `{"version": "1", "tiers": [{"name": "Free", "price": 0, "durationDays": 30}]}`, "price"},
		{"unknown protocol", `{"version": "1", "tiers": [], "allowList": [{"protocol": "bridge", "addresses": ["0x1"]}]}`, "protocol"},
		{"unknown field", `{"version": "1", "tiers": [], "owner": "x"}`, "owner"},
		{"duplicate tier", `{"version": "1", "tiers": [
			{"name": "Pro", "price": 1, "durationDays": 1},
			{"name": "pro", "price": 2, "durationDays": 1}]}`, "duplicate tier"},
		{"unknown action type", `{"version": "1", "tiers": [], "disabledActionTypes": ["Bridge"]}`, "Bridge"},
		{"negative limit", `{"version": "1", "tiers": [], "dailyLimits": {"pro": -1}}`, "pro"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed, err := ParseSeed([]byte(tt.doc))
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Len(t, seed.Tiers, 2)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	seed, err := ParseSeed([]byte(validSeed))
	require.NoError(t, err)

	l := ledger.New(ledger.NewMemoryStore(), payments.NewAccounts(nil), ledger.DefaultConfig("treasury"), logger.NewTestLogger(t))
	reg := allowlist.NewMemoryRegistry()
	eng := &fakeEngine{limits: map[string]int64{}}

	res, err := Apply(ctx, seed, l, reg, eng)
	require.NoError(t, err)
	assert.Equal(t, &ApplyResult{TiersCreated: 2, AddressesAllowed: 3}, res)

	tiers, err := l.ListTiers(ctx, true)
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, "Basic", tiers[0].Name)

	ok, err := reg.IsSupported(ctx, "0xrouter", models.ProtocolDEX)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(150), eng.limits["pro"])
	assert.Equal(t, []string{"Custom"}, eng.disabled)

	res, err = Apply(ctx, seed, l, reg, eng)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TiersCreated)
	assert.Equal(t, 2, res.TiersSkipped)

	all, err := l.ListTiers(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSeedEditing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(validSeed), 0o644))

	seed, err := LoadSeed(path)
	require.NoError(t, err)

	require.NoError(t, seed.AddTier(TierSeed{Name: "Pro", Price: 500, DurationDays: 30, MaxQueries: 1000, MaxActions: 100}))
	assert.Error(t, seed.AddTier(TierSeed{Name: "basic", Price: 1, DurationDays: 1}))

	require.NoError(t, seed.Allow("dex", "0xROUTER"), "already listed")
	require.NoError(t, seed.Allow("governance", "0xGov"))
	assert.Error(t, seed.Allow("bridge", "0x1"))
	assert.Error(t, seed.Allow("dex", " "))

	require.NoError(t, SaveSeed(seed, path))

	reloaded, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Len(t, reloaded.Tiers, 3)
	assert.NotEmpty(t, reloaded.LastUpdated)
	require.Len(t, reloaded.AllowList, 3)
	assert.Equal(t, []string{"0xRouter", "0xToken"}, reloaded.AllowList[1].Addresses)
	assert.Equal(t, AllowListEntry{Protocol: "governance", Addresses: []string{"0xgov"}}, reloaded.AllowList[2])
}
