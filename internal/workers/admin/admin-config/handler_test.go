package adminconfig

import (
	"context"
	"testing"
	"time"

	"action-engine/internal/allowlist"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/ledger"
	"action-engine/internal/models"
	"action-engine/internal/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeEngine struct {
	enabled   map[string]bool
	limits    map[string]int64
	emergency bool
}

func (f *fakeEngine) SetActionTypeEnabled(_ context.Context, actionType string, enabled bool) error {
	t, ok := models.ParseActionType(actionType)
	if !ok {
		return errors.NewInvalidActionTypeError(actionType)
	}
	f.enabled[string(t)] = enabled
	return nil
}

func (f *fakeEngine) SetDailyLimit(_ context.Context, tier string, limit int64) error {
	if tier == "" || limit < 0 {
		return errors.NewInvalidRequestError("bad limit")
	}
	f.limits[tier] = limit
	return nil
}

func (f *fakeEngine) EmergencyDisableAll(_ context.Context, active bool) error {
	f.emergency = active
	return nil
}

type fixture struct {
	handler  *Handler
	ledger   *ledger.Ledger
	registry *allowlist.MemoryRegistry
	engine   *fakeEngine
}

func newFixture(t *testing.T) *fixture {
	log := logger.NewTestLogger(t)
	l := ledger.New(ledger.NewMemoryStore(), payments.NewAccounts(nil), ledger.DefaultConfig("treasury"), log)
	reg := allowlist.NewMemoryRegistry()
	eng := &fakeEngine{enabled: map[string]bool{}, limits: map[string]int64{}}
	cfg := &Config{Timeout: 5 * time.Second, Operators: []string{"ops-1"}}
	return &fixture{
		handler:  NewHandler(cfg, l, reg, eng, log),
		ledger:   l,
		registry: reg,
		engine:   eng,
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Tiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.handler.Execute(ctx, &Input{
		Operation: "create-tier", Caller: "ops-1",
		Name: "Basic", Price: 100, DurationSeconds: 30 * 86400, MaxQueries: 100, MaxActions: 10,
	})
	require.NoError(t, err)
	require.NotZero(t, out.TierID)

	tier, err := f.ledger.GetTier(ctx, out.TierID)
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, tier.Duration)

	_, err = f.handler.Execute(ctx, &Input{Operation: "set-tier-active", Caller: "ops-1", TierID: out.TierID, Enabled: false})
	require.NoError(t, err)

	list, err := f.handler.Execute(ctx, &Input{Operation: "list-tiers", Caller: "ops-1", ActiveOnly: true})
	require.NoError(t, err)
	assert.False(t, list.Applied)
	assert.Empty(t, list.Tiers)

	list, err = f.handler.Execute(ctx, &Input{Operation: "list-tiers", Caller: "ops-1"})
	require.NoError(t, err)
	assert.Len(t, list.Tiers, 1)
}

func TestHandler_Execute_AllowList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Execute(ctx, &Input{Operation: "set-support", Caller: "ops-1", Address: "0xPOOL", Protocol: "Staking", Enabled: true})
	require.NoError(t, err)

	ok, err := f.registry.IsSupported(ctx, "0xpool", models.ProtocolStaking)
	require.NoError(t, err)
	assert.True(t, ok)

	out, err := f.handler.Execute(ctx, &Input{Operation: "list-supported", Caller: "ops-1", Protocol: "staking"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0xpool"}, out.Addresses)

	_, err = f.handler.Execute(ctx, &Input{Operation: "set-support", Caller: "ops-1", Address: "0xpool", Protocol: "staking", Enabled: false})
	require.NoError(t, err)
	ok, err = f.registry.IsSupported(ctx, "0xpool", models.ProtocolStaking)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandler_Execute_EngineSwitches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.handler.Execute(ctx, &Input{Operation: "set-action-type-enabled", Caller: "ops-1", ActionType: "swap", Enabled: false})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"Swap": false}, f.engine.enabled)

	_, err = f.handler.Execute(ctx, &Input{Operation: "set-daily-limit", Caller: "ops-1", Tier: "pro", DailyLimit: 250})
	require.NoError(t, err)
	assert.Equal(t, int64(250), f.engine.limits["pro"])

	_, err = f.handler.Execute(ctx, &Input{Operation: "emergency-stop", Caller: "ops-1", Enabled: true})
	require.NoError(t, err)
	assert.True(t, f.engine.emergency)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		input    *Input
		expected errors.ErrorCode
	}{
		{"non operator", &Input{Operation: "emergency-stop", Caller: "alice", Enabled: true}, errors.ErrCodeUnauthorizedCaller},
		{"unknown operation", &Input{Operation: "drop-all", Caller: "ops-1"}, errors.ErrCodeInvalidRequest},
		{"bad tier params", &Input{Operation: "create-tier", Caller: "ops-1", Name: "Free", Price: 0, DurationSeconds: 60}, errors.ErrCodeInvalidTierParams},
		{"missing tier", &Input{Operation: "set-tier-active", Caller: "ops-1", TierID: 99}, errors.ErrCodeInvalidTierParams},
		{"unknown protocol", &Input{Operation: "set-support", Caller: "ops-1", Address: "0x1", Protocol: "bridge"}, errors.ErrCodeInvalidRequest},
		{"missing address", &Input{Operation: "set-support", Caller: "ops-1", Protocol: "dex"}, errors.ErrCodeInvalidRequest},
		{"unknown action type", &Input{Operation: "set-action-type-enabled", Caller: "ops-1", ActionType: "Bridge"}, errors.ErrCodeInvalidActionType},
		{"negative limit", &Input{Operation: "set-daily-limit", Caller: "ops-1", Tier: "pro", DailyLimit: -1}, errors.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.handler.Execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.expected, errors.CodeOf(err))
			assert.False(t, f.engine.emergency)
		})
	}
}
