package allowlist

import (
	"context"
	"errors"
	"testing"

	commonerrors "action-engine/internal/common/errors"
	"action-engine/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registries(t *testing.T) map[string]Registry {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"redis":  NewRedisRegistry(client, "test"),
	}
}

// ==========================
// Shared behaviour
// ==========================

func TestRegistry_SetAndQuery(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := reg.IsSupported(ctx, "0xRouter", models.ProtocolDEX)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, reg.SetSupport(ctx, "0xRouter", models.ProtocolDEX, true))
			require.NoError(t, reg.SetSupport(ctx, "0xROUTER", models.ProtocolDEX, true))

			ok, err = reg.IsSupported(ctx, " 0xrouter ", models.ProtocolDEX)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = reg.IsSupported(ctx, "0xrouter", models.ProtocolToken)
			require.NoError(t, err)
			assert.False(t, ok, "namespaces are independent")

			list, err := reg.ListSupported(ctx, models.ProtocolDEX)
			require.NoError(t, err)
			assert.Equal(t, []string{"0xrouter"}, list)

			require.NoError(t, reg.SetSupport(ctx, "0xRouter", models.ProtocolDEX, false))
			require.NoError(t, reg.SetSupport(ctx, "0xRouter", models.ProtocolDEX, false))
			ok, err = reg.IsSupported(ctx, "0xrouter", models.ProtocolDEX)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRegistry_EmptyAddressNeverSupported(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := reg.IsSupported(context.Background(), "  ", models.ProtocolToken)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRegistry_SetSupportRejectsBlankAddress(t *testing.T) {
	for name, reg := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, addr := range []string{"", "   "} {
				err := reg.SetSupport(ctx, addr, models.ProtocolToken, true)
				assert.Equal(t, commonerrors.ErrCodeInvalidRequest, commonerrors.CodeOf(err))
			}
			listed, err := reg.ListSupported(ctx, models.ProtocolToken)
			require.NoError(t, err)
			assert.Empty(t, listed)
		})
	}
}

// ==========================
// Redis specifics
// ==========================

func TestRedisRegistry_KeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	reg := NewRedisRegistry(client, "action-engine")
	require.NoError(t, reg.SetSupport(context.Background(), "0xPool", models.ProtocolStaking, true))

	ok, err := mr.SIsMember("action-engine:allowlist:staking", "0xpool")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRegistry_PropagatesErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectSIsMember("p:allowlist:dex", "0xr").SetErr(errors.New("connection reset"))

	reg := NewRedisRegistry(client, "p")
	_, err := reg.IsSupported(context.Background(), "0xR", models.ProtocolDEX)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}
