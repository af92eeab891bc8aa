package managesubscription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/ledger"
	"action-engine/internal/payments"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func createTestHandler(t *testing.T) (*Handler, *ledger.Ledger, *payments.Accounts) {
	accounts := payments.NewAccounts(map[string]int64{"alice": 1000, "bob": 1000})
	l := ledger.New(ledger.NewMemoryStore(), accounts, ledger.DefaultConfig("treasury"), logger.NewTestLogger(t),
		ledger.WithClock(func() time.Time { return testNow }))
	return NewHandler(&Config{Timeout: 5 * time.Second}, l, logger.NewTestLogger(t)), l, accounts
}

func createTier(t *testing.T, l *ledger.Ledger) uint64 {
	id, err := l.CreateTier(context.Background(), "Basic", 100, 30*24*time.Hour, 100, 10, nil)
	require.NoError(t, err)
	return id
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_PurchaseRenewCancel(t *testing.T) {
	h, l, accounts := createTestHandler(t)
	tierID := createTier(t, l)
	ctx := context.Background()

	out, err := h.Execute(ctx, &Input{Operation: "purchase", Owner: "alice", TierID: tierID})
	require.NoError(t, err)
	assert.Equal(t, "Basic", out.Tier)
	assert.True(t, out.Active)
	assert.Equal(t, int64(100), out.Amount)
	assert.Equal(t, testNow.Add(30*24*time.Hour).Format(time.RFC3339), out.EndTime)

	out, err = h.Execute(ctx, &Input{Operation: "renew", SubscriptionID: out.SubscriptionID, Caller: "alice"})
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(60*24*time.Hour).Format(time.RFC3339), out.EndTime)

	out, err = h.Execute(ctx, &Input{Operation: "cancel", SubscriptionID: out.SubscriptionID, Caller: "alice"})
	require.NoError(t, err)
	assert.False(t, out.Active)

	bal := accounts.Balance("alice")
	assert.Equal(t, int64(800), bal, "purchase and one renewal charged, no refund without proration")
}

func TestHandler_Execute_WithdrawEarnings(t *testing.T) {
	h, l, accounts := createTestHandler(t)
	tierID := createTier(t, l)
	ctx := context.Background()

	_, err := h.Execute(ctx, &Input{Operation: "purchase", Owner: "alice", TierID: tierID, Referrer: "bob"})
	require.NoError(t, err)

	earned, err := l.Earnings(ctx, "bob")
	require.NoError(t, err)
	require.Positive(t, earned)

	out, err := h.Execute(ctx, &Input{Operation: "withdraw-earnings", Owner: "bob"})
	require.NoError(t, err)
	assert.Equal(t, earned, out.Amount)

	bal := accounts.Balance("bob")
	assert.Equal(t, 1000+earned, bal)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_Errors(t *testing.T) {
	h, l, _ := createTestHandler(t)
	tierID := createTier(t, l)
	ctx := context.Background()

	out, err := h.Execute(ctx, &Input{Operation: "purchase", Owner: "alice", TierID: tierID})
	require.NoError(t, err)
	subID := out.SubscriptionID

	tests := []struct {
		name     string
		input    *Input
		expected errors.ErrorCode
	}{
		{"unknown operation", &Input{Operation: "upgrade"}, errors.ErrCodeInvalidRequest},
		{"purchase without tier", &Input{Operation: "purchase", Owner: "bob"}, errors.ErrCodeInvalidRequest},
		{"already subscribed", &Input{Operation: "purchase", Owner: "alice", TierID: tierID}, errors.ErrCodeAlreadySubscribed},
		{"renew by stranger", &Input{Operation: "renew", SubscriptionID: subID, Caller: "bob"}, errors.ErrCodeNotOwner},
		{"cancel missing caller", &Input{Operation: "cancel", SubscriptionID: subID}, errors.ErrCodeInvalidRequest},
		{"nothing to withdraw", &Input{Operation: "withdraw-earnings", Owner: "carol"}, errors.ErrCodeNoEarnings},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Execute(ctx, tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.expected, errors.CodeOf(err))
		})
	}
}

func TestHandler_Execute_InsufficientFunds(t *testing.T) {
	h, l, _ := createTestHandler(t)
	tierID := createTier(t, l)

	_, err := h.Execute(context.Background(), &Input{Operation: "purchase", Owner: "pauper", TierID: tierID})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInsufficientFunds, errors.CodeOf(err))

	_, err = l.ActiveSubscription(context.Background(), "pauper")
	assert.Equal(t, errors.ErrCodeNoValidSubscription, errors.CodeOf(err))
}

func TestHandler_Execute_RequestIDKeysTransfers(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IdempotencyKey string `json:"idempotencyKey"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		keys = append(keys, req.IdempotencyKey)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"transferId": "t-1", "status": "settled"})
	}))
	defer srv.Close()

	gateway := payments.NewGateway(srv.URL, "", time.Second, logger.NewTestLogger(t))
	purchase := func(requestID string) {
		l := ledger.New(ledger.NewMemoryStore(), gateway, ledger.DefaultConfig("treasury"), logger.NewTestLogger(t),
			ledger.WithClock(func() time.Time { return testNow }))
		h := NewHandler(&Config{Timeout: 5 * time.Second}, l, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{Operation: "purchase", Owner: "alice", TierID: createTier(t, l), RequestID: requestID})
		require.NoError(t, err)
	}

	purchase("req-1")
	purchase("req-1")
	purchase("req-2")

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.NotEqual(t, keys[0], keys[2])
}
