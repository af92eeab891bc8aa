package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"action-engine/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Accounts
// ==========================

func TestAccounts_Transfer(t *testing.T) {
	a := NewAccounts(map[string]int64{"alice": 100}, "treasury")
	ctx := context.Background()

	require.NoError(t, a.Transfer(ctx, "alice", "treasury", 60))
	assert.Equal(t, int64(40), a.Balance("alice"))
	assert.Equal(t, int64(60), a.Balance("treasury"))

	err := a.Transfer(ctx, "alice", "treasury", 41)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, int64(40), a.Balance("alice"))

	require.NoError(t, a.Transfer(ctx, "treasury", "alice", 500))
	assert.Equal(t, int64(-440), a.Balance("treasury"))

	assert.Error(t, a.Transfer(ctx, "alice", "bob", -1))
}

func TestAccounts_ConcurrentTransfersConserveTotal(t *testing.T) {
	a := NewAccounts(map[string]int64{"alice": 1000, "bob": 1000})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = a.Transfer(ctx, "alice", "bob", 7) }()
		go func() { defer wg.Done(); _ = a.Transfer(ctx, "bob", "alice", 5) }()
	}
	wg.Wait()

	assert.Equal(t, int64(2000), a.Balance("alice")+a.Balance("bob"))
}

// ==========================
// Gateway
// ==========================

func TestGateway_Transfer(t *testing.T) {
	var got transferRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(transferResponse{TransferID: "t-1", Status: "settled"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL+"/", "k", time.Second, logger.NewTestLogger(t))
	require.NoError(t, g.Transfer(context.Background(), "alice", "treasury", 900))

	assert.Equal(t, "alice", got.From)
	assert.Equal(t, int64(900), got.Amount)
	assert.NotEmpty(t, got.IdempotencyKey)
}

func TestGateway_IdempotencyKeyFollowsOperation(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		keys = append(keys, req.IdempotencyKey)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(transferResponse{TransferID: "t-1", Status: "settled"})
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, "", time.Second, logger.NewTestLogger(t))
	job := WithIdempotencyKey(context.Background(), "job-42")

	require.NoError(t, g.Transfer(job, "alice", "treasury", 900))
	require.NoError(t, g.Transfer(job, "alice", "treasury", 900))
	require.NoError(t, g.Transfer(job, "treasury", "alice", 900))
	require.NoError(t, g.Transfer(WithIdempotencyKey(context.Background(), "job-43"), "alice", "treasury", 900))
	require.NoError(t, g.Transfer(context.Background(), "alice", "treasury", 900))
	require.NoError(t, g.Transfer(context.Background(), "alice", "treasury", 900))

	require.Len(t, keys, 6)
	assert.Equal(t, keys[0], keys[1], "a repeated operation reuses its key")
	assert.NotEqual(t, keys[0], keys[2])
	assert.NotEqual(t, keys[0], keys[3])
	assert.NotEqual(t, keys[4], keys[5])
	for _, k := range keys {
		assert.NotEmpty(t, k)
	}
}

func TestGateway_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		funds   bool
	}{
		{
			name: "payment required",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusPaymentRequired)
			},
			funds: true,
		},
		{
			name: "rejected status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(transferResponse{TransferID: "t-2", Status: "rejected", Reason: "limit"})
			},
			funds: true,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			funds: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			err := NewGateway(srv.URL, "", time.Second, logger.NewTestLogger(t)).
				Transfer(context.Background(), "alice", "treasury", 1)
			require.Error(t, err)
			assert.Equal(t, tt.funds, errors.Is(err, ErrInsufficientBalance))
		})
	}
}
