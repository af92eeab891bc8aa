package actions

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"action-engine/internal/allowlist"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/dispatch"
	"action-engine/internal/ledger"
	"action-engine/internal/models"
	"action-engine/internal/payments"
	"action-engine/internal/ratelimit"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

const (
	pool         = "0xPool"
	token        = "0xToken"
	router       = "0xRouter"
	usdc         = "0xUSDC"
	source       = "intent-classifier"
	operator     = "ops"
	stakePayload = `{"pool":"0xPool","token":"0xToken","amount":"1"}`
	swapPayload  = `{"router":"0xRouter","tokenIn":"0xToken","tokenOut":"0xUSDC","amountIn":"5","minAmountOut":"4.9"}`
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingExecutor struct {
	calls int32
	fail  bool
}

func (c *countingExecutor) Execute(_ context.Context, call *dispatch.Call) (*dispatch.Receipt, error) {
	atomic.AddInt32(&c.calls, 1)
	time.Sleep(5 * time.Millisecond)
	if c.fail {
		return &dispatch.Receipt{Success: false, Message: "execution reverted"}, nil
	}
	return &dispatch.Receipt{Success: true, Reference: "0xtx", Message: "confirmed"}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *eventRecorder) ActionChanged(_ context.Context, event string, a *models.Action) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type alertRecorder struct {
	mu       sync.Mutex
	subjects []string
}

func (r *alertRecorder) Alert(_ context.Context, subject, _ string) {
	r.mu.Lock()
	r.subjects = append(r.subjects, subject)
	r.mu.Unlock()
}

// brokenUsageLedger fails every usage increment.
type brokenUsageLedger struct {
	*ledger.Ledger
}

func (b brokenUsageLedger) IncrementUsage(context.Context, string, uint64, uint64) error {
	return errors.NewStorageFailedError("put_usage", assert.AnError)
}

// ctxStore fails every call made after its context ended, the way a
// database driver does.
type ctxStore struct {
	Store
}

func (s ctxStore) Get(ctx context.Context, id uint64) (*models.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, id)
}

func (s ctxStore) Transition(ctx context.Context, id uint64, from []models.ActionStatus, update models.StatusUpdate) (*models.Action, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return s.Store.Transition(ctx, id, from, update)
}

type fixture struct {
	engine   *Engine
	ledger   *ledger.Ledger
	registry *allowlist.MemoryRegistry
	executor *countingExecutor
	clock    *testClock
	events   *eventRecorder
	alerts   *alertRecorder
	tiers    map[string]uint64
}

type fixtureOpts struct {
	autoApprove   bool
	brokenLedger  bool
	executorFails bool
	store         Store
	executor      dispatch.Executor
	policy        Policy
	limits        ratelimit.LimitTable
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	log := logger.NewTestLogger(t)

	accounts := payments.NewAccounts(map[string]int64{"alice": 1_000_000, "bob": 1_000_000}, "treasury")
	led := ledger.New(ledger.NewMemoryStore(), accounts, ledger.DefaultConfig("treasury"), log, ledger.WithClock(clock.Now))

	tiers := map[string]uint64{}
	for _, tier := range []struct {
		name       string
		maxActions uint64
	}{{"Basic", 10}, {"Pro", 100}} {
		id, err := led.CreateTier(ctx, tier.name, 1000, 365*24*time.Hour, 100, tier.maxActions, nil)
		require.NoError(t, err)
		tiers[tier.name] = id
	}

	events := &eventRecorder{}
	alerts := &alertRecorder{}

	registry := allowlist.NewMemoryRegistry()
	require.NoError(t, registry.SetSupport(ctx, pool, models.ProtocolStaking, true))
	require.NoError(t, registry.SetSupport(ctx, token, models.ProtocolToken, true))
	require.NoError(t, registry.SetSupport(ctx, usdc, models.ProtocolToken, true))

	exec := &countingExecutor{fail: opts.executorFails}
	var executor dispatch.Executor = exec
	if opts.executor != nil {
		executor = opts.executor
	}
	disp := dispatch.New(registry, executor, dispatch.Config{Timeout: time.Second}, log)

	var limiterOpts []ratelimit.Option
	if opts.limits != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithLimitTable(opts.limits))
	}
	limiter := ratelimit.New(ratelimit.NewMemoryTracker(), 30*time.Second, nil, limiterOpts...)

	store := opts.store
	if store == nil {
		store = NewMemoryStore()
	}
	engineOpts := []Option{WithClock(clock.Now), WithEventSinks(events), WithAlerter(alerts)}
	if opts.policy != nil {
		engineOpts = append(engineOpts, WithPolicy(opts.policy))
	}

	var l Ledger = led
	if opts.brokenLedger {
		l = brokenUsageLedger{led}
	}

	engine := NewEngine(store, l, limiter, registry, disp, Config{
		ExpiryWindow:   time.Hour,
		AutoApprove:    opts.autoApprove,
		RequestSources: []string{source},
		Operators:      []string{operator},
	}, log, engineOpts...)

	return &fixture{
		engine: engine, ledger: led, registry: registry, executor: exec,
		clock: clock, events: events, alerts: alerts, tiers: tiers,
	}
}

func (f *fixture) subscribe(t *testing.T, owner, tier string) {
	t.Helper()
	_, err := f.ledger.Purchase(context.Background(), owner, f.tiers[tier], "")
	require.NoError(t, err)
}

func stakeRequest(owner string) CreateRequest {
	return CreateRequest{Caller: owner, Owner: owner, Type: "Stake", Payload: []byte(stakePayload), Target: pool}
}

func (f *fixture) approved(t *testing.T, owner string) *models.Action {
	t.Helper()
	a, err := f.engine.CreateAction(context.Background(), stakeRequest(owner))
	require.NoError(t, err)
	a, err = f.engine.Approve(context.Background(), a.ID, operator)
	require.NoError(t, err)
	return a
}

// ==========================
// Admission
// ==========================

func TestCreateAction_Success(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")

	req := stakeRequest("alice")
	req.Caller = source
	req.ChatContext = "stake 1 token please"
	req.Target = "0xPOOL"

	a, err := f.engine.CreateAction(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.ID)
	assert.Equal(t, models.StatusPending, a.Status)
	assert.Equal(t, models.ActionStake, a.Type)
	assert.Equal(t, "0xpool", a.TargetAddress)
	assert.Equal(t, source, a.RequestedBy)
	assert.Equal(t, dispatch.Digest([]byte(stakePayload)), a.PayloadDigest)
	assert.Equal(t, []string{EventCreated}, f.events.list())
	assert.Zero(t, f.executor.calls, "creation never dispatches")

	stored, err := f.engine.GetAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, stored)
}

func TestCreateAction_AdmissionChecks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		req   func() CreateRequest
		code  errors.ErrorCode
	}{
		{
			name: "unknown type",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
			},
			req: func() CreateRequest {
				r := stakeRequest("alice")
				r.Type = "Bridge"
				return r
			},
			code: errors.ErrCodeInvalidActionType,
		},
		{
			name: "unauthorized caller with unknown type",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
			},
			req: func() CreateRequest {
				r := stakeRequest("alice")
				r.Caller = "mallory"
				r.Type = "Bridge"
				return r
			},
			code: errors.ErrCodeUnauthorizedCaller,
		},
		{
			name: "caller is neither owner nor source",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
			},
			req: func() CreateRequest {
				r := stakeRequest("alice")
				r.Caller = "mallory"
				return r
			},
			code: errors.ErrCodeUnauthorizedCaller,
		},
		{
			name:  "no subscription wins over unlisted target",
			setup: func(t *testing.T, f *fixture) {},
			req: func() CreateRequest {
				r := stakeRequest("alice")
				r.Target = "0xUnknown"
				return r
			},
			code: errors.ErrCodeQuotaExceeded,
		},
		{
			name: "cooldown",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
				_, err := f.engine.CreateAction(context.Background(), stakeRequest("alice"))
				require.NoError(t, err)
				f.clock.Advance(10 * time.Second)
			},
			req:  func() CreateRequest { return stakeRequest("alice") },
			code: errors.ErrCodeCooldownActive,
		},
		{
			name: "daily cap",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
				require.NoError(t, f.engine.SetDailyLimit(context.Background(), "Basic", 2))
				for i := 0; i < 2; i++ {
					_, err := f.engine.CreateAction(context.Background(), stakeRequest("alice"))
					require.NoError(t, err)
					f.clock.Advance(31 * time.Second)
				}
			},
			req:  func() CreateRequest { return stakeRequest("alice") },
			code: errors.ErrCodeDailyLimitExceeded,
		},
		{
			name: "type disabled",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
				require.NoError(t, f.engine.SetActionTypeEnabled(context.Background(), "stake", false))
			},
			req:  func() CreateRequest { return stakeRequest("alice") },
			code: errors.ErrCodeActionTypeDisabled,
		},
		{
			name: "emergency stop",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
				require.NoError(t, f.engine.EmergencyDisableAll(context.Background(), true))
			},
			req:  func() CreateRequest { return stakeRequest("alice") },
			code: errors.ErrCodeActionTypeDisabled,
		},
		{
			name: "unlisted target",
			setup: func(t *testing.T, f *fixture) {
				f.subscribe(t, "alice", "Basic")
			},
			req: func() CreateRequest {
				return CreateRequest{Caller: "alice", Owner: "alice", Type: "Swap", Payload: []byte(swapPayload), Target: router}
			},
			code: errors.ErrCodeUnsupportedTarget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{})
			tt.setup(t, f)
			before, err := f.engine.GetUserActions(context.Background(), "alice")
			require.NoError(t, err)

			_, err = f.engine.CreateAction(context.Background(), tt.req())
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))

			after, err := f.engine.GetUserActions(context.Background(), "alice")
			require.NoError(t, err)
			assert.Len(t, after, len(before), "a denied request stores nothing")
		})
	}
}

func TestCreateAction_DenialRecordsNoCooldown(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")

	_, err := f.engine.CreateAction(context.Background(),
		CreateRequest{Caller: "alice", Owner: "alice", Type: "Swap", Payload: []byte(swapPayload), Target: router})
	require.Equal(t, errors.ErrCodeUnsupportedTarget, errors.CodeOf(err))

	_, err = f.engine.CreateAction(context.Background(), stakeRequest("alice"))
	require.NoError(t, err)
}

func TestCreateAction_SwapAfterRouterListed(t *testing.T) {
	f := newFixture(t, fixtureOpts{autoApprove: true})
	f.subscribe(t, "alice", "Basic")
	req := CreateRequest{Caller: "alice", Owner: "alice", Type: "Swap", Payload: []byte(swapPayload), Target: router}

	_, err := f.engine.CreateAction(context.Background(), req)
	require.Equal(t, errors.ErrCodeUnsupportedTarget, errors.CodeOf(err))

	require.NoError(t, f.registry.SetSupport(context.Background(), router, models.ProtocolDEX, true))
	a, err := f.engine.CreateAction(context.Background(), req)
	require.NoError(t, err)

	settled, err := f.engine.Execute(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)
}

func TestCreateAction_AutoApprove(t *testing.T) {
	f := newFixture(t, fixtureOpts{autoApprove: true})
	f.subscribe(t, "alice", "Basic")

	a, err := f.engine.CreateAction(context.Background(), stakeRequest("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, a.Status)
	assert.Equal(t, AutoApprover, a.Approver)
	require.NotNil(t, a.ApprovedAt)
	assert.Equal(t, []string{EventCreated, EventApproved}, f.events.list())
}

// ==========================
// Lifecycle
// ==========================

func TestApprove(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, 42, operator)
	assert.Equal(t, errors.ErrCodeActionNotFound, errors.CodeOf(err))

	a, err := f.engine.CreateAction(ctx, stakeRequest("alice"))
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, a.ID, " ")
	assert.Equal(t, errors.ErrCodeInvalidRequest, errors.CodeOf(err))

	approved, err := f.engine.Approve(ctx, a.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, operator, approved.Approver)

	_, err = f.engine.Approve(ctx, a.ID, operator)
	assert.Equal(t, errors.ErrCodeActionNotPending, errors.CodeOf(err))
}

func TestExecute_Completes(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")
	a := f.approved(t, "alice")

	settled, err := f.engine.Execute(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	assert.Equal(t, "confirmed", settled.Result)
	require.NotNil(t, settled.ExecutedAt)

	usage, err := f.ledger.Usage(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), usage.ActionsUsed)
	assert.Equal(t, []string{EventCreated, EventApproved, EventCompleted}, f.events.list())
}

func TestExecute_Errors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")
	ctx := context.Background()

	_, err := f.engine.Execute(ctx, 99, "alice")
	assert.Equal(t, errors.ErrCodeActionNotFound, errors.CodeOf(err))

	pending, err := f.engine.CreateAction(ctx, stakeRequest("alice"))
	require.NoError(t, err)

	_, err = f.engine.Execute(ctx, pending.ID, "mallory")
	assert.Equal(t, errors.ErrCodeNotAuthorizedToExecute, errors.CodeOf(err))

	_, err = f.engine.Execute(ctx, pending.ID, "alice")
	assert.Equal(t, errors.ErrCodeActionNotApproved, errors.CodeOf(err))

	_, err = f.engine.Approve(ctx, pending.ID, operator)
	require.NoError(t, err)
	settled, err := f.engine.Execute(ctx, pending.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)

	_, err = f.engine.Execute(ctx, pending.ID, "alice")
	assert.Equal(t, errors.ErrCodeActionNotApproved, errors.CodeOf(err), "a settled action never runs twice")
	assert.Equal(t, int32(1), f.executor.calls)
}

func TestExecute_Expired(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")
	a := f.approved(t, "alice")

	f.clock.Advance(time.Hour + time.Second)
	_, err := f.engine.Execute(context.Background(), a.ID, "alice")
	assert.Equal(t, errors.ErrCodeActionExpired, errors.CodeOf(err))

	stored, err := f.engine.GetAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)

	_, err = f.engine.Execute(context.Background(), a.ID, "alice")
	assert.Equal(t, errors.ErrCodeActionExpired, errors.CodeOf(err))
	assert.Zero(t, f.executor.calls)
}

func TestExecute_DispatchFailureIsRecorded(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")
	a := f.approved(t, "alice")

	// Revocation after admission blocks the dispatch.
	require.NoError(t, f.registry.SetSupport(context.Background(), token, models.ProtocolToken, false))

	settled, err := f.engine.Execute(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, settled.Status)
	assert.True(t, strings.HasPrefix(settled.Result, "UNSUPPORTED_TARGET: "), settled.Result)
	assert.Zero(t, f.executor.calls)

	usage, err := f.ledger.Usage(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, usage.ActionsUsed, "failed actions are not charged")
}

func TestExecute_RevertIsRecorded(t *testing.T) {
	f := newFixture(t, fixtureOpts{executorFails: true})
	f.subscribe(t, "alice", "Basic")
	a := f.approved(t, "alice")

	settled, err := f.engine.Execute(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, settled.Status)
	assert.Equal(t, "EXECUTION_FAILED: execution reverted", settled.Result)
	assert.Equal(t, []byte(stakePayload), settled.Payload)
}

func TestExecute_AtMostOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")
	a := f.approved(t, "alice")

	var completed, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Execute(context.Background(), a.ID, "alice")
			if err == nil {
				atomic.AddInt32(&completed, 1)
			} else if errors.CodeOf(err) == errors.ErrCodeActionNotApproved {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), completed)
	assert.Equal(t, int32(19), rejected)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.executor.calls))
}

func TestExecute_UsageFailureKeepsCompleted(t *testing.T) {
	f := newFixture(t, fixtureOpts{brokenLedger: true})
	f.subscribe(t, "alice", "Basic")
	a := f.approved(t, "alice")

	settled, err := f.engine.Execute(context.Background(), a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, settled.Status)
	assert.Equal(t, []string{"Usage increment failed"}, f.alerts.subjects)
}

func TestExecute_SettlesAfterCallerDeadline(t *testing.T) {
	blocking := dispatch.ExecutorFunc(func(ctx context.Context, _ *dispatch.Call) (*dispatch.Receipt, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	f := newFixture(t, fixtureOpts{store: ctxStore{NewMemoryStore()}, executor: blocking})
	f.subscribe(t, "alice", "Basic")
	a := f.approved(t, "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	settled, err := f.engine.Execute(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, settled.Status)
	assert.True(t, strings.HasPrefix(settled.Result, "EXECUTION_FAILED: "), settled.Result)

	stored, err := f.engine.GetAction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, []string{EventCreated, EventApproved, EventFailed}, f.events.list())
}

func TestCancel(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	f.subscribe(t, "alice", "Basic")
	ctx := context.Background()

	a, err := f.engine.CreateAction(ctx, stakeRequest("alice"))
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, a.ID, "mallory", "")
	assert.Equal(t, errors.ErrCodeNotAuthorizedToExecute, errors.CodeOf(err))

	cancelled, err := f.engine.Cancel(ctx, a.ID, "alice", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.Result)

	_, err = f.engine.Cancel(ctx, a.ID, "alice", "")
	assert.Equal(t, errors.ErrCodeActionNotCancellable, errors.CodeOf(err))

	f.clock.Advance(31 * time.Second)
	b := f.approved(t, "alice")
	cancelled, err = f.engine.Cancel(ctx, b.ID, operator, "")
	require.NoError(t, err)
	assert.Equal(t, "cancelled by ops", cancelled.Result)

	_, err = f.engine.Execute(ctx, b.ID, "alice")
	assert.Equal(t, errors.ErrCodeActionNotApproved, errors.CodeOf(err))

	_, err = f.engine.Cancel(ctx, 1234, "alice", "")
	assert.Equal(t, errors.ErrCodeActionNotFound, errors.CodeOf(err))
}

// ==========================
// Quota scenarios
// ==========================

func TestBasicTierAllowsTenActions(t *testing.T) {
	f := newFixture(t, fixtureOpts{autoApprove: true})
	f.subscribe(t, "alice", "Basic")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		a, err := f.engine.CreateAction(ctx, stakeRequest("alice"))
		require.NoError(t, err, "action %d", i+1)
		settled, err := f.engine.Execute(ctx, a.ID, "alice")
		require.NoError(t, err)
		require.Equal(t, models.StatusCompleted, settled.Status)
		f.clock.Advance(31 * time.Second)
	}

	_, err := f.engine.CreateAction(ctx, stakeRequest("alice"))
	assert.Equal(t, errors.ErrCodeQuotaExceeded, errors.CodeOf(err))

	// The cycle rolls over 30 days later.
	f.clock.Advance(30 * 24 * time.Hour)
	_, err = f.engine.CreateAction(ctx, stakeRequest("alice"))
	require.NoError(t, err)

	usage, err := f.engine.GetUserUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, usage.ActionsUsed)
	assert.Equal(t, int64(1), usage.DayCount)
}

func TestGetUserUsage(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	ctx := context.Background()

	usage, err := f.engine.GetUserUsage(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, usage.Subscribed)
	assert.Equal(t, int64(5), usage.DailyCap)
	assert.Nil(t, usage.LastActionAt)

	f.subscribe(t, "bob", "Pro")
	_, err = f.engine.CreateAction(ctx, stakeRequest("bob"))
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)

	usage, err = f.engine.GetUserUsage(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, usage.Subscribed)
	assert.Equal(t, "Pro", usage.Tier)
	assert.Equal(t, uint64(100), usage.MaxActions)
	assert.Equal(t, int64(100), usage.DailyCap)
	assert.Equal(t, int64(1), usage.DayCount)
	assert.Equal(t, 20*time.Second, usage.CooldownRemaining)
	require.NotNil(t, usage.LastActionAt)
}

// ==========================
// Admin
// ==========================

func TestAdminSwitches(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	ctx := context.Background()

	err := f.engine.SetActionTypeEnabled(ctx, "teleport", false)
	assert.Equal(t, errors.ErrCodeInvalidActionType, errors.CodeOf(err))

	require.NoError(t, f.engine.SetActionTypeEnabled(ctx, "vote", false))
	disabled, err := f.engine.Policy().DisabledTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ActionType{models.ActionVote}, disabled)
	require.NoError(t, f.engine.SetActionTypeEnabled(ctx, "Vote", true))
	disabled, err = f.engine.Policy().DisabledTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, disabled)

	require.NoError(t, f.engine.EmergencyDisableAll(ctx, true))
	stop, err := f.engine.Policy().EmergencyStop(ctx)
	require.NoError(t, err)
	assert.True(t, stop)
	require.NoError(t, f.engine.EmergencyDisableAll(ctx, false))
	stop, err = f.engine.Policy().EmergencyStop(ctx)
	require.NoError(t, err)
	assert.False(t, stop)
	assert.Equal(t, []string{"Emergency stop activated", "Emergency stop lifted"}, f.alerts.subjects)
}

func TestAdminSwitches_SharedAcrossEngines(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	shared := func() fixtureOpts {
		return fixtureOpts{
			policy: NewRedisPolicy(client, "test"),
			limits: ratelimit.NewRedisLimits(client, "test"),
		}
	}
	a := newFixture(t, shared())
	b := newFixture(t, shared())
	b.subscribe(t, "alice", "Basic")

	require.NoError(t, a.engine.EmergencyDisableAll(ctx, true))
	assert.True(t, mr.Exists("test:policy:emergency"))
	_, err := b.engine.CreateAction(ctx, stakeRequest("alice"))
	assert.Equal(t, errors.ErrCodeActionTypeDisabled, errors.CodeOf(err))

	require.NoError(t, a.engine.EmergencyDisableAll(ctx, false))
	require.NoError(t, a.engine.SetActionTypeEnabled(ctx, "stake", false))
	_, err = b.engine.CreateAction(ctx, stakeRequest("alice"))
	assert.Equal(t, errors.ErrCodeActionTypeDisabled, errors.CodeOf(err))

	require.NoError(t, a.engine.SetActionTypeEnabled(ctx, "stake", true))
	require.NoError(t, a.engine.SetDailyLimit(ctx, "Basic", 1))
	_, err = b.engine.CreateAction(ctx, stakeRequest("alice"))
	require.NoError(t, err)
	b.clock.Advance(31 * time.Second)
	_, err = b.engine.CreateAction(ctx, stakeRequest("alice"))
	assert.Equal(t, errors.ErrCodeDailyLimitExceeded, errors.CodeOf(err))

	usage, err := b.engine.GetUserUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.DailyCap)
}

func TestCreateAction_PolicyLookupFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newFixture(t, fixtureOpts{policy: NewRedisPolicy(client, "test")})
	f.subscribe(t, "alice", "Basic")
	mr.SetError("READONLY replica")

	_, err := f.engine.CreateAction(context.Background(), stakeRequest("alice"))
	assert.Equal(t, errors.ErrCodeStorageFailed, errors.CodeOf(err))
}
