package scheduler

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainpay-io/chainpay/clients"
	"github.com/chainpay-io/chainpay/matching"
	"github.com/chainpay-io/chainpay/registry"
	"github.com/chainpay-io/chainpay/types"
)

type staticResolver struct {
	configs map[types.Network]types.NetworkConfig
}

func (r staticResolver) Network(n types.Network) (types.NetworkConfig, error) {
	nc, ok := r.configs[n]
	if !ok {
		return types.NetworkConfig{}, &types.Error{Code: types.ErrUnsupportedNetwork, Message: "not configured"}
	}
	return nc, nil
}

type fakeAdapter struct {
	network    types.Network
	candidates []types.CandidateTransaction
	err        error

	mu    sync.Mutex
	calls int
}

func (f *fakeAdapter) Network() types.Network { return f.network }

func (f *fakeAdapter) FindCandidates(_ context.Context, _, _ string, _ time.Time) ([]types.CandidateTransaction, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func (f *fakeAdapter) ConfirmationDepth(context.Context, string) (int64, error) {
	return 0, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingActivator struct {
	mu          sync.Mutex
	activations []string
	err         error
}

func (a *recordingActivator) Activate(_ context.Context, _, _, reference string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activations = append(a.activations, reference)
	return a.err
}

func (a *recordingActivator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.activations)
}

func testFixture(t *testing.T) (*registry.Registry, staticResolver) {
	t.Helper()
	resolver := staticResolver{configs: map[types.Network]types.NetworkConfig{
		types.NetworkEthereum: {
			Network:               types.NetworkEthereum,
			MerchantAddress:       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			NativeToken:           types.TokenInfo{Symbol: "ETH", Decimals: 18},
			RequiredConfirmations: 12,
			Tokens: map[string]types.TokenInfo{
				"usdt": {Symbol: "USDT", Decimals: 6, ID: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
			},
		},
	}}
	reg := registry.New(registry.NewMemoryStore(), resolver, 30*time.Minute, nil, nil)
	return reg, resolver
}

func candidateFor(intent types.PaymentIntent, hash string, raw int64, confirmations int64) types.CandidateTransaction {
	return types.CandidateTransaction{
		Hash:             hash,
		Network:          intent.Network,
		RecipientAddress: intent.RecipientAddress,
		TokenID:          intent.TokenID,
		RawAmount:        big.NewInt(raw),
		Confirmations:    confirmations,
		Timestamp:        intent.CreatedAt.Add(time.Minute),
	}
}

func TestSweepCompletesMatchedIntent(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(intent, "0xpaid", 10000000, 20)},
	}
	activator := &recordingActivator{}

	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)
	s.SetActivator(activator)

	require.NoError(t, s.Sweep(ctx))

	final, err := reg.Get(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, final.Status)
	assert.Equal(t, "0xpaid", final.MatchedTxHash)
	assert.Equal(t, 1, activator.count(), "activator fires once per completion")

	// A second sweep finds nothing pending and never re-activates.
	require.NoError(t, s.Sweep(ctx))
	assert.Equal(t, 1, activator.count())
}

func TestSweepUnderConfirmedStaysPending(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(intent, "0xyoung", 10000000, 3)},
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	require.NoError(t, s.Sweep(ctx))

	final, err := reg.Get(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, final.Status, "under-confirmed candidates are retried, not rejected")
}

func TestSweepAdapterFailureLeavesIntentPending(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network: types.NetworkEthereum,
		err:     types.NewAdapterUnavailable(types.NetworkEthereum, nil),
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	require.NoError(t, s.Sweep(ctx), "an unreachable network never aborts the sweep")

	final, err := reg.Get(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, final.Status)
}

func TestSweepSharesCandidateLookup(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	// Two intents for the same recipient and token: one adapter call.
	first, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)
	_, err = reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(25))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(first, "0xpaid", 10000000, 20)},
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	require.NoError(t, s.Sweep(ctx))
	assert.Equal(t, 1, adapter.callCount())
}

func TestSweepOneTransactionSettlesOneIntent(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)
	b, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(a, "0xonly", 10000000, 20)},
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	require.NoError(t, s.Sweep(ctx))

	finalA, err := reg.Get(ctx, a.Reference)
	require.NoError(t, err)
	finalB, err := reg.Get(ctx, b.Reference)
	require.NoError(t, err)

	completed := 0
	for _, st := range []types.IntentStatus{finalA.Status, finalB.Status} {
		if st == types.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed, "a transaction hash settles at most one intent per sweep")
}

func TestSweepTransactionNotReusedAcrossSweeps(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)
	b, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	// The adapter keeps returning the same transaction on every sweep, the
	// way a scan API does for as long as it stays in the query window.
	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(a, "0xonly", 10000000, 20)},
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	require.NoError(t, s.Sweep(ctx))
	require.NoError(t, s.Sweep(ctx))

	finalA, err := reg.Get(ctx, a.Reference)
	require.NoError(t, err)
	finalB, err := reg.Get(ctx, b.Reference)
	require.NoError(t, err)

	completed := 0
	for _, st := range []types.IntentStatus{finalA.Status, finalB.Status} {
		if st == types.StatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed, "a transaction hash settles at most one intent, ever")
}

func TestSweepExpiresStaleBeforeMatching(t *testing.T) {
	resolver := staticResolver{configs: map[types.Network]types.NetworkConfig{
		types.NetworkEthereum: {
			Network:         types.NetworkEthereum,
			MerchantAddress: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			NativeToken:     types.TokenInfo{Symbol: "ETH", Decimals: 18},
			Tokens: map[string]types.TokenInfo{
				"usdt": {Symbol: "USDT", Decimals: 6, ID: "0xdAC17F958D2ee523a2206206994597C13D831ec7"},
			},
		},
	}}
	reg := registry.New(registry.NewMemoryStore(), resolver, -time.Minute, nil, nil)
	ctx := context.Background()

	// Negative TTL makes the intent stale the moment it is minted.
	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(intent, "0xlate", 10000000, 20)},
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	require.NoError(t, s.Sweep(ctx))

	final, err := reg.Get(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, final.Status, "expired intents never complete")
	assert.Equal(t, 0, adapter.callCount(), "no lookup for a fully expired set")
}

func TestActivationFailureDoesNotReverseCompletion(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(intent, "0xpaid", 10000000, 20)},
	}
	activator := &recordingActivator{err: assert.AnError}

	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)
	s.SetActivator(activator)

	require.NoError(t, s.Sweep(ctx))

	final, err := reg.Get(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, final.Status)
}

func TestVerifyNow(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(intent, "0xpaid", 10000000, 20)},
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	result, err := s.VerifyNow(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, matching.OutcomeMatched, result.Outcome)

	final, err := reg.Get(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, final.Status)

	// A second call on the now-terminal intent is rejected.
	_, err = s.VerifyNow(ctx, intent.Reference)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidTransition))
}

func TestVerifyNowExpiredIntent(t *testing.T) {
	_, resolver := testFixture(t)
	reg := registry.New(registry.NewMemoryStore(), resolver, -time.Minute, nil, nil)
	ctx := context.Background()

	// Negative TTL makes the intent stale the moment it is minted.
	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{
		network:    types.NetworkEthereum,
		candidates: []types.CandidateTransaction{candidateFor(intent, "0xlate", 10000000, 20)},
	}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	_, err = s.VerifyNow(ctx, intent.Reference)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrIntentExpired))
	assert.Equal(t, 0, adapter.callCount(), "no chain lookup for an expired intent")

	final, err := reg.Get(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, final.Status)

	// The transition stuck; a later call sees the expired status directly.
	_, err = s.VerifyNow(ctx, intent.Reference)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrIntentExpired))
}

func TestVerifyNowNoCandidates(t *testing.T) {
	reg, resolver := testFixture(t)
	ctx := context.Background()

	intent, err := reg.Create(ctx, types.NetworkEthereum, "pro", "USDT", decimal.NewFromInt(10))
	require.NoError(t, err)

	adapter := &fakeAdapter{network: types.NetworkEthereum}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Minute, nil, nil)

	result, err := s.VerifyNow(ctx, intent.Reference)
	require.NoError(t, err)
	assert.Equal(t, matching.OutcomeNoMatch, result.Outcome)
}

func TestStartStop(t *testing.T) {
	reg, resolver := testFixture(t)

	adapter := &fakeAdapter{network: types.NetworkEthereum}
	s := New(reg, resolver, map[types.Network]clients.Adapter{types.NetworkEthereum: adapter}, time.Second, nil, nil)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "second start is a no-op")
	s.Stop()
	s.Stop()
}
