package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solraceio/sniper/candidate"
	"github.com/solraceio/sniper/config"
	"github.com/solraceio/sniper/slotlease"
	"github.com/solraceio/sniper/txbuilder"
	"github.com/solraceio/sniper/types"
)

// stubSender always returns the same outcome, regardless of policy,
// after an optional simulated network delay.
type stubSender struct {
	mu    sync.Mutex
	sig   solana.Signature
	err   error
	delay time.Duration
	calls int
}

func (s *stubSender) Send(ctx context.Context, txs []*types.SignedTransaction, correlationID string) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.sig, s.err
}

func (s *stubSender) SendWithPolicy(ctx context.Context, txs []*types.SignedTransaction, correlationID string, mode config.BroadcastMode) (solana.Signature, error) {
	return s.Send(ctx, txs, correlationID)
}

// stubBuilder returns one signed transaction per call, keyed by slotIndex
// so fan-out transactions remain distinguishable.
type stubBuilder struct{}

func (stubBuilder) BuildBuy(ctx context.Context, c types.PremintCandidate, cfg txbuilder.BuildConfig, blockhash *types.Blockhash, slotIndex int) (*types.SignedTransaction, error) {
	return &types.SignedTransaction{SlotIndex: slotIndex, Tx: &solana.Transaction{}, BuiltAt: time.Now()}, nil
}

func (stubBuilder) BuildSell(ctx context.Context, mint types.Pubkey, percent float64, cfg txbuilder.BuildConfig, blockhash *types.Blockhash, slotIndex int) (*types.SignedTransaction, error) {
	return &types.SignedTransaction{SlotIndex: slotIndex, Tx: &solana.Transaction{}, BuiltAt: time.Now()}, nil
}

func testEngineCfg() config.EngineConfig {
	return config.EngineConfig{
		NonceCount:           3,
		CandidateTTL:         time.Minute,
		CandidateBufferSize:  16,
		RateLimitWindow:      time.Minute,
		RateLimitMaxAttempts: 5,
	}
}

func pumpFunCandidate(seed byte) types.PremintCandidate {
	var mint solana.PublicKey
	mint[0] = seed
	return types.PremintCandidate{Mint: mint, Program: "pump.fun"}
}

func newTestEngine(t *testing.T, sender *stubSender, candidates chan types.PremintCandidate, sells chan SellRequest) *Engine {
	t.Helper()
	buf := candidate.New(time.Minute, 16)
	slots := slotlease.New(3)
	return New(testEngineCfg(), txbuilder.BuildConfig{}, buf, slots, sender, stubBuilder{}, candidates, sells)
}

func TestHappyPathBuyThenFullSell(t *testing.T) {
	var sig solana.Signature
	sig[0] = 9
	sender := &stubSender{sig: sig}

	candidates := make(chan types.PremintCandidate, 4)
	sells := make(chan SellRequest, 1)
	e := newTestEngine(t, sender, candidates, sells)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	candidates <- pumpFunCandidate(1)

	require.Eventually(t, func() bool {
		return e.State().Mode == types.ModePassiveToken
	}, time.Second, 5*time.Millisecond)

	st := e.State()
	assert.Equal(t, 1.0, st.HoldingsPercent)
	require.NotNil(t, st.LastBuyPrice)

	result := make(chan error, 1)
	sells <- SellRequest{Percent: 1.0, Result: result}
	require.NoError(t, <-result)

	require.Eventually(t, func() bool {
		return e.State().Mode == types.ModeSniffing
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, e.State().ActiveToken)
}

func TestFilteredCandidateNeverReachesBroadcaster(t *testing.T) {
	sender := &stubSender{err: errors.New("must not be called")}
	candidates := make(chan types.PremintCandidate, 1)
	sells := make(chan SellRequest, 1)
	e := newTestEngine(t, sender, candidates, sells)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	candidates <- types.PremintCandidate{Mint: solana.NewWallet().PublicKey(), Program: "other"}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, types.ModeSniffing, e.State().Mode)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 0, sender.calls, "filtered candidate must not reach the broadcaster")
}

func TestRateLimitingRejectsSixthAttempt(t *testing.T) {
	sender := &stubSender{err: errors.New("broadcast always fails")}
	candidates := make(chan types.PremintCandidate, 8)
	sells := make(chan SellRequest, 1)

	buf := candidate.New(time.Millisecond, 16) // tiny TTL: each push/pop cycle is independent, same mint allowed to re-enter
	slots := slotlease.New(3)
	e := New(testEngineCfg(), txbuilder.BuildConfig{}, buf, slots, sender, stubBuilder{}, candidates, sells)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	mint := solana.NewWallet().PublicKey()
	for i := 0; i < 6; i++ {
		candidates <- types.PremintCandidate{Mint: mint, Program: "pump.fun"}
		time.Sleep(pollInterval + 20*time.Millisecond)
	}

	assert.Equal(t, types.ModeSniffing, e.State().Mode)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 5, sender.calls, "only the first 5 attempts may reach the broadcaster; the 6th is rate limited")
}

func TestEarlyCancelOnStaleBlockhashKeepsEngineSniffing(t *testing.T) {
	sender := &stubSender{err: errors.New("blockhash not found")}
	candidates := make(chan types.PremintCandidate, 1)
	sells := make(chan SellRequest, 1)
	e := newTestEngine(t, sender, candidates, sells)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	candidates <- pumpFunCandidate(2)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, types.ModeSniffing, e.State().Mode)
	assert.Equal(t, 3, e.slots.Capacity())
	assert.Equal(t, 0, e.slots.Outstanding(), "leases must be released even on broadcast failure")
}

func TestSellWhileSniffingFailsFast(t *testing.T) {
	sender := &stubSender{}
	candidates := make(chan types.PremintCandidate, 1)
	sells := make(chan SellRequest, 1)
	e := newTestEngine(t, sender, candidates, sells)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	result := make(chan error, 1)
	sells <- SellRequest{Percent: 0.5, Result: result}
	err := <-result
	assert.Error(t, err)
}

func TestSoftSuccessSignaturePropagatesAsBuySuccess(t *testing.T) {
	sender := &stubSender{sig: types.NewSoftSuccessSignature(2)}
	candidates := make(chan types.PremintCandidate, 1)
	sells := make(chan SellRequest, 1)
	e := newTestEngine(t, sender, candidates, sells)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	candidates <- pumpFunCandidate(4)

	require.Eventually(t, func() bool {
		return e.State().Mode == types.ModePassiveToken
	}, time.Second, 5*time.Millisecond)

	st := e.State()
	assert.Equal(t, 1.0, st.HoldingsPercent)
	assert.True(t, types.IsSoftSuccess(sender.sig))
	assert.Equal(t, byte(0xFF), sender.sig[1])
}

// prefetchBuilder records the blockhash each BuildBuy receives and serves
// the engine's optional prefetch capability.
type prefetchBuilder struct {
	stubBuilder
	mu       sync.Mutex
	fetchErr error
	fetches  int
	gotHash  []*types.Blockhash
}

func (p *prefetchBuilder) RecentBlockhash(ctx context.Context) (types.Blockhash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.fetchErr != nil {
		return types.Blockhash{}, p.fetchErr
	}
	var hash types.Blockhash
	hash[0] = 7
	return hash, nil
}

func (p *prefetchBuilder) BuildBuy(ctx context.Context, c types.PremintCandidate, cfg txbuilder.BuildConfig, blockhash *types.Blockhash, slotIndex int) (*types.SignedTransaction, error) {
	p.mu.Lock()
	p.gotHash = append(p.gotHash, blockhash)
	p.mu.Unlock()
	return p.stubBuilder.BuildBuy(ctx, c, cfg, blockhash, slotIndex)
}

func TestBuyAttemptPrefetchesOneBlockhashForWholeBatch(t *testing.T) {
	var sig solana.Signature
	sig[0] = 3
	sender := &stubSender{sig: sig}
	builder := &prefetchBuilder{}

	buf := candidate.New(time.Minute, 16)
	slots := slotlease.New(3)
	e := New(testEngineCfg(), txbuilder.BuildConfig{}, buf, slots, sender, builder, nil, nil)

	_, _, err := e.buyAttempt(context.Background(), pumpFunCandidate(5), "corr-prefetch")
	require.NoError(t, err)

	builder.mu.Lock()
	defer builder.mu.Unlock()
	assert.Equal(t, 1, builder.fetches, "one fetch must cover the whole batch")
	require.Len(t, builder.gotHash, 3)
	for _, h := range builder.gotHash {
		require.NotNil(t, h)
		assert.Equal(t, byte(7), h[0])
	}
}

func TestBuyAttemptToleratesBlockhashPrefetchFailure(t *testing.T) {
	var sig solana.Signature
	sig[0] = 3
	sender := &stubSender{sig: sig}
	builder := &prefetchBuilder{fetchErr: errors.New("rpc pool exhausted")}

	buf := candidate.New(time.Minute, 16)
	slots := slotlease.New(3)
	e := New(testEngineCfg(), txbuilder.BuildConfig{}, buf, slots, sender, builder, nil, nil)

	_, _, err := e.buyAttempt(context.Background(), pumpFunCandidate(6), "corr-prefetch-fail")
	require.NoError(t, err, "prefetch failure must not fail the attempt")

	builder.mu.Lock()
	defer builder.mu.Unlock()
	for _, h := range builder.gotHash {
		assert.Nil(t, h, "builder must be left to acquire its own blockhash")
	}
}

func TestBuyAttemptMedianLatencyWithFastBroadcaster(t *testing.T) {
	var sig solana.Signature
	sig[0] = 8
	sender := &stubSender{sig: sig, delay: time.Millisecond}

	buf := candidate.New(time.Minute, 16)
	slots := slotlease.New(5)
	cfg := testEngineCfg()
	cfg.NonceCount = 5
	e := New(cfg, txbuilder.BuildConfig{}, buf, slots, sender, stubBuilder{}, nil, nil)

	const runs = 9
	durations := make([]time.Duration, runs)
	for i := 0; i < runs; i++ {
		start := time.Now()
		_, _, err := e.buyAttempt(context.Background(), pumpFunCandidate(byte(10+i)), "corr-smoke")
		require.NoError(t, err)
		durations[i] = time.Since(start)
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	assert.Less(t, durations[runs/2], 50*time.Millisecond, "median buy attempt must stay under the smoke target")
}

func TestClampKeepsHoldingsInRange(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1, 0, 1))
	assert.Equal(t, 1.0, clamp(2, 0, 1))
	assert.Equal(t, 0.5, clamp(0.5, 0, 1))
}
