// Package engine implements the execution engine: the single long-lived
// state machine that consumes candidates, drives the slot manager,
// builder and broadcaster, and owns the process-wide AppState.
//
// The engine polls its input channels on a short interval so it can
// periodically re-check state even when idle, holds the state mutex only
// across field updates, and drives each buy attempt through a
// validate-acquire-build-broadcast-release pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"github.com/solraceio/sniper/candidate"
	"github.com/solraceio/sniper/config"
	"github.com/solraceio/sniper/metrics"
	"github.com/solraceio/sniper/slotlease"
	"github.com/solraceio/sniper/txbuilder"
	"github.com/solraceio/sniper/types"
)

// epsilon is the machine-epsilon threshold below which holdings are
// treated as fully exited.
const epsilon = 2.220446049250313e-16

// pollInterval bounds how long the engine waits on the candidate/sell
// channels before re-checking state, per the "short receive timeout" rule.
const pollInterval = 200 * time.Millisecond

// duplicateSignatureWindow bounds how long a completed signature is
// remembered for the non-blocking duplicate-signature metric.
const duplicateSignatureWindow = 5 * time.Minute

// blockhashPrefetchTimeout bounds the optional recent-blockhash fetch at
// the start of a buy attempt. Prefetch failure is tolerated: the builder
// falls back to its own blockhash acquisition.
const blockhashPrefetchTimeout = 2 * time.Second

// BlockhashProvider is optionally implemented by builders that can serve
// a recent blockhash up front, letting the engine fetch once per buy
// attempt instead of once per built transaction.
type BlockhashProvider interface {
	RecentBlockhash(ctx context.Context) (types.Blockhash, error)
}

// Sender is the broadcaster capability the engine consumes.
type Sender interface {
	Send(ctx context.Context, txs []*types.SignedTransaction, correlationID string) (solana.Signature, error)
	SendWithPolicy(ctx context.Context, txs []*types.SignedTransaction, correlationID string, mode config.BroadcastMode) (solana.Signature, error)
}

// SellRequest is an operator control-channel event: sell percent of the
// current position. Result, if non-nil, receives the outcome.
type SellRequest struct {
	Percent float64
	Result  chan<- error
}

// Engine is the single owner of types.AppState. Construct with New and
// run with Run from exactly one goroutine.
type Engine struct {
	cfg      config.EngineConfig
	buildCfg txbuilder.BuildConfig

	buffer      *candidate.Buffer
	slots       *slotlease.Manager
	broadcaster Sender
	builder     txbuilder.Builder

	candidates <-chan types.PremintCandidate
	sells      <-chan SellRequest

	stateMu sync.Mutex
	state   types.AppState

	rateMu   sync.Mutex
	limiters map[types.Pubkey]*rate.Limiter

	sigMu sync.Mutex
	seen  map[types.Signature]time.Time

	corrMu  sync.Mutex
	corrSeq uint64
}

// New constructs an engine. candidates and sells are the external
// producer/operator channels named in the external interfaces.
func New(cfg config.EngineConfig, buildCfg txbuilder.BuildConfig, buffer *candidate.Buffer, slots *slotlease.Manager, broadcaster Sender, builder txbuilder.Builder, candidates <-chan types.PremintCandidate, sells <-chan SellRequest) *Engine {
	return &Engine{
		cfg:         cfg,
		buildCfg:    buildCfg,
		buffer:      buffer,
		slots:       slots,
		broadcaster: broadcaster,
		builder:     builder,
		candidates:  candidates,
		sells:       sells,
		limiters:    make(map[types.Pubkey]*rate.Limiter),
		seen:        make(map[types.Signature]time.Time),
	}
}

// State returns a consistent snapshot of the process-wide state.
func (e *Engine) State() types.AppState {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Run drives the engine until ctx is cancelled or the candidate channel
// closes. It owns the candidate channel receiver and the AppState mutex
// and must be called from exactly one goroutine.
func (e *Engine) Run(ctx context.Context) {
	log.Info("engine: starting", "nonce_count", e.cfg.NonceCount, "candidate_ttl", e.cfg.CandidateTTL)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("engine: context cancelled, shutting down")
			return

		case c, ok := <-e.candidates:
			if !ok {
				log.Info("engine: candidate channel closed, shutting down")
				return
			}
			e.ingestCandidate(c)
			e.tick(ctx)

		case sr, ok := <-e.sells:
			if !ok {
				log.Info("engine: operator control channel closed")
				e.sells = nil
				continue
			}
			err := e.handleSell(ctx, sr.Percent)
			if sr.Result != nil {
				sr.Result <- err
			}

		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// ingestCandidate pushes c into the buffer while Sniffing; while
// PassiveToken it is drained and discarded so the sniffer never
// back-pressures on a position the engine isn't acting on.
func (e *Engine) ingestCandidate(c types.PremintCandidate) {
	if e.mode() != types.ModeSniffing {
		return
	}
	e.buffer.Push(c)
	metrics.CandidateBufferGauge.Update(int64(e.buffer.Len()))
}

// tick pops and processes the oldest staged candidate, if any, while
// Sniffing. It runs immediately after each ingestion and again on the
// poll interval, which doubles as the periodic state re-check.
func (e *Engine) tick(ctx context.Context) {
	if e.mode() != types.ModeSniffing {
		return
	}
	c, ok := e.buffer.PopBest()
	if !ok {
		return
	}
	e.processCandidate(ctx, c)
}

func (e *Engine) mode() types.Mode {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state.Mode
}

// processCandidate runs the security/filter predicates and, on
// acceptance, the buy attempt.
func (e *Engine) processCandidate(ctx context.Context, c types.PremintCandidate) {
	correlationID := e.nextCorrelationID()

	if !wellFormedMint(c.Mint) {
		metrics.BuyAttemptsSecurityRejected.Mark(1)
		log.Debug("engine: rejected malformed mint", "correlation", correlationID)
		return
	}
	if !e.allowMint(c.Mint) {
		metrics.BuyAttemptsRateLimitedMeter.Mark(1)
		log.Debug("engine: rate limited", "correlation", correlationID, "mint", c.Mint)
		return
	}
	if c.Program != "pump.fun" {
		metrics.BuyAttemptsFilteredMeter.Mark(1)
		log.Debug("engine: filtered candidate", "correlation", correlationID, "program", c.Program)
		return
	}

	metrics.BuyAttemptsTotalMeter.Mark(1)
	start := time.Now()
	sig, price, err := e.buyAttempt(ctx, c, correlationID)
	metrics.TimeBuyAttempt(start)
	if err != nil {
		metrics.BuyFailureTotalMeter.Mark(1)
		log.Warn("engine: buy attempt failed", "correlation", correlationID, "mint", c.Mint, "err", err)
		return
	}

	metrics.BuySuccessTotalMeter.Mark(1)
	e.checkDuplicateSignature(sig, correlationID)

	candidateCopy := c
	e.setState(func(s *types.AppState) {
		s.Mode = types.ModePassiveToken
		s.ActiveToken = &candidateCopy
		s.LastBuyPrice = &price
		s.HoldingsPercent = 1.0
		s.HoldingsMint = c.Mint
	})
	metrics.HoldingsPercentGauge.Update(1.0)
	log.Info("engine: buy succeeded, entering passive_token", "correlation", correlationID, "mint", c.Mint, "signature", sig)
}

// buyAttempt acquires up to K slots, builds one distinguishable
// transaction per lease, races them, and returns on first success.
// Leases are always released before returning.
func (e *Engine) buyAttempt(ctx context.Context, c types.PremintCandidate, correlationID string) (solana.Signature, float64, error) {
	leases, err := e.slots.AcquireN(ctx, e.cfg.NonceCount)
	if err != nil || len(leases) == 0 {
		return solana.Signature{}, 0, fmt.Errorf("acquire slot leases: %w", err)
	}
	metrics.SlotLeasesHeldGauge.Update(int64(e.slots.Outstanding()))
	defer func() {
		for _, l := range leases {
			l.Release()
		}
		metrics.SlotLeasesHeldGauge.Update(int64(e.slots.Outstanding()))
	}()

	blockhash := e.prefetchBlockhash(ctx, correlationID)

	txs := make([]*types.SignedTransaction, 0, len(leases))
	for _, l := range leases {
		tx, err := e.builder.BuildBuy(ctx, c, e.buildCfg, blockhash, l.Index)
		if err != nil {
			log.Debug("engine: builder failed for lease", "correlation", correlationID, "slot_index", l.Index, "err", err)
			continue
		}
		txs = append(txs, tx)
	}
	if len(txs) == 0 {
		return solana.Signature{}, 0, errors.New("builder produced zero transactions from acquired leases")
	}

	sig, err := e.broadcaster.Send(ctx, txs, correlationID)
	if err != nil {
		return solana.Signature{}, 0, fmt.Errorf("broadcast: %w", err)
	}
	return sig, quote(c), nil
}

// prefetchBlockhash fetches one recent blockhash for the whole buy batch
// when the builder offers one. Returns nil on failure or when the builder
// has no provider capability; the builder then acquires its own.
func (e *Engine) prefetchBlockhash(ctx context.Context, correlationID string) *types.Blockhash {
	provider, ok := e.builder.(BlockhashProvider)
	if !ok {
		return nil
	}
	hashCtx, cancel := context.WithTimeout(ctx, blockhashPrefetchTimeout)
	defer cancel()
	hash, err := provider.RecentBlockhash(hashCtx)
	if err != nil {
		log.Debug("engine: blockhash prefetch failed, builder will fall back", "correlation", correlationID, "err", err)
		return nil
	}
	return &hash
}

// handleSell reduces the held position in the active mint by percent,
// transitioning back to Sniffing once holdings reach zero.
func (e *Engine) handleSell(ctx context.Context, percent float64) error {
	metrics.SellAttemptsTotalMeter.Mark(1)
	start := time.Now()
	defer metrics.TimeSellAttempt(start)

	percent = clamp(percent, 0, 1)

	e.stateMu.Lock()
	if e.state.Mode != types.ModePassiveToken || e.state.ActiveToken == nil {
		e.stateMu.Unlock()
		metrics.SellFailureTotalMeter.Mark(1)
		return errors.New("engine: not in passive_token mode")
	}
	mint := e.state.ActiveToken.Mint
	current := e.state.HoldingsPercent
	e.stateMu.Unlock()

	newHoldings := clamp(current*(1-percent), 0, 1)
	if math.IsNaN(newHoldings) || math.IsInf(newHoldings, 0) {
		metrics.SellFailureTotalMeter.Mark(1)
		return fmt.Errorf("engine: sell computed non-finite holdings percent: %v", newHoldings)
	}

	correlationID := e.nextCorrelationID()
	lease, err := e.slots.Acquire(ctx)
	if err != nil {
		metrics.SellFailureTotalMeter.Mark(1)
		return fmt.Errorf("engine: acquire slot for sell: %w", err)
	}
	defer lease.Release()

	tx, err := e.builder.BuildSell(ctx, mint, percent, e.buildCfg, nil, lease.Index)
	if err != nil {
		metrics.SellFailureTotalMeter.Mark(1)
		return fmt.Errorf("engine: build sell transaction: %w", err)
	}

	sig, err := e.broadcaster.SendWithPolicy(ctx, []*types.SignedTransaction{tx}, correlationID, config.ReplicateSingle)
	if err != nil {
		metrics.SellFailureTotalMeter.Mark(1)
		return fmt.Errorf("engine: broadcast sell: %w", err)
	}
	e.checkDuplicateSignature(sig, correlationID)

	e.setState(func(s *types.AppState) {
		s.HoldingsPercent = newHoldings
		s.HoldingsMint = mint
		if newHoldings <= epsilon {
			s.Mode = types.ModeSniffing
			s.ActiveToken = nil
			s.LastBuyPrice = nil
			s.HoldingsPercent = 0
			s.HoldingsMint = types.Pubkey{}
		}
	})
	metrics.HoldingsPercentGauge.Update(newHoldings)
	metrics.SellSuccessTotalMeter.Mark(1)
	log.Info("engine: sell succeeded", "correlation", correlationID, "mint", mint, "new_holdings_percent", newHoldings, "signature", sig)
	return nil
}

// setState mutates state under the lock and asserts the engine's core
// invariant did not break, failing loudly (a slot-manager-style
// programming error) rather than silently persisting a bad state.
func (e *Engine) setState(mutate func(*types.AppState)) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	mutate(&e.state)
	if !e.state.Invariant() {
		panic(fmt.Sprintf("engine: AppState invariant violated: %+v", e.state))
	}
}

// checkDuplicateSignature is a non-blocking metric only; it never
// affects engine state.
func (e *Engine) checkDuplicateSignature(sig solana.Signature, correlationID string) {
	now := time.Now()
	e.sigMu.Lock()
	defer e.sigMu.Unlock()

	for s, seenAt := range e.seen {
		if now.Sub(seenAt) >= duplicateSignatureWindow {
			delete(e.seen, s)
		}
	}

	if _, dup := e.seen[sig]; dup {
		metrics.DuplicateSignatureMeter.Mark(1)
		log.Debug("engine: duplicate signature observed", "correlation", correlationID, "signature", sig)
	}
	e.seen[sig] = now
}

func (e *Engine) allowMint(mint types.Pubkey) bool {
	e.rateMu.Lock()
	lim, ok := e.limiters[mint]
	if !ok {
		ratePerSec := float64(e.cfg.RateLimitMaxAttempts) / e.cfg.RateLimitWindow.Seconds()
		lim = rate.NewLimiter(rate.Limit(ratePerSec), e.cfg.RateLimitMaxAttempts)
		e.limiters[mint] = lim
	}
	e.rateMu.Unlock()
	return lim.Allow()
}

func (e *Engine) nextCorrelationID() string {
	e.corrMu.Lock()
	defer e.corrMu.Unlock()
	e.corrSeq++
	return fmt.Sprintf("sniper-%d-%d", time.Now().UnixNano(), e.corrSeq)
}

func wellFormedMint(m types.Pubkey) bool {
	var zero types.Pubkey
	return m != zero
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// quote is a placeholder for price discovery, which this engine does not
// implement. A production deployment supplies a real quote source
// through a capability the engine would consume the same way it
// consumes Sender and txbuilder.Builder.
func quote(_ types.PremintCandidate) float64 {
	return 0
}
