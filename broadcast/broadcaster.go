// Package broadcast races signed transactions across a set of Solana RPC
// endpoints and returns the first successful submission signature.
//
// Per-endpoint RPC clients are cached for process lifetime behind a
// double-checked lock, and each send fans out one goroutine per
// (transaction, endpoint) pair into a result channel that the caller
// drains until the first success or an early-cancel threshold is
// reached, cancelling the remaining sends either way.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solraceio/sniper/config"
	"github.com/solraceio/sniper/metrics"
	"github.com/solraceio/sniper/types"
)

// rpcClient is the slice of *rpc.Client the broadcaster actually uses,
// narrowed to a capability interface so tests can substitute a fake
// without spinning up a real JSON-RPC server.
type rpcClient interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// newRPCClient is a package variable so tests can stub it out.
var newRPCClient = func(endpoint string) rpcClient {
	return rpc.New(endpoint)
}

const maxRetries = uint(3)

// Broadcaster races signed transactions across RPC endpoints.
type Broadcaster struct {
	cfg config.BroadcasterConfig

	clientsMu sync.RWMutex
	clients   map[string]rpcClient

	metricsMu sync.RWMutex
	endpoints map[string]*EndpointMetrics
}

// New creates a broadcaster for the given (already-validated) config.
func New(cfg config.BroadcasterConfig) *Broadcaster {
	b := &Broadcaster{
		cfg:       cfg,
		clients:   make(map[string]rpcClient, len(cfg.Endpoints)),
		endpoints: make(map[string]*EndpointMetrics, len(cfg.Endpoints)),
	}
	for _, ep := range cfg.Endpoints {
		b.endpoints[ep] = &EndpointMetrics{}
	}
	return b
}

// clientFor returns the cached client for endpoint, constructing it
// under a write lock on first use (double-checked to avoid serializing
// every send behind client construction).
func (b *Broadcaster) clientFor(endpoint string) rpcClient {
	b.clientsMu.RLock()
	c, ok := b.clients[endpoint]
	b.clientsMu.RUnlock()
	if ok {
		return c
	}

	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()
	if c, ok := b.clients[endpoint]; ok {
		return c
	}
	c = newRPCClient(endpoint)
	b.clients[endpoint] = c
	return c
}

// EndpointSnapshot returns the observable metrics for every configured
// endpoint, for external dashboards and tests.
func (b *Broadcaster) EndpointSnapshot() map[string]Snapshot {
	out := make(map[string]Snapshot, len(b.endpoints))
	for ep, m := range b.endpoints {
		out[ep] = m.Snapshot()
	}
	return out
}

// rankedEndpoints returns b.cfg.Endpoints ordered best-score-first.
func (b *Broadcaster) rankedEndpoints() []string {
	snaps := make([]Snapshot, len(b.cfg.Endpoints))
	for i, ep := range b.cfg.Endpoints {
		snaps[i] = b.endpoints[ep].Snapshot()
	}
	order := rankEndpoints(snaps)
	ranked := make([]string, len(order))
	for i, idx := range order {
		ranked[i] = b.cfg.Endpoints[idx]
	}
	return ranked
}

// pair is one (transaction, endpoint) dispatch unit.
type pair struct {
	txIndex  int
	endpoint string
}

// buildPairs maps txCount transactions onto the ranked endpoint list
// according to the configured broadcast policy.
func buildPairs(mode config.BroadcastMode, txCount int, ranked []string) []pair {
	if txCount == 0 || len(ranked) == 0 {
		return nil
	}

	switch mode {
	case config.ReplicateSingle:
		pairs := make([]pair, len(ranked))
		for i, ep := range ranked {
			pairs[i] = pair{txIndex: 0, endpoint: ep}
		}
		return pairs

	case config.RoundRobin:
		pairs := make([]pair, txCount)
		for i := 0; i < txCount; i++ {
			pairs[i] = pair{txIndex: i, endpoint: ranked[i%len(ranked)]}
		}
		return pairs

	case config.FullFanout:
		pairs := make([]pair, 0, txCount*len(ranked))
		for i := 0; i < txCount; i++ {
			for _, ep := range ranked {
				pairs = append(pairs, pair{txIndex: i, endpoint: ep})
			}
		}
		return pairs

	case config.Pairwise:
		fallthrough
	default:
		k := txCount
		if len(ranked) < k {
			k = len(ranked)
		}
		pairs := make([]pair, k)
		for i := 0; i < k; i++ {
			pairs[i] = pair{txIndex: i, endpoint: ranked[i]}
		}
		return pairs
	}
}

// sendResult is what one (tx, endpoint) goroutine reports back.
type sendResult struct {
	sig      solana.Signature
	err      *ClassifiedError
	endpoint string
}

// Send races the given transactions across the broadcaster's endpoints
// using the broadcaster's configured default policy. correlationID is
// carried through every log line for post-hoc tracing.
func (b *Broadcaster) Send(ctx context.Context, txs []*types.SignedTransaction, correlationID string) (solana.Signature, error) {
	return b.SendWithPolicy(ctx, txs, correlationID, b.cfg.BroadcastMode)
}

// SendWithPolicy races txs using an explicit policy, overriding the
// broadcaster's configured default for this call only. The sell path
// uses this to force ReplicateSingle regardless of the buy-side policy.
func (b *Broadcaster) SendWithPolicy(ctx context.Context, txs []*types.SignedTransaction, correlationID string, mode config.BroadcastMode) (solana.Signature, error) {
	if len(txs) == 0 {
		return solana.Signature{}, fmt.Errorf("broadcast: no transactions to send")
	}

	ranked := b.rankedEndpoints()
	if len(ranked) == 0 {
		return solana.Signature{}, fmt.Errorf("broadcast: no endpoints configured")
	}

	pairs := buildPairs(mode, len(txs), ranked)
	log.Debug("broadcast dispatch", "correlation", correlationID, "mode", mode, "pairs", len(pairs))

	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan sendResult, len(pairs))
	var wg sync.WaitGroup
	for _, p := range pairs {
		wg.Add(1)
		go func(p pair) {
			defer wg.Done()
			sig, cerr := b.sendOne(sendCtx, txs[p.txIndex], p.endpoint, correlationID)
			results <- sendResult{sig: sig, err: cerr, endpoint: p.endpoint}
		}(p)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	fatalCount := 0
	var lastErr *ClassifiedError
	for res := range results {
		if res.err == nil {
			cancel()
			log.Info("broadcast success", "correlation", correlationID, "endpoint", res.endpoint, "signature", res.sig)
			return res.sig, nil
		}

		lastErr = res.err
		if res.err.Type.IsFatalForBatch() {
			fatalCount++
			if fatalCount >= b.cfg.EarlyCancelThreshold {
				cancel()
				metrics.EarlyCancelMeter.Mark(1)
				log.Warn("broadcast early-cancel: fatal threshold reached", "correlation", correlationID, "fatal_count", fatalCount)
				return solana.Signature{}, fmt.Errorf("broadcast: early-cancel after %d fatal errors: %w", fatalCount, res.err)
			}
		}
	}

	if lastErr == nil {
		lastErr = &ClassifiedError{Type: ErrOther, Message: "no endpoints attempted"}
	}
	return solana.Signature{}, fmt.Errorf("broadcast: all attempts failed: %w", lastErr)
}

// sendOne performs the per-send sub-procedure for a single (tx, endpoint)
// pair: skip-preflight, confirmed preflight commitment, 3 max retries,
// raced against the broadcaster's per-send timeout.
func (b *Broadcaster) sendOne(ctx context.Context, tx *types.SignedTransaction, endpoint string, correlationID string) (solana.Signature, *ClassifiedError) {
	client := b.clientFor(endpoint)
	em := b.endpoints[endpoint]

	sendCtx, cancel := context.WithTimeout(ctx, b.cfg.RPCTimeout)
	defer cancel()

	start := time.Now()
	retries := maxRetries
	sig, err := client.SendTransactionWithOpts(sendCtx, tx.Tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &retries,
	})
	latency := time.Since(start)
	metrics.TimeBroadcastSend(start)

	if err == nil {
		em.RecordSuccess(latency)
		metrics.EndpointSuccessMeter(endpoint).Mark(1)
		metrics.EndpointLatencyGauge(endpoint).Update(em.Snapshot().EMALatencyMs)
		return sig, nil
	}

	if sendCtx.Err() != nil && ctx.Err() == nil {
		// this send's own timeout fired, not an upstream cancellation
		err = fmt.Errorf("timeout after %s: %w", b.cfg.RPCTimeout, err)
	}

	cerr := classify(err)
	if cerr.Type.IsSoftSuccess() {
		// the chain already has the intended effect; ranking treats this
		// endpoint's attempt as a success, not a failure
		em.RecordSuccess(latency)
		metrics.EndpointSuccessMeter(endpoint).Mark(1)
		metrics.SoftSuccessMeter.Mark(1)
		synthetic := types.NewSoftSuccessSignature(endpointIndexOf(b.cfg.Endpoints, endpoint))
		log.Debug("broadcast soft-success", "correlation", correlationID, "endpoint", endpoint, "kind", cerr.Type)
		return synthetic, nil
	}

	em.RecordFailure(latency)
	metrics.EndpointFailureMeter(endpoint).Mark(1)
	metrics.EndpointLatencyGauge(endpoint).Update(em.Snapshot().EMALatencyMs)

	log.Debug("broadcast attempt failed", "correlation", correlationID, "endpoint", endpoint, "kind", cerr.Type, "err", cerr.Message)
	return solana.Signature{}, cerr
}

func endpointIndexOf(endpoints []string, endpoint string) int {
	for i, ep := range endpoints {
		if ep == endpoint {
			return i
		}
	}
	return 0
}
