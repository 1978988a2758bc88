// Package txbuilder defines the contract the execution engine consumes
// to materialize signed, wire-ready Solana transactions, and a production
// implementation of it.
//
// Wallet signing is an external collaborator; SolanaBuilder only
// consumes it through the narrow Signer capability below rather than
// implementing key management itself.
package txbuilder

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/memo"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solraceio/sniper/types"
)

const (
	blockhashTTL          = 15 * time.Second
	blockhashFetchTimeout = 2 * time.Second

	knownProgramPumpFun = "pump.fun"
	bondingCurveSeed    = "bonding-curve"

	computeBudgetSetComputeUnitLimit = byte(2)
	computeBudgetSetComputeUnitPrice = byte(3)

	// pumpFunSellDiscriminator is a placeholder instruction tag pending a
	// vendored pump.fun IDL; the real program's discriminator is an
	// 8-byte anchor sighash this module does not have access to.
	pumpFunSellDiscriminator = byte(0xA5)
)

var (
	computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	pumpFunProgramID       = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
)

// Signer is the external wallet-signing collaborator. BuildBuy/BuildSell
// consume it only through this capability; it is not implemented here.
type Signer interface {
	PublicKey() solana.PublicKey
	SignTransaction(tx *solana.Transaction) error
}

// BuildConfig carries the per-attempt parameters the engine supplies.
type BuildConfig struct {
	LamportsPerBuy                    uint64
	ComputeUnitLimit                  uint32
	BaseComputeUnitPriceMicroLamports uint64
}

// Builder is the capability the execution engine consumes to turn a
// candidate (or an existing mint, for a sell) into a signed transaction.
// Implementations MUST produce transactions that differ across distinct
// slotIndex values so a K-wide fan-out races K genuinely distinct
// transactions rather than K copies of one.
type Builder interface {
	BuildBuy(ctx context.Context, candidate types.PremintCandidate, cfg BuildConfig, blockhash *types.Blockhash, slotIndex int) (*types.SignedTransaction, error)
	BuildSell(ctx context.Context, mint types.Pubkey, percent float64, cfg BuildConfig, blockhash *types.Blockhash, slotIndex int) (*types.SignedTransaction, error)
}

// SolanaBuilder is the production Builder: it composes solana-go
// instruction builders with a compute-budget prelude and a memo fallback
// for programs it does not recognize, and caches the latest blockhash
// (TTL ≤ 15s) behind a rotating pool of RPC clients.
type SolanaBuilder struct {
	signer  Signer
	clients []*rpc.Client

	cacheMu    sync.Mutex
	cachedHash types.Blockhash
	cachedAt   time.Time
	nextClient int
}

// NewSolanaBuilder constructs a builder that signs with signer and
// refreshes blockhashes from the given RPC endpoints in rotation.
func NewSolanaBuilder(signer Signer, endpoints []string) *SolanaBuilder {
	clients := make([]*rpc.Client, len(endpoints))
	for i, ep := range endpoints {
		clients[i] = rpc.New(ep)
	}
	return &SolanaBuilder{signer: signer, clients: clients}
}

// BuildBuy materializes a signed buy transaction for candidate, racing
// slotIndex into the compute-unit price so concurrently built
// transactions for the same candidate are distinguishable on-chain.
func (b *SolanaBuilder) BuildBuy(ctx context.Context, candidate types.PremintCandidate, cfg BuildConfig, blockhash *types.Blockhash, slotIndex int) (*types.SignedTransaction, error) {
	hash, err := b.resolveBlockhash(ctx, blockhash)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build buy: %w", err)
	}

	instructions := []solana.Instruction{
		computeUnitLimitInstruction(cfg.ComputeUnitLimit),
		computeUnitPriceInstruction(cfg.BaseComputeUnitPriceMicroLamports + uint64(slotIndex)),
	}

	programIx, err := buildProgramInstruction(candidate.Program, candidate.Mint, b.signer.PublicKey(), cfg.LamportsPerBuy, slotIndex)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build buy: %w", err)
	}
	instructions = append(instructions, programIx)

	return b.finalize(instructions, hash, slotIndex)
}

// BuildSell materializes a signed sell transaction reducing the held
// position in mint by percent.
func (b *SolanaBuilder) BuildSell(ctx context.Context, mint types.Pubkey, percent float64, cfg BuildConfig, blockhash *types.Blockhash, slotIndex int) (*types.SignedTransaction, error) {
	hash, err := b.resolveBlockhash(ctx, blockhash)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build sell: %w", err)
	}

	instructions := []solana.Instruction{
		computeUnitLimitInstruction(cfg.ComputeUnitLimit),
		computeUnitPriceInstruction(cfg.BaseComputeUnitPriceMicroLamports + uint64(slotIndex)),
	}

	sellIx, err := buildSellInstruction(mint, b.signer.PublicKey(), percent)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build sell: %w", err)
	}
	instructions = append(instructions, sellIx)

	return b.finalize(instructions, hash, slotIndex)
}

func (b *SolanaBuilder) finalize(instructions []solana.Instruction, hash types.Blockhash, slotIndex int) (*types.SignedTransaction, error) {
	tx, err := solana.NewTransaction(instructions, hash, solana.TransactionPayer(b.signer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("txbuilder: assemble transaction: %w", err)
	}
	if err := b.signer.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("txbuilder: sign transaction: %w", err)
	}
	return &types.SignedTransaction{SlotIndex: slotIndex, Tx: tx, BuiltAt: time.Now()}, nil
}

// buildProgramInstruction builds the program-specific leg of a buy for a
// recognized launch program, or a memo fallback for anything else.
//
// The pump.fun leg models the buy as a system-program SOL transfer into
// the mint's bonding-curve PDA; a production integration would substitute
// the full pump.fun anchor instruction set once its IDL is vendored.
func buildProgramInstruction(program string, mint, buyer solana.PublicKey, lamports uint64, slotIndex int) (solana.Instruction, error) {
	switch program {
	case knownProgramPumpFun:
		bondingCurve, _, err := deriveBondingCurve(mint)
		if err != nil {
			return nil, fmt.Errorf("derive bonding curve for mint %s: %w", mint, err)
		}
		return system.NewTransferInstruction(lamports, buyer, bondingCurve).Build(), nil
	default:
		text := fmt.Sprintf("sniper:buy:unrecognized_program=%s:mint=%s:slot=%d", program, mint, slotIndex)
		return memo.NewMemoInstruction([]byte(text), buyer).Build(), nil
	}
}

// buildSellInstruction builds the pump.fun sell leg. Account layout and
// discriminator are placeholders pending a vendored IDL (see
// pumpFunSellDiscriminator); callers needing exact on-chain behavior must
// swap this for the real anchor-generated instruction.
func buildSellInstruction(mint, owner solana.PublicKey, percent float64) (solana.Instruction, error) {
	bondingCurve, _, err := deriveBondingCurve(mint)
	if err != nil {
		return nil, fmt.Errorf("derive bonding curve for mint %s: %w", mint, err)
	}

	data := make([]byte, 9)
	data[0] = pumpFunSellDiscriminator
	binary.LittleEndian.PutUint64(data[1:], uint64(percent*1e9))

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(bondingCurve, true, false),
		solana.NewAccountMeta(owner, false, true),
	}
	return solana.NewInstruction(pumpFunProgramID, accounts, data), nil
}

func deriveBondingCurve(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(bondingCurveSeed), mint.Bytes()}, pumpFunProgramID)
}

func computeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func computeUnitPriceInstruction(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = computeBudgetSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// RecentBlockhash returns a blockhash no older than the cache TTL,
// refreshing from the rotating client pool when stale. It satisfies the
// engine's optional prefetch capability so a K-wide buy batch shares one
// fetch instead of racing K of them.
func (b *SolanaBuilder) RecentBlockhash(ctx context.Context) (types.Blockhash, error) {
	return b.resolveBlockhash(ctx, nil)
}

// resolveBlockhash returns override if given, otherwise the cached
// blockhash, refreshing it if older than blockhashTTL.
func (b *SolanaBuilder) resolveBlockhash(ctx context.Context, override *types.Blockhash) (types.Blockhash, error) {
	if override != nil {
		return *override, nil
	}

	b.cacheMu.Lock()
	fresh := !b.cachedAt.IsZero() && time.Since(b.cachedAt) < blockhashTTL
	hash := b.cachedHash
	b.cacheMu.Unlock()
	if fresh {
		return hash, nil
	}
	return b.refreshBlockhash(ctx)
}

func (b *SolanaBuilder) refreshBlockhash(ctx context.Context) (types.Blockhash, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	if len(b.clients) == 0 {
		return types.Blockhash{}, fmt.Errorf("txbuilder: no rpc clients configured for blockhash refresh")
	}

	var lastErr error
	for attempt := 0; attempt < len(b.clients); attempt++ {
		client := b.clients[b.nextClient]
		b.nextClient = (b.nextClient + 1) % len(b.clients)

		callCtx, cancel := context.WithTimeout(ctx, blockhashFetchTimeout)
		res, err := client.GetLatestBlockhash(callCtx, rpc.CommitmentConfirmed)
		cancel()
		if err == nil {
			b.cachedHash = res.Value.Blockhash
			b.cachedAt = time.Now()
			return b.cachedHash, nil
		}
		lastErr = err
		log.Debug("txbuilder: blockhash fetch failed, rotating client", "attempt", attempt, "err", err)
		time.Sleep(blockhashRetryBackoff(attempt))
	}
	return types.Blockhash{}, fmt.Errorf("txbuilder: exhausted rpc clients fetching blockhash: %w", lastErr)
}

func blockhashRetryBackoff(attempt int) time.Duration {
	return time.Duration(50*(attempt+1)) * time.Millisecond
}
