// Package types holds the domain records shared by the candidate buffer,
// slot lease manager, broadcaster, execution engine and transaction
// builder contract.
package types

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Pubkey is a 32-byte Solana account identifier. It is an alias of
// solana.PublicKey rather than a private reimplementation, since the
// latter already provides base58 rendering, JSON marshalling and
// constant-time-friendly equality.
type Pubkey = solana.PublicKey

// Signature is a 64-byte Solana transaction signature, real or
// synthetic (see NewSoftSuccessSignature).
type Signature = solana.Signature

// Blockhash is a short-lived chain-head identifier required for
// transaction validity (TTL on the order of a minute).
type Blockhash = solana.Hash

// softSuccessMarker is byte 1 of a synthetic signature, distinguishing it
// from a real on-chain signature (spec: real signatures have byte 1
// drawn uniformly, so collision probability is ~2^-8 * 2^-488).
const softSuccessMarker = 0xFF

// NewSoftSuccessSignature encodes a synthetic confirmation identifier
// for a soft-success broadcaster outcome (AlreadyProcessed,
// DuplicateSignature): byte 0 is the endpoint index, byte 1 is the
// 0xFF marker, the rest are zero.
func NewSoftSuccessSignature(endpointIndex int) Signature {
	var sig Signature
	sig[0] = byte(endpointIndex)
	sig[1] = softSuccessMarker
	return sig
}

// IsSoftSuccess reports whether sig has the NewSoftSuccessSignature shape:
// the 0xFF marker in byte 1 and zeros in bytes 2 through 63.
func IsSoftSuccess(sig Signature) bool {
	if sig[1] != softSuccessMarker {
		return false
	}
	for _, b := range sig[2:] {
		if b != 0 {
			return false
		}
	}
	return true
}

// SoftSuccessEndpointIndex extracts the endpoint index encoded by
// NewSoftSuccessSignature. Only meaningful when IsSoftSuccess(sig).
func SoftSuccessEndpointIndex(sig Signature) int {
	return int(sig[0])
}

// PremintCandidate is an immutable observation record for a newly
// detected token mint on a launch program.
type PremintCandidate struct {
	Mint      Pubkey
	Creator   Pubkey
	Program   string
	Slot      uint64
	Timestamp uint64
}

// Mode is the execution engine's tagged state: Sniffing or
// PassiveToken(mint). The zero value is Sniffing.
type Mode int

const (
	ModeSniffing Mode = iota
	ModePassiveToken
)

func (m Mode) String() string {
	switch m {
	case ModeSniffing:
		return "sniffing"
	case ModePassiveToken:
		return "passive_token"
	default:
		return "unknown"
	}
}

// AppState is the process-wide engine state. It is exclusively mutated
// by the engine under a single mutex (see engine.Engine); this struct is
// a plain value snapshot, safe to copy and hand to readers (the status
// printer, an RPC status endpoint, etc).
//
// Mode carries no payload of its own: PassiveToken's mint is ActiveToken.Mint.
// HoldingsMint records which mint HoldingsPercent is measured against, so
// the two can be checked for agreement instead of assumed consistent.
type AppState struct {
	Mode            Mode
	ActiveToken     *PremintCandidate // non-nil iff Mode == ModePassiveToken
	LastBuyPrice    *float64          // non-nil iff Mode == ModePassiveToken
	HoldingsPercent float64           // in [0, 1]; 0 iff Mode == ModeSniffing
	HoldingsMint    Pubkey            // the mint HoldingsPercent refers to; zero iff Mode == ModeSniffing
}

// Invariant reports whether s satisfies the engine's core invariant:
// mode == Sniffing iff active_token == nil iff holdings_percent == 0,
// and whenever holdings are nonzero they are held against the active mint.
func (s AppState) Invariant() bool {
	sniffing := s.Mode == ModeSniffing
	noToken := s.ActiveToken == nil
	zeroHoldings := s.HoldingsPercent == 0
	if sniffing != noToken || sniffing != zeroHoldings {
		return false
	}
	if s.ActiveToken != nil && s.HoldingsPercent != 0 {
		return s.HoldingsMint == s.ActiveToken.Mint
	}
	return true
}

// SignedTransaction is a fully signed, wire-ready transaction produced by
// a txbuilder.Builder for one acquired slot lease.
type SignedTransaction struct {
	// SlotIndex is the slot-lease index this transaction was built for;
	// distinct slot indices MUST make distinct transactions (see the
	// txbuilder.Builder doc) so concurrent races are not trivially
	// deduplicated by the chain.
	SlotIndex int
	Tx        *solana.Transaction
	BuiltAt   time.Time
}
