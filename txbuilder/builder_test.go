package txbuilder

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solraceio/sniper/types"
)

func TestDeriveBondingCurveIsDeterministic(t *testing.T) {
	mint := solana.NewWallet().PublicKey()

	a, bumpA, err := deriveBondingCurve(mint)
	require.NoError(t, err)
	b, bumpB, err := deriveBondingCurve(mint)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, bumpA, bumpB)
}

func TestDeriveBondingCurveDiffersByMint(t *testing.T) {
	m1 := solana.NewWallet().PublicKey()
	m2 := solana.NewWallet().PublicKey()

	c1, _, err := deriveBondingCurve(m1)
	require.NoError(t, err)
	c2, _, err := deriveBondingCurve(m2)
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2)
}

func TestBuildProgramInstructionKnownProgramTargetsBondingCurve(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	buyer := solana.NewWallet().PublicKey()

	ix, err := buildProgramInstruction(knownProgramPumpFun, mint, buyer, 1_000_000, 0)
	require.NoError(t, err)
	assert.Equal(t, solana.SystemProgramID, ix.ProgramID())
}

func TestBuildProgramInstructionUnknownProgramFallsBackToMemo(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	buyer := solana.NewWallet().PublicKey()

	ix, err := buildProgramInstruction("some_unknown_launchpad", mint, buyer, 1_000_000, 2)
	require.NoError(t, err)
	assert.NotEqual(t, solana.SystemProgramID, ix.ProgramID())
}

func TestComputeUnitInstructionsEncodeDiscriminatorFirst(t *testing.T) {
	limitIx := computeUnitLimitInstruction(200_000)
	data, err := limitIx.Data()
	require.NoError(t, err)
	assert.Equal(t, computeBudgetSetComputeUnitLimit, data[0])

	priceIx := computeUnitPriceInstruction(500)
	data, err = priceIx.Data()
	require.NoError(t, err)
	assert.Equal(t, computeBudgetSetComputeUnitPrice, data[0])
}

func TestRecentBlockhashFailsWithoutClients(t *testing.T) {
	signer := NewPrivateKeySigner(solana.NewWallet().PrivateKey)
	builder := NewSolanaBuilder(signer, nil)

	_, err := builder.RecentBlockhash(context.Background())
	assert.Error(t, err)
}

func TestBuildBuyProducesDistinctTransactionsPerSlotIndex(t *testing.T) {
	signer := NewPrivateKeySigner(solana.NewWallet().PrivateKey)
	builder := NewSolanaBuilder(signer, nil)

	candidate := types.PremintCandidate{
		Mint:    solana.NewWallet().PublicKey(),
		Creator: solana.NewWallet().PublicKey(),
		Program: knownProgramPumpFun,
	}
	cfg := BuildConfig{LamportsPerBuy: 1_000_000, ComputeUnitLimit: 200_000, BaseComputeUnitPriceMicroLamports: 100}

	var hash types.Blockhash
	hash[0] = 1

	tx0, err := builder.BuildBuy(context.Background(), candidate, cfg, &hash, 0)
	require.NoError(t, err)
	tx1, err := builder.BuildBuy(context.Background(), candidate, cfg, &hash, 1)
	require.NoError(t, err)

	assert.NotEqual(t, tx0.Tx.Message.Instructions, tx1.Tx.Message.Instructions, "distinct slot indices must yield distinguishable instruction data")
}
