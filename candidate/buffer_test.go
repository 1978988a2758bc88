package candidate

import (
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solraceio/sniper/types"
)

func mintCandidate(seed byte) types.PremintCandidate {
	var mint solana.PublicKey
	mint[0] = seed
	var creator solana.PublicKey
	creator[0] = seed + 1
	return types.PremintCandidate{
		Mint:    mint,
		Creator: creator,
		Program: "pump.fun",
		Slot:    1,
	}
}

func TestPushAndDedup(t *testing.T) {
	b := New(time.Minute, 0)
	c := mintCandidate(1)

	require.True(t, b.Push(c))
	require.False(t, b.Push(c), "duplicate mint must be rejected")
	assert.Equal(t, 1, b.Len())
}

func TestTTLCleanupAndPop(t *testing.T) {
	b := New(10*time.Millisecond, 0)
	require.True(t, b.Push(mintCandidate(1)))

	time.Sleep(20 * time.Millisecond)

	removed := b.Cleanup()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, b.Len())

	_, ok := b.PopBest()
	assert.False(t, ok)
}

func TestPopBestOldest(t *testing.T) {
	b := New(time.Minute, 0)
	first := mintCandidate(1)
	second := mintCandidate(2)

	require.True(t, b.Push(first))
	time.Sleep(time.Millisecond)
	require.True(t, b.Push(second))

	got, ok := b.PopBest()
	require.True(t, ok)
	assert.Equal(t, first.Mint, got.Mint)

	got, ok = b.PopBest()
	require.True(t, ok)
	assert.Equal(t, second.Mint, got.Mint)

	_, ok = b.PopBest()
	assert.False(t, ok)
}

func TestEvictsOldestWhenFull(t *testing.T) {
	b := New(time.Minute, 2)
	first := mintCandidate(1)
	second := mintCandidate(2)
	third := mintCandidate(3)

	require.True(t, b.Push(first))
	time.Sleep(time.Millisecond)
	require.True(t, b.Push(second))
	time.Sleep(time.Millisecond)
	require.True(t, b.Push(third))

	assert.Equal(t, 2, b.Len())

	got, ok := b.PopBest()
	require.True(t, ok)
	assert.Equal(t, second.Mint, got.Mint, "oldest entry must have been evicted to make room")

	got, ok = b.PopBest()
	require.True(t, ok)
	assert.Equal(t, third.Mint, got.Mint)
}

func TestZeroTTLExpiresImmediately(t *testing.T) {
	b := New(0, 0)
	require.True(t, b.Push(mintCandidate(1)))
	_, ok := b.PopBest()
	assert.False(t, ok)
}
