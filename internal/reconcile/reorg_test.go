package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// fakeHeads serves canonical hashes from a mutable map, simulating a chain
// whose recent blocks can be replaced by a reorg.
type fakeHeads struct {
	head   uint64
	hashes map[uint64]common.Hash
	calls  int
}

func newFakeHeads(head uint64) *fakeHeads {
	f := &fakeHeads{head: head, hashes: make(map[uint64]common.Hash)}
	for block := uint64(0); block <= head; block++ {
		f.hashes[block] = hashForChain("a", block)
	}
	return f
}

func hashForChain(chainTag string, block uint64) common.Hash {
	return common.BytesToHash([]byte(fmt.Sprintf("%s-%d", chainTag, block)))
}

// reorgFrom replaces canonical hashes from the given height upward.
func (f *fakeHeads) reorgFrom(height uint64) {
	for block := height; block <= f.head; block++ {
		f.hashes[block] = hashForChain("b", block)
	}
}

func (f *fakeHeads) HeadBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeHeads) HeaderInfo(_ context.Context, number uint64) (chain.HeaderInfo, error) {
	f.calls++
	hash, ok := f.hashes[number]
	if !ok {
		return chain.HeaderInfo{}, fmt.Errorf("header %d: %w", number, model.ErrNotFound)
	}
	return chain.HeaderInfo{Number: number, Hash: hash, Time: 1700000000 + number}, nil
}

func advanceThrough(t *testing.T, store *CursorStore, heads *fakeHeads, scanType model.ScanType, upTo uint64) {
	t.Helper()
	for block := uint64(10); block <= upTo; block += 10 {
		require.NoError(t, store.Advance("ethereum", scanType, model.ScanCursor{
			Block:     block,
			BlockHash: heads.hashes[block],
			UpdatedAt: time.Unix(1700000000, 0),
		}))
	}
}

func TestVerifyNoCursor(t *testing.T) {
	store := NewCursorStore([]string{"ethereum"})
	d := NewDetector(store, nil, 64, nil)

	cursor, rolledBack, err := d.Verify(context.Background(), newFakeHeads(100), "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	assert.False(t, rolledBack)
	assert.True(t, cursor.IsZero())
}

func TestVerifyAgreement(t *testing.T) {
	store := NewCursorStore([]string{"ethereum"})
	heads := newFakeHeads(100)
	advanceThrough(t, store, heads, model.ScanDiscovery, 50)

	d := NewDetector(store, nil, 64, nil)
	cursor, rolledBack, err := d.Verify(context.Background(), heads, "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	assert.False(t, rolledBack)
	assert.Equal(t, uint64(50), cursor.Block)
}

func TestVerifyRollsBackToLastAgreement(t *testing.T) {
	store := NewCursorStore([]string{"ethereum"})
	heads := newFakeHeads(100)
	advanceThrough(t, store, heads, model.ScanDiscovery, 80)

	// Canonical chain diverges at height 45: checkpoints 50..80 are stale,
	// checkpoints 10..40 still agree.
	heads.reorgFrom(45)

	cache := NewMemoryCache()
	ctx := context.Background()
	cache.Set(ctx, CacheKey("ethereum", "events", "x"), []byte("stale"), time.Minute)

	d := NewDetector(store, cache, 64, nil)
	cursor, rolledBack, err := d.Verify(ctx, heads, "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.Equal(t, uint64(40), cursor.Block, "must land on the highest agreeing checkpoint")

	stored, ok := store.Get("ethereum", model.ScanDiscovery)
	require.True(t, ok)
	assert.Equal(t, uint64(40), stored.Block)

	_, ok = cache.Get(ctx, CacheKey("ethereum", "events", "x"))
	assert.False(t, ok, "reorg must invalidate the network's cache")
}

func TestVerifyRollsBackBothScanTypes(t *testing.T) {
	store := NewCursorStore([]string{"ethereum"})
	heads := newFakeHeads(100)
	advanceThrough(t, store, heads, model.ScanDiscovery, 80)
	advanceThrough(t, store, heads, model.ScanIngestion, 70)

	heads.reorgFrom(45)

	d := NewDetector(store, nil, 64, nil)
	_, rolledBack, err := d.Verify(context.Background(), heads, "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	require.True(t, rolledBack)

	ingestion, ok := store.Get("ethereum", model.ScanIngestion)
	require.True(t, ok)
	assert.LessOrEqual(t, ingestion.Block, uint64(40), "ingestion cursor must be clamped too")
}

func TestVerifyFixedDepthFallback(t *testing.T) {
	store := NewCursorStore([]string{"ethereum"})
	heads := newFakeHeads(100)
	advanceThrough(t, store, heads, model.ScanDiscovery, 80)

	// Everything the store remembers is stale.
	heads.reorgFrom(0)

	d := NewDetector(store, nil, 30, nil)
	cursor, rolledBack, err := d.Verify(context.Background(), heads, "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.Equal(t, uint64(50), cursor.Block, "80 - depth 30")
	assert.Equal(t, heads.hashes[50], cursor.BlockHash, "fallback adopts the canonical hash")
}

func TestVerifyIdempotentAfterRollback(t *testing.T) {
	store := NewCursorStore([]string{"ethereum"})
	heads := newFakeHeads(100)
	advanceThrough(t, store, heads, model.ScanDiscovery, 80)
	heads.reorgFrom(45)

	d := NewDetector(store, nil, 64, nil)
	ctx := context.Background()

	first, rolledBack, err := d.Verify(ctx, heads, "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	require.True(t, rolledBack)

	second, rolledBack, err := d.Verify(ctx, heads, "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	assert.False(t, rolledBack, "second verification must see agreement")
	assert.Equal(t, first, second)
}
