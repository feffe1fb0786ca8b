package discovery

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/reconcile"
	"github.com/GLiquid/dexscreener-adapter/internal/registry"
	"github.com/GLiquid/dexscreener-adapter/internal/storage"
)

type fakeHeads struct {
	head      uint64
	available uint64
}

func (f *fakeHeads) HeadBlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeHeads) HeaderInfo(_ context.Context, number uint64) (chain.HeaderInfo, error) {
	if number > f.available {
		return chain.HeaderInfo{}, model.ErrNotFound
	}
	return chain.HeaderInfo{Number: number, Hash: hashAt(number), Time: number * 12}, nil
}

func hashAt(number uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(number + 1))
}

type fakeCreations struct {
	pools  []model.Pool
	ranges [][2]uint64
}

func (f *fakeCreations) PoolCreations(_ context.Context, from, to uint64) ([]model.Pool, error) {
	f.ranges = append(f.ranges, [2]uint64{from, to})
	out := make([]model.Pool, 0, len(f.pools))
	for _, p := range f.pools {
		if p.CreationBlock >= from && p.CreationBlock <= to {
			out = append(out, p)
		}
	}
	return out, nil
}

func testPoolAt(block uint64) model.Pool {
	return model.Pool{
		Network:       "ethereum",
		Address:       common.HexToAddress("0xbeef"),
		Token0:        common.HexToAddress("0x0a01"),
		Token1:        common.HexToAddress("0x0a02"),
		Version:       model.VersionAlgebra,
		CreationBlock: block,
	}
}

func newTestEngine(heads *fakeHeads, source PoolCreationSource, reg *registry.Registry, store storage.Store) (*Engine, *reconcile.CursorStore) {
	cursors := reconcile.NewCursorStore([]string{"ethereum"})
	detector := reconcile.NewDetector(cursors, nil, 64, nil)
	cfg := Config{Network: "ethereum", StartBlock: 1, ConfirmationLag: 20}
	return NewEngine(cfg, heads, source, reg, cursors, detector, store, nil, nil), cursors
}

func TestTickDiscoversAndAdvancesCursor(t *testing.T) {
	heads := &fakeHeads{head: 120, available: 120}
	source := &fakeCreations{pools: []model.Pool{testPoolAt(50)}}
	reg := registry.New([]string{"ethereum"})
	store := storage.NewMemoryStore()

	engine, cursors := newTestEngine(heads, source, reg, store)
	require.NoError(t, engine.Tick(context.Background()))

	require.Equal(t, [][2]uint64{{1, 100}}, source.ranges)
	require.Equal(t, 1, reg.Len("ethereum"))

	cursor, ok := cursors.Get("ethereum", model.ScanDiscovery)
	require.True(t, ok)
	require.Equal(t, uint64(100), cursor.Block)
	require.Equal(t, hashAt(100), cursor.BlockHash)

	// Write-through persistence.
	persisted, err := store.LoadPools(context.Background(), "ethereum")
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	saved, found, err := store.LoadCursor(context.Background(), "ethereum", model.ScanDiscovery)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(100), saved.Block)
}

func TestTickRescanAfterRestartIsIdempotent(t *testing.T) {
	heads := &fakeHeads{head: 120, available: 120}
	source := &fakeCreations{pools: []model.Pool{testPoolAt(50)}}
	reg := registry.New([]string{"ethereum"})

	engine, _ := newTestEngine(heads, source, reg, nil)
	require.NoError(t, engine.Tick(context.Background()))
	require.Equal(t, 1, reg.Len("ethereum"))

	// Restart before the cursor was persisted: the same window is scanned
	// again against the same registry.
	engine2, _ := newTestEngine(heads, source, reg, nil)
	require.NoError(t, engine2.Tick(context.Background()))
	require.Equal(t, 1, reg.Len("ethereum"))
}

func TestTickSkipsWhenWindowHeaderUnavailable(t *testing.T) {
	heads := &fakeHeads{head: 120, available: 90}
	source := &fakeCreations{pools: []model.Pool{testPoolAt(50)}}
	reg := registry.New([]string{"ethereum"})

	engine, cursors := newTestEngine(heads, source, reg, nil)
	require.NoError(t, engine.Tick(context.Background()))

	require.Empty(t, source.ranges)
	require.Equal(t, 0, reg.Len("ethereum"))
	_, ok := cursors.Get("ethereum", model.ScanDiscovery)
	require.False(t, ok)
}

func TestTickNoopWithoutNewConfirmedBlocks(t *testing.T) {
	heads := &fakeHeads{head: 120, available: 120}
	source := &fakeCreations{}
	reg := registry.New([]string{"ethereum"})

	engine, _ := newTestEngine(heads, source, reg, nil)
	require.NoError(t, engine.Tick(context.Background()))
	require.Len(t, source.ranges, 1)

	// Head unchanged: nothing new below the confirmation lag.
	require.NoError(t, engine.Tick(context.Background()))
	require.Len(t, source.ranges, 1)
}

func TestTickClampsWindowToBatchSize(t *testing.T) {
	heads := &fakeHeads{head: 10020, available: 10020}
	source := &fakeCreations{}
	reg := registry.New([]string{"ethereum"})
	cursors := reconcile.NewCursorStore([]string{"ethereum"})
	detector := reconcile.NewDetector(cursors, nil, 64, nil)
	cfg := Config{Network: "ethereum", StartBlock: 1, ConfirmationLag: 20, BatchSize: 100}

	engine := NewEngine(cfg, heads, source, reg, cursors, detector, nil, nil, nil)
	require.NoError(t, engine.Tick(context.Background()))
	require.Equal(t, [][2]uint64{{1, 100}}, source.ranges)

	require.NoError(t, engine.Tick(context.Background()))
	require.Equal(t, [][2]uint64{{1, 100}, {101, 200}}, source.ranges)
}
