package storage

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

func memPool(addr string, block uint64) model.Pool {
	return model.Pool{
		Network:       "ethereum",
		Address:       common.HexToAddress(addr),
		Version:       model.VersionAlgebra,
		CreationBlock: block,
	}
}

func TestMemoryStoreMergesSuccessiveSaves(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SavePools(ctx, "ethereum", []model.Pool{
		memPool("0x00000000000000000000000000000000000000a1", 100),
	}))
	require.NoError(t, store.SavePools(ctx, "ethereum", []model.Pool{
		memPool("0x00000000000000000000000000000000000000a2", 200),
	}))

	pools, err := store.LoadPools(ctx, "ethereum")
	require.NoError(t, err)
	require.Len(t, pools, 2, "each tick saves its own window; the union must survive")
	assert.Equal(t, uint64(100), pools[0].CreationBlock)
	assert.Equal(t, uint64(200), pools[1].CreationBlock)
}

func TestMemoryStoreKeepsEarliestCreationBlock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.SavePools(ctx, "ethereum", []model.Pool{
		memPool("0x00000000000000000000000000000000000000a1", 100),
	}))
	require.NoError(t, store.SavePools(ctx, "ethereum", []model.Pool{
		memPool("0x00000000000000000000000000000000000000a1", 150),
	}))

	pools, err := store.LoadPools(ctx, "ethereum")
	require.NoError(t, err)
	require.Len(t, pools, 1)
	assert.Equal(t, uint64(100), pools[0].CreationBlock, "re-save must not raise the creation block")
}

func TestMemoryStoreCursorRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := store.LoadCursor(ctx, "ethereum", model.ScanIngestion)
	require.NoError(t, err)
	assert.False(t, ok)

	saved := model.ScanCursor{Block: 42, BlockHash: common.HexToHash("0x2a")}
	require.NoError(t, store.SaveCursor(ctx, "ethereum", model.ScanIngestion, saved))

	cursor, ok, err := store.LoadCursor(ctx, "ethereum", model.ScanIngestion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved.Block, cursor.Block)
	assert.Equal(t, saved.BlockHash, cursor.BlockHash)
}
