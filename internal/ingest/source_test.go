package ingest

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

type fakeLogs struct {
	logs  []types.Log
	calls int
	err   error
}

func (f *fakeLogs) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]types.Log, 0, len(f.logs))
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeTimestamps struct{ calls int }

func (f *fakeTimestamps) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	f.calls++
	return number * 12, nil
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func tickTopic(tick int64) common.Hash {
	return common.BigToHash(big.NewInt(tick))
}

var (
	poolAddr  = common.HexToAddress("0xbeef")
	sender    = common.HexToAddress("0x5e4d")
	recipient = common.HexToAddress("0x4ec1")
	owner     = common.HexToAddress("0x09e4")
)

func swapLog(t *testing.T, block uint64, txIndex, logIndex uint, amount0, amount1 *big.Int) types.Log {
	t.Helper()
	poolABI, err := PoolABI()
	require.NoError(t, err)
	event := poolABI.Events["Swap"]
	data, err := event.Inputs.NonIndexed().Pack(amount0, amount1, big.NewInt(1<<30), big.NewInt(777), big.NewInt(-100))
	require.NoError(t, err)
	return types.Log{
		Address:     poolAddr,
		Topics:      []common.Hash{event.ID, addressTopic(sender), addressTopic(recipient)},
		Data:        data,
		BlockNumber: block,
		TxIndex:     txIndex,
		Index:       logIndex,
		TxHash:      common.HexToHash("0x51a9"),
	}
}

func mintLog(t *testing.T, block uint64, logIndex uint) types.Log {
	t.Helper()
	poolABI, err := PoolABI()
	require.NoError(t, err)
	event := poolABI.Events["Mint"]
	data, err := event.Inputs.NonIndexed().Pack(sender, big.NewInt(500), big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)
	return types.Log{
		Address:     poolAddr,
		Topics:      []common.Hash{event.ID, addressTopic(owner), tickTopic(-60), tickTopic(60)},
		Data:        data,
		BlockNumber: block,
		Index:       logIndex,
	}
}

func burnLog(t *testing.T, block uint64, logIndex uint) types.Log {
	t.Helper()
	poolABI, err := PoolABI()
	require.NoError(t, err)
	event := poolABI.Events["Burn"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(500), big.NewInt(900), big.NewInt(1800))
	require.NoError(t, err)
	return types.Log{
		Address:     poolAddr,
		Topics:      []common.Hash{event.ID, addressTopic(owner), tickTopic(-60), tickTopic(60)},
		Data:        data,
		BlockNumber: block,
		Index:       logIndex,
	}
}

func TestEventsDecodeSwap(t *testing.T) {
	logs := &fakeLogs{logs: []types.Log{swapLog(t, 100, 3, 7, big.NewInt(-250), big.NewInt(500))}}
	src, err := NewRPCSource("ethereum", logs, &fakeTimestamps{}, nil, nil)
	require.NoError(t, err)

	events, err := src.Events(context.Background(), 90, 110, []common.Address{poolAddr})
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	require.Equal(t, model.EventSwap, got.Kind)
	require.Equal(t, poolAddr, got.Pool)
	require.Equal(t, sender, got.Maker)
	require.Equal(t, big.NewInt(-250), got.Amount0)
	require.Equal(t, big.NewInt(500), got.Amount1)
	require.Equal(t, big.NewInt(1<<30), got.SqrtPriceX96)
	require.Equal(t, big.NewInt(777), got.Liquidity)
	require.Equal(t, int32(-100), got.Tick)
	require.Equal(t, uint64(100*12), got.Timestamp)
	require.Equal(t, uint(3), got.TxIndex)
	require.Equal(t, uint(7), got.LogIndex)
	require.Nil(t, got.Reserve0)
	require.Nil(t, got.Reserve1)
}

func TestEventsDecodeMintAndBurn(t *testing.T) {
	logs := &fakeLogs{logs: []types.Log{mintLog(t, 100, 1), burnLog(t, 101, 2)}}
	src, err := NewRPCSource("ethereum", logs, &fakeTimestamps{}, nil, nil)
	require.NoError(t, err)

	events, err := src.Events(context.Background(), 90, 110, []common.Address{poolAddr})
	require.NoError(t, err)
	require.Len(t, events, 2)

	mint := events[0]
	require.Equal(t, model.EventMint, mint.Kind)
	require.Equal(t, owner, mint.Maker)
	require.Equal(t, big.NewInt(1000), mint.Amount0)
	require.Equal(t, big.NewInt(2000), mint.Amount1)
	require.Equal(t, big.NewInt(500), mint.Liquidity)

	burn := events[1]
	require.Equal(t, model.EventBurn, burn.Kind)
	require.Equal(t, owner, burn.Maker)
	require.Equal(t, big.NewInt(900), burn.Amount0)
	require.Equal(t, big.NewInt(1800), burn.Amount1)
}

func TestEventsSkipUndecodableLog(t *testing.T) {
	good := swapLog(t, 100, 0, 1, big.NewInt(1), big.NewInt(-1))
	bad := good
	bad.Data = bad.Data[:8] // truncated
	bad.Index = 0
	logs := &fakeLogs{logs: []types.Log{bad, good}}

	src, err := NewRPCSource("ethereum", logs, &fakeTimestamps{}, nil, nil)
	require.NoError(t, err)

	events, err := src.Events(context.Background(), 90, 110, []common.Address{poolAddr})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, uint(1), events[0].LogIndex)
}

func TestEventsTimestampFetchedOncePerBlock(t *testing.T) {
	logs := &fakeLogs{logs: []types.Log{
		swapLog(t, 100, 0, 1, big.NewInt(1), big.NewInt(-1)),
		swapLog(t, 100, 0, 2, big.NewInt(2), big.NewInt(-2)),
		swapLog(t, 101, 0, 1, big.NewInt(3), big.NewInt(-3)),
	}}
	stamps := &fakeTimestamps{}
	src, err := NewRPCSource("ethereum", logs, stamps, nil, nil)
	require.NoError(t, err)

	events, err := src.Events(context.Background(), 90, 110, []common.Address{poolAddr})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, 2, stamps.calls)
}

func TestEventsNoPoolsNoUpstreamCall(t *testing.T) {
	logs := &fakeLogs{}
	src, err := NewRPCSource("ethereum", logs, &fakeTimestamps{}, nil, nil)
	require.NoError(t, err)

	events, err := src.Events(context.Background(), 90, 110, nil)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Zero(t, logs.calls)
}
