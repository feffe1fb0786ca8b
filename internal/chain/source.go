package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// HeaderInfo is the subset of a block header the scanners care about.
type HeaderInfo struct {
	Number uint64
	Hash   common.Hash
	Time   uint64
}

// HeadSource reports the canonical chain head and headers at given heights.
type HeadSource interface {
	HeadBlockNumber(ctx context.Context) (uint64, error)
	HeaderInfo(ctx context.Context, number uint64) (HeaderInfo, error)
}

// LogSource serves ordered log queries over a block range.
type LogSource interface {
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Caller executes read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TimestampSource resolves block timestamps.
type TimestampSource interface {
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// SenderSource resolves the sender of a transaction already included in a
// block, identified by block hash and transaction index.
type SenderSource interface {
	TransactionSender(ctx context.Context, blockHash common.Hash, txIndex uint) (common.Address, error)
}

// Source is the full per-network chain contract. The direct RPC client
// implements all of it; alternate sources (a subgraph) satisfy the narrower
// interfaces the engines are written against.
type Source interface {
	HeadSource
	LogSource
	Caller
	TimestampSource
	SenderSource
}
