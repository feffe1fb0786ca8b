package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind tags a decoded pool event.
type EventKind string

const (
	EventSwap EventKind = "swap"
	EventMint EventKind = "mint"
	EventBurn EventKind = "burn"
)

// Event is a decoded pool event. Amounts keep full token-unit precision as
// big integers; they are never converted to floating point. An Event is
// uniquely identified and ordered by (network, block number, tx index,
// log index).
type Event struct {
	Network     string
	Kind        EventKind
	Pool        common.Address
	BlockNumber uint64
	BlockHash   common.Hash
	Timestamp   uint64
	TxHash      common.Hash
	TxIndex     uint
	LogIndex    uint

	// Maker is the address initiating the action: the swap sender or the
	// position owner for mint/burn.
	Maker common.Address

	// Amount0/Amount1 are signed for swaps (positive flows into the pool)
	// and non-negative for mint/burn.
	Amount0 *big.Int
	Amount1 *big.Int

	// Swap-only fields.
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32

	// Reserve0/Reserve1 are populated only when the data source supplies
	// post-event reserves (some subgraph schemas do); nil otherwise.
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Key is the ordering and dedup key of an event within one network.
type EventKey struct {
	BlockNumber uint64
	TxIndex     uint
	LogIndex    uint
}

// Key returns the event's ordering key.
func (e *Event) Key() EventKey {
	return EventKey{BlockNumber: e.BlockNumber, TxIndex: e.TxIndex, LogIndex: e.LogIndex}
}

// Less reports whether k precedes other in canonical event order.
func (k EventKey) Less(other EventKey) bool {
	if k.BlockNumber != other.BlockNumber {
		return k.BlockNumber < other.BlockNumber
	}
	if k.TxIndex != other.TxIndex {
		return k.TxIndex < other.TxIndex
	}
	return k.LogIndex < other.LogIndex
}
