package serializer

// External response schema. Field names follow the DEX Screener adapter
// contract and marshal exactly as the indexer expects them.

// Block identifies a block by height and unix timestamp.
type Block struct {
	BlockNumber    uint64            `json:"blockNumber"`
	BlockTimestamp uint64            `json:"blockTimestamp"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Asset describes one token.
type Asset struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Symbol      string            `json:"symbol"`
	TotalSupply string            `json:"totalSupply,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Pair describes one pool.
type Pair struct {
	ID                      string            `json:"id"`
	DexKey                  string            `json:"dexKey"`
	Asset0ID                string            `json:"asset0Id"`
	Asset1ID                string            `json:"asset1Id"`
	CreatedAtBlockNumber    uint64            `json:"createdAtBlockNumber,omitempty"`
	CreatedAtBlockTimestamp uint64            `json:"createdAtBlockTimestamp,omitempty"`
	CreatedAtTxnID          string            `json:"createdAtTxnId,omitempty"`
	Creator                 string            `json:"creator,omitempty"`
	FeeBps                  uint32            `json:"feeBps,omitempty"`
	Metadata                map[string]string `json:"metadata,omitempty"`
}

// Reserves are post-event pool balances in token units.
type Reserves struct {
	Asset0 string `json:"asset0"`
	Asset1 string `json:"asset1"`
}

// Event is a serialized swap, join, or exit with its block attached. The
// reserves field is always emitted; it is an explicit null when the data
// source supplied no reserves, which readers treat differently from zero.
type Event struct {
	Block      Block  `json:"block"`
	EventType  string `json:"eventType"`
	TxnID      string `json:"txnId"`
	TxnIndex   uint   `json:"txnIndex"`
	EventIndex uint   `json:"eventIndex"`
	Maker      string `json:"maker"`
	PairID     string `json:"pairId"`

	// Swap fields: the in/out split carries the trade direction.
	Asset0In    string `json:"asset0In,omitempty"`
	Asset0Out   string `json:"asset0Out,omitempty"`
	Asset1In    string `json:"asset1In,omitempty"`
	Asset1Out   string `json:"asset1Out,omitempty"`
	PriceNative string `json:"priceNative,omitempty"`

	// Join/exit fields.
	Amount0 string `json:"amount0,omitempty"`
	Amount1 string `json:"amount1,omitempty"`

	Reserves *Reserves         `json:"reserves"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Response envelopes.

type LatestBlockResponse struct {
	Block Block `json:"block"`
}

type AssetResponse struct {
	Asset Asset `json:"asset"`
}

type PairResponse struct {
	Pair Pair `json:"pair"`
}

type EventsResponse struct {
	Events []Event `json:"events"`
}
