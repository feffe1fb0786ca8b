package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Protocol version tags carried by factory configuration and stamped onto
// every pool the factory creates.
const (
	VersionAlgebra   = "algebra"
	VersionUniswapV3 = "uniswap-v3"
)

// Pool is an append-only registry entry for a discovered swap pool,
// keyed uniquely by (network, address).
type Pool struct {
	Network       string         `json:"network"`
	Address       common.Address `json:"address"`
	Token0        common.Address `json:"token0"`
	Token1        common.Address `json:"token1"`
	Version       string         `json:"version"`
	FeeBps        uint32         `json:"fee_bps,omitempty"`
	CreationBlock uint64         `json:"creation_block"`
	CreationTx    common.Hash    `json:"creation_tx"`
	Creator       common.Address `json:"creator"`
	DiscoveredAt  time.Time      `json:"discovered_at"`
}

// Token is on-chain ERC-20 metadata, fetched lazily on first reference and
// immutable once fetched.
type Token struct {
	Network     string         `json:"network"`
	Address     common.Address `json:"address"`
	Symbol      string         `json:"symbol"`
	Name        string         `json:"name"`
	Decimals    uint8          `json:"decimals"`
	TotalSupply string         `json:"total_supply,omitempty"`
}
