package discovery

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Creation events of the supported factories. Algebra factories emit Pool
// with the pool address in the data section; Uniswap-style factories emit
// PoolCreated with the static fee as a third indexed topic.
const factoryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "token0", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "token1", "type": "address"},
      {"indexed": false, "internalType": "address", "name": "pool", "type": "address"}
    ],
    "name": "Pool",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "token0", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "token1", "type": "address"},
      {"indexed": true, "internalType": "uint24", "name": "fee", "type": "uint24"},
      {"indexed": false, "internalType": "int24", "name": "tickSpacing", "type": "int24"},
      {"indexed": false, "internalType": "address", "name": "pool", "type": "address"}
    ],
    "name": "PoolCreated",
    "type": "event"
  }
]`

// Algebra pools carry their (dynamic) fee on the pool contract rather than
// in the creation event.
const poolFeeABIJSON = `[
  {
    "inputs": [],
    "name": "fee",
    "outputs": [{"internalType": "uint16", "name": "currentFee", "type": "uint16"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	factoryABI     abi.ABI
	factoryABIOnce sync.Once
	factoryABIErr  error

	poolFeeABI     abi.ABI
	poolFeeABIOnce sync.Once
	poolFeeABIErr  error
)

// FactoryABI returns the parsed factory creation-event ABI.
func FactoryABI() (abi.ABI, error) {
	factoryABIOnce.Do(func() {
		factoryABI, factoryABIErr = abi.JSON(strings.NewReader(factoryABIJSON))
	})
	return factoryABI, factoryABIErr
}

// PoolFeeABI returns the parsed Algebra pool fee() ABI.
func PoolFeeABI() (abi.ABI, error) {
	poolFeeABIOnce.Do(func() {
		poolFeeABI, poolFeeABIErr = abi.JSON(strings.NewReader(poolFeeABIJSON))
	})
	return poolFeeABI, poolFeeABIErr
}
