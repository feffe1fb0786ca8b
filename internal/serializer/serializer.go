package serializer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// Pure canonical-to-external mapping. No I/O and no floating point: all
// amount strings come from exact integer or rational arithmetic.

// priceScale is how many fractional digits priceNative carries before
// trailing zeros are trimmed.
const priceScale = 18

// DexKey returns the pair dexKey for a network.
func DexKey(network string) string {
	return "algebra-" + network
}

// FormatAmount renders a raw integer amount in token units as an exact
// decimal string.
func FormatAmount(amount *big.Int, decimals uint8) string {
	if amount == nil || amount.Sign() == 0 {
		return "0"
	}

	abs := new(big.Int).Abs(amount)
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		if pad := int(decimals) - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		out += "." + strings.TrimRight(digits, "0")
	}
	if amount.Sign() < 0 {
		out = "-" + out
	}
	return out
}

// PriceNative computes |amount0 / amount1| in token units, the price of
// asset0 denominated in asset1.
func PriceNative(amount0, amount1 *big.Int, decimals0, decimals1 uint8) string {
	if amount0 == nil || amount1 == nil || amount1.Sign() == 0 {
		return "0"
	}
	if amount0.Sign() == 0 {
		return "0"
	}

	// |amount0| * 10^decimals1 / (|amount1| * 10^decimals0)
	num := new(big.Int).Abs(amount0)
	num.Mul(num, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals1)), nil))
	den := new(big.Int).Abs(amount1)
	den.Mul(den, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals0)), nil))

	price := new(big.Rat).SetFrac(num, den)
	out := strings.TrimRight(price.FloatString(priceScale), "0")
	out = strings.TrimRight(out, ".")
	if out == "" {
		return "0"
	}
	return out
}

func lower(address common.Address) string {
	return strings.ToLower(address.Hex())
}

func lowerHash(hash common.Hash) string {
	return strings.ToLower(hash.Hex())
}

// SerializeBlock maps a block height and timestamp.
func SerializeBlock(number, timestamp uint64) Block {
	return Block{BlockNumber: number, BlockTimestamp: timestamp}
}

// SerializeAsset maps token metadata. The total supply, when known, is
// rendered in token units.
func SerializeAsset(token model.Token) Asset {
	asset := Asset{
		ID:     lower(token.Address),
		Name:   token.Name,
		Symbol: token.Symbol,
		Metadata: map[string]string{
			"network":  token.Network,
			"decimals": fmt.Sprintf("%d", token.Decimals),
		},
	}
	if token.TotalSupply != "" {
		if supply, ok := new(big.Int).SetString(token.TotalSupply, 10); ok {
			asset.TotalSupply = FormatAmount(supply, token.Decimals)
		}
	}
	return asset
}

// SerializePair maps a pool and its tokens. createdAtTimestamp may be zero
// when the creation block's timestamp is unknown.
func SerializePair(pool model.Pool, token0, token1 model.Token, createdAtTimestamp uint64) Pair {
	pair := Pair{
		ID:                   lower(pool.Address),
		DexKey:               DexKey(pool.Network),
		Asset0ID:             lower(pool.Token0),
		Asset1ID:             lower(pool.Token1),
		CreatedAtBlockNumber: pool.CreationBlock,
		Metadata: map[string]string{
			"network":        pool.Network,
			"version":        pool.Version,
			"token0Symbol":   token0.Symbol,
			"token1Symbol":   token1.Symbol,
			"token0Decimals": fmt.Sprintf("%d", token0.Decimals),
			"token1Decimals": fmt.Sprintf("%d", token1.Decimals),
		},
	}
	if createdAtTimestamp != 0 {
		pair.CreatedAtBlockTimestamp = createdAtTimestamp
	}
	if pool.CreationTx != (common.Hash{}) {
		pair.CreatedAtTxnID = lowerHash(pool.CreationTx)
	}
	if pool.Creator != (common.Address{}) {
		pair.Creator = lower(pool.Creator)
	}
	if pool.FeeBps > 0 {
		pair.FeeBps = pool.FeeBps
	}
	return pair
}

// SerializeEvent maps a canonical event. Swaps split their signed amounts
// into the in/out direction fields; mints become joins and burns become
// exits. decimals0/decimals1 are the pool tokens' precisions.
func SerializeEvent(event model.Event, decimals0, decimals1 uint8) Event {
	out := Event{
		Block:      SerializeBlock(event.BlockNumber, event.Timestamp),
		TxnID:      lowerHash(event.TxHash),
		TxnIndex:   event.TxIndex,
		EventIndex: event.LogIndex,
		Maker:      lower(event.Maker),
		PairID:     lower(event.Pool),
		Metadata:   map[string]string{"network": event.Network},
		Reserves:   serializeReserves(event, decimals0, decimals1),
	}

	switch event.Kind {
	case model.EventSwap:
		out.EventType = "swap"
		if event.Amount0 != nil {
			formatted := FormatAmount(new(big.Int).Abs(event.Amount0), decimals0)
			if event.Amount0.Sign() > 0 {
				out.Asset0In = formatted
			} else if event.Amount0.Sign() < 0 {
				out.Asset0Out = formatted
			}
		}
		if event.Amount1 != nil {
			formatted := FormatAmount(new(big.Int).Abs(event.Amount1), decimals1)
			if event.Amount1.Sign() > 0 {
				out.Asset1In = formatted
			} else if event.Amount1.Sign() < 0 {
				out.Asset1Out = formatted
			}
		}
		out.PriceNative = PriceNative(event.Amount0, event.Amount1, decimals0, decimals1)

	case model.EventMint, model.EventBurn:
		if event.Kind == model.EventMint {
			out.EventType = "join"
		} else {
			out.EventType = "exit"
		}
		out.Amount0 = FormatAmount(event.Amount0, decimals0)
		out.Amount1 = FormatAmount(event.Amount1, decimals1)
	}
	return out
}

func serializeReserves(event model.Event, decimals0, decimals1 uint8) *Reserves {
	if event.Reserve0 == nil || event.Reserve1 == nil {
		return nil
	}
	return &Reserves{
		Asset0: FormatAmount(event.Reserve0, decimals0),
		Asset1: FormatAmount(event.Reserve1, decimals1),
	}
}
