package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// TokenCache resolves ERC-20 metadata lazily on first reference and caches
// it forever; on-chain token metadata is treated as static. Locking is per
// network.
type TokenCache struct {
	networks map[string]*networkTokens
}

type networkTokens struct {
	mu     sync.RWMutex
	tokens map[common.Address]model.Token
}

// NewTokenCache creates a token cache for a fixed set of networks.
func NewTokenCache(networks []string) *TokenCache {
	c := &TokenCache{networks: make(map[string]*networkTokens, len(networks))}
	for _, name := range networks {
		c.networks[name] = &networkTokens{tokens: make(map[common.Address]model.Token)}
	}
	return c
}

// Get returns the cached token, if present.
func (c *TokenCache) Get(network string, address common.Address) (model.Token, bool) {
	nt, ok := c.networks[network]
	if !ok {
		return model.Token{}, false
	}
	nt.mu.RLock()
	token, ok := nt.tokens[address]
	nt.mu.RUnlock()
	return token, ok
}

// Put stores token metadata.
func (c *TokenCache) Put(token model.Token) {
	nt, ok := c.networks[token.Network]
	if !ok {
		return
	}
	nt.mu.Lock()
	nt.tokens[token.Address] = token
	nt.mu.Unlock()
}

// TokenFetcher loads token metadata from a data source. The RPC caller
// variant reads the ERC-20 contract; the subgraph variant queries the token
// entity.
type TokenFetcher interface {
	FetchToken(ctx context.Context, network string, address common.Address) (model.Token, error)
}

// CallerFetcher resolves tokens through ERC-20 contract calls.
type CallerFetcher struct {
	Caller chain.Caller
	Logger *zap.Logger
}

func (f CallerFetcher) FetchToken(ctx context.Context, network string, address common.Address) (model.Token, error) {
	return FetchToken(ctx, f.Caller, network, address, f.Logger)
}

// Resolve returns cached metadata or fetches it through the caller. An
// address whose decimals() call fails is not a recognized token and yields
// model.ErrNotFound.
func (c *TokenCache) Resolve(ctx context.Context, caller chain.Caller, network string, address common.Address, logger *zap.Logger) (model.Token, error) {
	return c.ResolveFrom(ctx, CallerFetcher{Caller: caller, Logger: logger}, network, address)
}

// ResolveFrom returns cached metadata or fetches it through the given source.
func (c *TokenCache) ResolveFrom(ctx context.Context, fetcher TokenFetcher, network string, address common.Address) (model.Token, error) {
	if token, ok := c.Get(network, address); ok {
		return token, nil
	}

	token, err := fetcher.FetchToken(ctx, network, address)
	if err != nil {
		return model.Token{}, err
	}
	c.Put(token)
	return token, nil
}

// FetchToken loads token metadata via ERC-20 calls, falling back to the
// bytes32 ABI variant used by some legacy tokens.
func FetchToken(ctx context.Context, caller chain.Caller, network string, token common.Address, logger *zap.Logger) (model.Token, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	meta := model.Token{Network: network, Address: token}

	stringABI, err := erc20ABIStringInstance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32Instance()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	call := func(method string, parsed abi.ABI) ([]interface{}, error) {
		data, err := parsed.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", method, err)
		}
		msg := ethereum.CallMsg{To: &token, Data: data}
		resp, err := caller.CallContract(ctx, msg, nil)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", method, err)
		}
		values, err := parsed.Unpack(method, resp)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		return values, nil
	}

	values, err := call("decimals", stringABI)
	if err != nil {
		// A dead provider is not a missing token: only a revert or
		// undecodable response marks the address as unrecognized.
		if errors.Is(err, model.ErrUpstreamUnavailable) {
			return meta, fmt.Errorf("token %s decimals: %w", token.Hex(), err)
		}
		return meta, fmt.Errorf("token %s: %w", token.Hex(), model.ErrNotFound)
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	if values, err := call("symbol", stringABI); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := call("symbol", bytes32ABI); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else {
		logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if values, err := call("name", stringABI); err == nil {
		if name, ok := values[0].(string); ok {
			meta.Name = name
		}
	} else if values, err := call("name", bytes32ABI); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			meta.Name = name
		}
	} else {
		logger.Debug("name call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	if values, err := call("totalSupply", stringABI); err == nil {
		if supply, err := asBigInt(values[0]); err == nil {
			meta.TotalSupply = supply.String()
		}
	} else {
		logger.Debug("totalSupply call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	return meta, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case uint16:
		return uint8(v), nil
	case uint32:
		return uint8(v), nil
	case uint64:
		return uint8(v), nil
	case *big.Int:
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}
