package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// ClientConfig holds per-network RPC settings.
type ClientConfig struct {
	Network      string
	RPCURL       string
	BatchSize    uint64  // max blocks per eth_getLogs call
	RateLimit    float64 // requests per second, 0 disables limiting
	MaxRetries   int
	RetryBackoff time.Duration
}

// Client wraps go-ethereum RPC for one network. Every outbound call goes
// through the network's rate limiter and a bounded exponential-backoff retry;
// exhausted retries on log queries surface as model.ErrUpstreamUnavailable.
type Client struct {
	cfg       ClientConfig
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter

	mu          sync.RWMutex
	headerCache map[uint64]HeaderInfo
}

// NewClient dials the network's RPC endpoint.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		cfg:         cfg,
		rpcClient:   rpcClient,
		ethClient:   ethclient.NewClient(rpcClient),
		limiter:     limiter,
		headerCache: make(map[uint64]HeaderInfo),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// ChainID returns the chain ID reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		id, err = c.ethClient.ChainID(ctx)
		return err
	})
	return id, err
}

// HeadBlockNumber returns the latest block number.
func (c *Client) HeadBlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		head, err = c.ethClient.BlockNumber(ctx)
		return err
	})
	return head, err
}

// HeaderInfo returns the canonical hash and timestamp at a height, using an
// in-memory cache. A node that has not yet settled the height returns
// model.ErrNotFound so the caller can abort without advancing its cursor.
func (c *Client) HeaderInfo(ctx context.Context, number uint64) (HeaderInfo, error) {
	c.mu.RLock()
	info, ok := c.headerCache[number]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	var header *types.Header
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		header, err = c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return HeaderInfo{}, fmt.Errorf("header %d: %w", number, model.ErrNotFound)
		}
		return HeaderInfo{}, err
	}
	if header == nil {
		return HeaderInfo{}, fmt.Errorf("header %d: %w", number, model.ErrNotFound)
	}

	info = HeaderInfo{Number: number, Hash: header.Hash(), Time: header.Time}
	c.mu.Lock()
	c.headerCache[number] = info
	c.mu.Unlock()

	return info, nil
}

// BlockTimestamp returns the block timestamp at a height.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	info, err := c.HeaderInfo(ctx, number)
	if err != nil {
		return 0, err
	}
	return info.Time, nil
}

// ForgetHeaders drops cached headers at and above the given height. Called
// by the reconciliation layer after a reorg so stale hashes are re-fetched.
func (c *Client) ForgetHeaders(from uint64) {
	c.mu.Lock()
	for number := range c.headerCache {
		if number >= from {
			delete(c.headerCache, number)
		}
	}
	c.mu.Unlock()
}

// FilterLogs returns logs in the given range for addresses and topic0
// filters. Ranges wider than the configured batch size are chunked; in-order
// concatenation plus a final stable sort preserves the single-query ordering.
func (c *Client) FilterLogs(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	var logs []types.Log
	err := eachWindow(fromBlock, toBlock, c.cfg.BatchSize, func(lo, hi uint64) error {
		batch, err := c.filterLogsRange(ctx, lo, hi, addresses, topic0)
		if err != nil {
			return &model.UpstreamError{Network: c.cfg.Network, From: lo, To: hi, Err: err}
		}
		logs = append(logs, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		if logs[i].TxIndex != logs[j].TxIndex {
			return logs[i].TxIndex < logs[j].TxIndex
		}
		return logs[i].Index < logs[j].Index
	})

	return logs, nil
}

func (c *Client) filterLogsRange(
	ctx context.Context,
	fromBlock uint64,
	toBlock uint64,
	addresses []common.Address,
	topic0 []common.Hash,
) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
	}
	if len(topic0) > 0 {
		query.Topics = [][]common.Hash{topic0}
	}

	var logs []types.Log
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = c.ethClient.FilterLogs(ctx, query)
		return err
	})
	return logs, err
}

// TransactionSender returns the sender of the transaction at the given
// position in a block.
func (c *Client) TransactionSender(ctx context.Context, blockHash common.Hash, txIndex uint) (common.Address, error) {
	var sender common.Address
	err := c.do(ctx, func(ctx context.Context) error {
		tx, err := c.ethClient.TransactionInBlock(ctx, blockHash, txIndex)
		if err != nil {
			return err
		}
		sender, err = c.ethClient.TransactionSender(ctx, tx, blockHash, txIndex)
		return err
	})
	return sender, err
}

// CallContract performs an eth_call against a contract.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var out []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		out, err = c.ethClient.CallContract(ctx, msg, blockNumber)
		return err
	})
	return out, err
}

func (c *Client) do(ctx context.Context, fn func(context.Context) error) error {
	err := withRetry(ctx, c.cfg.MaxRetries, c.cfg.RetryBackoff, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
	if err != nil && isTransient(err) {
		// Retries exhausted on a transient failure. Callers must be able to
		// tell a dead provider apart from a bad request.
		return fmt.Errorf("%w: %v", model.ErrUpstreamUnavailable, err)
	}
	return err
}

var _ Source = (*Client)(nil)
