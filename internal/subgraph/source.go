package subgraph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/registry"
)

const pageSize = 1000

// Source serves a network's pool and event data from an Algebra subgraph
// instead of raw RPC. It satisfies the same contracts the engines are
// written against: head/timestamp lookups, pool creations, decoded events,
// and token metadata.
type Source struct {
	network string
	client  *Client
	tokens  *registry.TokenCache
	metrics *metrics.Metrics
	logger  *zap.Logger

	reservesOnce sync.Once
	hasReserves  bool
}

// NewSource builds a subgraph-backed source for one network. tokens may be
// nil; when present, token metadata embedded in pool queries is cached
// through it.
func NewSource(network string, client *Client, tokens *registry.TokenCache, m *metrics.Metrics, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Source{
		network: network,
		client:  client,
		tokens:  tokens,
		metrics: m,
		logger:  logger,
	}
}

type metaBlock struct {
	Number    uintValue `json:"number"`
	Hash      string    `json:"hash"`
	Timestamp uintValue `json:"timestamp"`
}

type metaResponse struct {
	Meta struct {
		Block metaBlock `json:"block"`
	} `json:"_meta"`
}

// HeadBlockNumber reports the latest block the subgraph has indexed.
func (s *Source) HeadBlockNumber(ctx context.Context) (uint64, error) {
	var resp metaResponse
	query := `query { _meta { block { number hash timestamp } } }`
	if err := s.client.Query(ctx, query, nil, &resp); err != nil {
		return 0, err
	}
	return uint64(resp.Meta.Block.Number), nil
}

// HeaderInfo resolves the hash and timestamp at a height by pinning the
// _meta query to it. Subgraphs that omit historical hashes yield a zero
// hash; cursors recorded from such a source carry a zero hash too, so
// comparisons stay consistent and reorg handling defers to the subgraph's
// own chain tracking.
func (s *Source) HeaderInfo(ctx context.Context, number uint64) (chain.HeaderInfo, error) {
	var resp metaResponse
	query := `query($n: Int!) { _meta(block: {number: $n}) { block { number hash timestamp } } }`
	err := s.client.Query(ctx, query, map[string]interface{}{"n": number}, &resp)
	if err != nil {
		if errors.Is(err, model.ErrUpstreamUnavailable) {
			return chain.HeaderInfo{}, err
		}
		// A GraphQL error here means the height is not indexed (yet).
		return chain.HeaderInfo{}, fmt.Errorf("block %d: %w", number, model.ErrNotFound)
	}
	info := chain.HeaderInfo{
		Number: number,
		Time:   uint64(resp.Meta.Block.Timestamp),
	}
	if resp.Meta.Block.Hash != "" {
		info.Hash = common.HexToHash(resp.Meta.Block.Hash)
	}
	return info, nil
}

// BlockTimestamp resolves a block timestamp.
func (s *Source) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	info, err := s.HeaderInfo(ctx, number)
	if err != nil {
		return 0, err
	}
	return info.Time, nil
}

type tokenRecord struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	Decimals    uintValue `json:"decimals"`
	TotalSupply string    `json:"totalSupply"`
}

type poolRecord struct {
	ID                   string      `json:"id"`
	Token0               tokenRecord `json:"token0"`
	Token1               tokenRecord `json:"token1"`
	Fee                  uintValue   `json:"fee"`
	CreatedAtBlockNumber uintValue   `json:"createdAtBlockNumber"`
	CreatedAtTimestamp   uintValue   `json:"createdAtTimestamp"`
}

const poolCreationsQuery = `query($from: BigInt!, $to: BigInt!, $first: Int!, $lastId: ID!) {
  pools(
    where: {createdAtBlockNumber_gte: $from, createdAtBlockNumber_lte: $to, id_gt: $lastId},
    first: $first, orderBy: id, orderDirection: asc
  ) {
    id
    token0 { id symbol name decimals totalSupply }
    token1 { id symbol name decimals totalSupply }
    fee
    createdAtBlockNumber
    createdAtTimestamp
  }
}`

// PoolCreations pages through pools created inside the range. Token
// metadata embedded in the response is cached as a side effect.
func (s *Source) PoolCreations(ctx context.Context, from, to uint64) ([]model.Pool, error) {
	var pools []model.Pool
	lastID := ""
	for {
		var resp struct {
			Pools []poolRecord `json:"pools"`
		}
		vars := map[string]interface{}{
			"from":   fmt.Sprintf("%d", from),
			"to":     fmt.Sprintf("%d", to),
			"first":  pageSize,
			"lastId": lastID,
		}
		if err := s.client.Query(ctx, poolCreationsQuery, vars, &resp); err != nil {
			return nil, err
		}
		for _, record := range resp.Pools {
			pool, err := s.decodePool(record)
			if err != nil {
				s.metrics.DecodeFailures.WithLabelValues(s.network).Inc()
				s.logger.Warn("skip undecodable pool record",
					zap.String("network", s.network),
					zap.String("pool", record.ID),
					zap.Error(err))
				continue
			}
			pools = append(pools, pool)
		}
		if len(resp.Pools) < pageSize {
			return pools, nil
		}
		lastID = resp.Pools[len(resp.Pools)-1].ID
	}
}

func (s *Source) decodePool(record poolRecord) (model.Pool, error) {
	if !common.IsHexAddress(record.ID) {
		return model.Pool{}, fmt.Errorf("invalid pool id %q", record.ID)
	}
	if !common.IsHexAddress(record.Token0.ID) || !common.IsHexAddress(record.Token1.ID) {
		return model.Pool{}, fmt.Errorf("invalid token id on pool %s", record.ID)
	}
	pool := model.Pool{
		Network:       s.network,
		Address:       common.HexToAddress(record.ID),
		Token0:        common.HexToAddress(record.Token0.ID),
		Token1:        common.HexToAddress(record.Token1.ID),
		Version:       model.VersionAlgebra,
		FeeBps:        uint32(record.Fee) / 100,
		CreationBlock: uint64(record.CreatedAtBlockNumber),
		DiscoveredAt:  time.Now().UTC(),
	}
	s.cacheToken(record.Token0)
	s.cacheToken(record.Token1)
	return pool, nil
}

func (s *Source) cacheToken(record tokenRecord) {
	if s.tokens == nil || !common.IsHexAddress(record.ID) {
		return
	}
	s.tokens.Put(model.Token{
		Network:     s.network,
		Address:     common.HexToAddress(record.ID),
		Symbol:      record.Symbol,
		Name:        record.Name,
		Decimals:    uint8(record.Decimals),
		TotalSupply: record.TotalSupply,
	})
}

// FetchToken resolves one token entity. Missing tokens yield
// model.ErrNotFound.
func (s *Source) FetchToken(ctx context.Context, _ string, address common.Address) (model.Token, error) {
	var resp struct {
		Token *tokenRecord `json:"token"`
	}
	query := `query($id: ID!) { token(id: $id) { id symbol name decimals totalSupply } }`
	vars := map[string]interface{}{"id": strings.ToLower(address.Hex())}
	if err := s.client.Query(ctx, query, vars, &resp); err != nil {
		return model.Token{}, err
	}
	if resp.Token == nil {
		return model.Token{}, fmt.Errorf("token %s: %w", address.Hex(), model.ErrNotFound)
	}
	return model.Token{
		Network:     s.network,
		Address:     address,
		Symbol:      resp.Token.Symbol,
		Name:        resp.Token.Name,
		Decimals:    uint8(resp.Token.Decimals),
		TotalSupply: resp.Token.TotalSupply,
	}, nil
}
