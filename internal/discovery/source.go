package discovery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// PoolCreationSource lists pools created inside a confirmed block range,
// ascending by creation block.
type PoolCreationSource interface {
	PoolCreations(ctx context.Context, from, to uint64) ([]model.Pool, error)
}

// Factory binds a factory contract to the protocol version of the pools it
// creates. The version selects which creation event layout to decode.
type Factory struct {
	Address common.Address
	Version string
}

// RPCSource discovers pools by scanning factory creation logs over RPC.
type RPCSource struct {
	network   string
	logs      chain.LogSource
	caller    chain.Caller
	senders   chain.SenderSource
	factories map[common.Address]Factory
	addresses []common.Address
	topics    []common.Hash

	factoryABI abi.ABI
	feeABI     abi.ABI
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRPCSource builds a log-backed pool creation source for one network.
// senders may be nil; creator attribution is then skipped.
func NewRPCSource(network string, logs chain.LogSource, caller chain.Caller, senders chain.SenderSource, factories []Factory, m *metrics.Metrics, logger *zap.Logger) (*RPCSource, error) {
	if len(factories) == 0 {
		return nil, fmt.Errorf("network %s: no factories configured", network)
	}
	factoryABI, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	feeABI, err := PoolFeeABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool fee abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}

	byAddress := make(map[common.Address]Factory, len(factories))
	addresses := make([]common.Address, 0, len(factories))
	for _, f := range factories {
		switch f.Version {
		case model.VersionAlgebra, model.VersionUniswapV3:
		default:
			return nil, fmt.Errorf("factory %s: unsupported version %q", f.Address.Hex(), f.Version)
		}
		byAddress[f.Address] = f
		addresses = append(addresses, f.Address)
	}

	return &RPCSource{
		network:    network,
		logs:       logs,
		caller:     caller,
		senders:    senders,
		factories:  byAddress,
		addresses:  addresses,
		topics:     []common.Hash{factoryABI.Events["Pool"].ID, factoryABI.Events["PoolCreated"].ID},
		factoryABI: factoryABI,
		feeABI:     feeABI,
		metrics:    m,
		logger:     logger,
	}, nil
}

// PoolCreations fetches and decodes factory creation logs for the range.
// Logs that do not decode are counted and skipped, never fatal.
func (s *RPCSource) PoolCreations(ctx context.Context, from, to uint64) ([]model.Pool, error) {
	logs, err := s.logs.FilterLogs(ctx, from, to, s.addresses, s.topics)
	if err != nil {
		return nil, err
	}

	pools := make([]model.Pool, 0, len(logs))
	for _, log := range logs {
		factory, ok := s.factories[log.Address]
		if !ok || log.Removed {
			continue
		}
		pool, err := s.decodeCreation(ctx, factory, log)
		if err != nil {
			s.metrics.DecodeFailures.WithLabelValues(s.network).Inc()
			s.logger.Warn("skip undecodable factory log",
				zap.String("network", s.network),
				zap.String("factory", log.Address.Hex()),
				zap.Uint64("block", log.BlockNumber),
				zap.Uint("log_index", log.Index),
				zap.Error(err))
			continue
		}
		pool.Creator = s.creatorOf(ctx, log)
		pools = append(pools, pool)
	}
	return pools, nil
}

// creatorOf resolves the creation transaction's sender. Best effort: a
// failed lookup leaves the creator unset and the pool is still discovered.
func (s *RPCSource) creatorOf(ctx context.Context, log types.Log) common.Address {
	if s.senders == nil || log.BlockHash == (common.Hash{}) {
		return common.Address{}
	}
	sender, err := s.senders.TransactionSender(ctx, log.BlockHash, log.TxIndex)
	if err != nil {
		s.logger.Debug("pool creator lookup failed",
			zap.String("network", s.network),
			zap.String("tx", log.TxHash.Hex()),
			zap.Error(err))
		return common.Address{}
	}
	return sender
}

func (s *RPCSource) decodeCreation(ctx context.Context, factory Factory, log types.Log) (model.Pool, error) {
	pool := model.Pool{
		Network:       s.network,
		Version:       factory.Version,
		CreationBlock: log.BlockNumber,
		CreationTx:    log.TxHash,
		DiscoveredAt:  time.Now().UTC(),
	}

	switch factory.Version {
	case model.VersionAlgebra:
		event := s.factoryABI.Events["Pool"]
		if len(log.Topics) == 0 || log.Topics[0] != event.ID {
			return model.Pool{}, fmt.Errorf("unexpected topic0 for Pool event")
		}
		var indexed struct {
			Token0 common.Address
			Token1 common.Address
		}
		if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
			return model.Pool{}, fmt.Errorf("parse Pool topics: %w", err)
		}
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return model.Pool{}, fmt.Errorf("unpack Pool data: %w", err)
		}
		if len(values) != 1 {
			return model.Pool{}, fmt.Errorf("unexpected Pool values: %d", len(values))
		}
		address, ok := values[0].(common.Address)
		if !ok {
			return model.Pool{}, fmt.Errorf("pool address has type %T", values[0])
		}
		pool.Address = address
		pool.Token0 = indexed.Token0
		pool.Token1 = indexed.Token1
		pool.FeeBps = s.algebraFeeBps(ctx, address)
		return pool, nil

	case model.VersionUniswapV3:
		event := s.factoryABI.Events["PoolCreated"]
		if len(log.Topics) == 0 || log.Topics[0] != event.ID {
			return model.Pool{}, fmt.Errorf("unexpected topic0 for PoolCreated event")
		}
		var indexed struct {
			Token0 common.Address
			Token1 common.Address
			Fee    *big.Int
		}
		if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), log.Topics[1:]); err != nil {
			return model.Pool{}, fmt.Errorf("parse PoolCreated topics: %w", err)
		}
		values, err := event.Inputs.NonIndexed().Unpack(log.Data)
		if err != nil {
			return model.Pool{}, fmt.Errorf("unpack PoolCreated data: %w", err)
		}
		if len(values) != 2 {
			return model.Pool{}, fmt.Errorf("unexpected PoolCreated values: %d", len(values))
		}
		address, ok := values[1].(common.Address)
		if !ok {
			return model.Pool{}, fmt.Errorf("pool address has type %T", values[1])
		}
		pool.Address = address
		pool.Token0 = indexed.Token0
		pool.Token1 = indexed.Token1
		// fee is in hundredths of a basis point.
		pool.FeeBps = uint32(indexed.Fee.Uint64() / 100)
		return pool, nil

	default:
		return model.Pool{}, fmt.Errorf("unsupported version %q", factory.Version)
	}
}

// algebraFeeBps reads the pool's current fee. The fee is dynamic on Algebra
// pools; a failed read leaves it at zero and the pool is still discovered.
func (s *RPCSource) algebraFeeBps(ctx context.Context, pool common.Address) uint32 {
	if s.caller == nil {
		return 0
	}
	data, err := s.feeABI.Pack("fee")
	if err != nil {
		return 0
	}
	out, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil || len(out) == 0 {
		s.logger.Debug("pool fee read failed",
			zap.String("network", s.network),
			zap.String("pool", pool.Hex()),
			zap.Error(err))
		return 0
	}
	values, err := s.feeABI.Unpack("fee", out)
	if err != nil || len(values) != 1 {
		return 0
	}
	fee, ok := values[0].(uint16)
	if !ok {
		return 0
	}
	return uint32(fee) / 100
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
