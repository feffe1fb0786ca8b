package ingest

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// EventSource serves decoded pool events for a confirmed block range,
// restricted to the given pool addresses, in canonical (block, tx index,
// log index) order.
type EventSource interface {
	Events(ctx context.Context, from, to uint64, pools []common.Address) ([]model.Event, error)
}

// RPCSource decodes Swap/Mint/Burn logs fetched over RPC. Block timestamps
// are resolved per block through the chain client's header cache.
type RPCSource struct {
	network    string
	logs       chain.LogSource
	timestamps chain.TimestampSource
	poolABI    abi.ABI
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewRPCSource builds a log-backed event source for one network.
func NewRPCSource(network string, logs chain.LogSource, timestamps chain.TimestampSource, m *metrics.Metrics, logger *zap.Logger) (*RPCSource, error) {
	poolABI, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &RPCSource{
		network:    network,
		logs:       logs,
		timestamps: timestamps,
		poolABI:    poolABI,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Events fetches and decodes pool logs. Undecodable logs are counted and
// skipped. Swap amounts keep the on-chain sign convention: positive values
// flow into the pool.
func (s *RPCSource) Events(ctx context.Context, from, to uint64, pools []common.Address) ([]model.Event, error) {
	if len(pools) == 0 {
		return nil, nil
	}
	topics := []common.Hash{
		s.poolABI.Events["Swap"].ID,
		s.poolABI.Events["Mint"].ID,
		s.poolABI.Events["Burn"].ID,
	}
	logs, err := s.logs.FilterLogs(ctx, from, to, pools, topics)
	if err != nil {
		return nil, err
	}

	// One timestamp lookup per distinct block per range.
	stamps := make(map[uint64]uint64)

	events := make([]model.Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed || len(log.Topics) == 0 {
			continue
		}
		event, err := s.decode(log)
		if err != nil {
			s.metrics.DecodeFailures.WithLabelValues(s.network).Inc()
			s.logger.Warn("skip undecodable pool log",
				zap.String("network", s.network),
				zap.String("pool", log.Address.Hex()),
				zap.Uint64("block", log.BlockNumber),
				zap.Uint("log_index", log.Index),
				zap.Error(err))
			continue
		}

		ts, ok := stamps[log.BlockNumber]
		if !ok {
			ts, err = s.timestamps.BlockTimestamp(ctx, log.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("timestamp for block %d: %w", log.BlockNumber, err)
			}
			stamps[log.BlockNumber] = ts
		}
		event.Timestamp = ts

		s.metrics.EventsDecoded.WithLabelValues(s.network, string(event.Kind)).Inc()
		events = append(events, event)
	}
	return events, nil
}

func (s *RPCSource) decode(log types.Log) (model.Event, error) {
	event := model.Event{
		Network:     s.network,
		Pool:        log.Address,
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		TxIndex:     log.TxIndex,
		LogIndex:    log.Index,
	}

	switch log.Topics[0] {
	case s.poolABI.Events["Swap"].ID:
		return s.decodeSwap(event, log)
	case s.poolABI.Events["Mint"].ID:
		return s.decodeMint(event, log)
	case s.poolABI.Events["Burn"].ID:
		return s.decodeBurn(event, log)
	default:
		return model.Event{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}
}

func (s *RPCSource) decodeSwap(event model.Event, log types.Log) (model.Event, error) {
	abiEvent := s.poolABI.Events["Swap"]
	var indexed struct {
		Sender    common.Address
		Recipient common.Address
	}
	if err := parseIndexed(&indexed, abiEvent, log.Topics); err != nil {
		return model.Event{}, fmt.Errorf("swap topics: %w", err)
	}
	values, err := abiEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Event{}, fmt.Errorf("swap data: %w", err)
	}
	if len(values) != 5 {
		return model.Event{}, fmt.Errorf("unexpected swap values: %d", len(values))
	}

	amount0, err := asBigInt(values[0])
	if err != nil {
		return model.Event{}, err
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return model.Event{}, err
	}
	price, err := asBigInt(values[2])
	if err != nil {
		return model.Event{}, err
	}
	liquidity, err := asBigInt(values[3])
	if err != nil {
		return model.Event{}, err
	}
	tickBig, err := asBigInt(values[4])
	if err != nil {
		return model.Event{}, err
	}
	tick, err := tickFromBig(tickBig)
	if err != nil {
		return model.Event{}, err
	}

	event.Kind = model.EventSwap
	event.Maker = indexed.Sender
	event.Amount0 = amount0
	event.Amount1 = amount1
	event.SqrtPriceX96 = price
	event.Liquidity = liquidity
	event.Tick = tick
	return event, nil
}

func (s *RPCSource) decodeMint(event model.Event, log types.Log) (model.Event, error) {
	abiEvent := s.poolABI.Events["Mint"]
	var indexed struct {
		Owner      common.Address
		BottomTick *big.Int
		TopTick    *big.Int
	}
	if err := parseIndexed(&indexed, abiEvent, log.Topics); err != nil {
		return model.Event{}, fmt.Errorf("mint topics: %w", err)
	}
	values, err := abiEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Event{}, fmt.Errorf("mint data: %w", err)
	}
	if len(values) != 4 {
		return model.Event{}, fmt.Errorf("unexpected mint values: %d", len(values))
	}

	liquidity, err := asBigInt(values[1])
	if err != nil {
		return model.Event{}, err
	}
	amount0, err := asBigInt(values[2])
	if err != nil {
		return model.Event{}, err
	}
	amount1, err := asBigInt(values[3])
	if err != nil {
		return model.Event{}, err
	}

	event.Kind = model.EventMint
	event.Maker = indexed.Owner
	event.Amount0 = amount0
	event.Amount1 = amount1
	event.Liquidity = liquidity
	return event, nil
}

func (s *RPCSource) decodeBurn(event model.Event, log types.Log) (model.Event, error) {
	abiEvent := s.poolABI.Events["Burn"]
	var indexed struct {
		Owner      common.Address
		BottomTick *big.Int
		TopTick    *big.Int
	}
	if err := parseIndexed(&indexed, abiEvent, log.Topics); err != nil {
		return model.Event{}, fmt.Errorf("burn topics: %w", err)
	}
	values, err := abiEvent.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.Event{}, fmt.Errorf("burn data: %w", err)
	}
	if len(values) != 3 {
		return model.Event{}, fmt.Errorf("unexpected burn values: %d", len(values))
	}

	liquidity, err := asBigInt(values[0])
	if err != nil {
		return model.Event{}, err
	}
	amount0, err := asBigInt(values[1])
	if err != nil {
		return model.Event{}, err
	}
	amount1, err := asBigInt(values[2])
	if err != nil {
		return model.Event{}, err
	}

	event.Kind = model.EventBurn
	event.Maker = indexed.Owner
	event.Amount0 = amount0
	event.Amount1 = amount1
	event.Liquidity = liquidity
	return event, nil
}

func parseIndexed(out interface{}, event abi.Event, topics []common.Hash) error {
	indexed := make(abi.Arguments, 0, len(event.Inputs))
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(topics) != len(indexed)+1 {
		return fmt.Errorf("expected %d topics, got %d", len(indexed)+1, len(topics))
	}
	return abi.ParseTopics(out, indexed, topics[1:])
}

func asBigInt(value interface{}) (*big.Int, error) {
	v, ok := value.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", value)
	}
	return v, nil
}

func tickFromBig(value *big.Int) (int32, error) {
	if !value.IsInt64() {
		return 0, fmt.Errorf("tick out of range: %s", value)
	}
	v := value.Int64()
	if v > 1<<23-1 || v < -(1<<23) {
		return 0, fmt.Errorf("tick out of int24 range: %d", v)
	}
	return int32(v), nil
}
