package subgraph

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

type swapRecord struct {
	Pool      eventPool `json:"pool"`
	LogIndex  uintValue `json:"logIndex"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Origin    string    `json:"origin"`
	Amount0   string    `json:"amount0"`
	Amount1   string    `json:"amount1"`
	Price     string    `json:"price"`
	Liquidity string    `json:"liquidity"`
	Tick      intValue  `json:"tick"`
	Reserves0 string    `json:"reserves0"`
	Reserves1 string    `json:"reserves1"`
}

type positionRecord struct {
	Pool      eventPool `json:"pool"`
	LogIndex  uintValue `json:"logIndex"`
	Owner     string    `json:"owner"`
	Origin    string    `json:"origin"`
	Amount    string    `json:"amount"`
	Amount0   string    `json:"amount0"`
	Amount1   string    `json:"amount1"`
	Reserves0 string    `json:"reserves0"`
	Reserves1 string    `json:"reserves1"`
}

type eventPool struct {
	ID     string      `json:"id"`
	Token0 tokenRecord `json:"token0"`
	Token1 tokenRecord `json:"token1"`
}

type transactionRecord struct {
	ID          string           `json:"id"`
	Index       uintValue        `json:"index"`
	BlockNumber uintValue        `json:"blockNumber"`
	Timestamp   uintValue        `json:"timestamp"`
	Swaps       []swapRecord     `json:"swaps"`
	Mints       []positionRecord `json:"mints"`
	Burns       []positionRecord `json:"burns"`
}

const eventPoolFields = `pool { id token0 { id decimals } token1 { id decimals } }`

// reservesProbeQuery checks whether the deployed schema carries post-event
// reserves on swaps; older schemas reject the fields.
const reservesProbeQuery = `query { swaps(first: 1) { reserves0 reserves1 } }`

func (s *Source) reservesSupported(ctx context.Context) bool {
	s.reservesOnce.Do(func() {
		err := s.client.Query(ctx, reservesProbeQuery, nil, nil)
		s.hasReserves = err == nil
		s.logger.Info("subgraph schema probed",
			zap.String("network", s.network),
			zap.Bool("reserves", s.hasReserves))
	})
	return s.hasReserves
}

func (s *Source) eventsQuery(withReserves bool) string {
	reserves := ""
	if withReserves {
		reserves = " reserves0 reserves1"
	}
	return fmt.Sprintf(`query($from: BigInt!, $to: BigInt!, $first: Int!, $lastId: ID!) {
  transactions(
    where: {blockNumber_gte: $from, blockNumber_lte: $to, id_gt: $lastId},
    first: $first, orderBy: id, orderDirection: asc
  ) {
    id
    index
    blockNumber
    timestamp
    swaps { %s logIndex sender recipient origin amount0 amount1 price liquidity tick%s }
    mints { %s logIndex owner origin amount amount0 amount1%s }
    burns { %s logIndex owner origin amount amount0 amount1%s }
  }
}`, eventPoolFields, reserves, eventPoolFields, reserves, eventPoolFields, reserves)
}

// Events pages through transactions in the range and flattens their swaps,
// mints and burns into canonical events restricted to the given pools.
// Subgraph amounts arrive in token units; they are rescaled to raw integer
// amounts using the token decimals embedded in each record.
func (s *Source) Events(ctx context.Context, from, to uint64, pools []common.Address) ([]model.Event, error) {
	if len(pools) == 0 {
		return nil, nil
	}
	wanted := make(map[common.Address]struct{}, len(pools))
	for _, p := range pools {
		wanted[p] = struct{}{}
	}

	query := s.eventsQuery(s.reservesSupported(ctx))

	var events []model.Event
	lastID := ""
	for {
		var resp struct {
			Transactions []transactionRecord `json:"transactions"`
		}
		vars := map[string]interface{}{
			"from":   fmt.Sprintf("%d", from),
			"to":     fmt.Sprintf("%d", to),
			"first":  pageSize,
			"lastId": lastID,
		}
		if err := s.client.Query(ctx, query, vars, &resp); err != nil {
			return nil, err
		}

		for _, tx := range resp.Transactions {
			events = append(events, s.decodeTransaction(tx, wanted)...)
		}
		if len(resp.Transactions) < pageSize {
			break
		}
		lastID = resp.Transactions[len(resp.Transactions)-1].ID
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Key().Less(events[j].Key())
	})
	return events, nil
}

func (s *Source) decodeTransaction(tx transactionRecord, wanted map[common.Address]struct{}) []model.Event {
	base := model.Event{
		Network:     s.network,
		BlockNumber: uint64(tx.BlockNumber),
		Timestamp:   uint64(tx.Timestamp),
		TxHash:      common.HexToHash(tx.ID),
		TxIndex:     uint(tx.Index),
	}

	var events []model.Event
	add := func(event model.Event, err error) {
		if err != nil {
			s.metrics.DecodeFailures.WithLabelValues(s.network).Inc()
			s.logger.Warn("skip undecodable subgraph event",
				zap.String("network", s.network),
				zap.String("tx", tx.ID),
				zap.Error(err))
			return
		}
		if _, ok := wanted[event.Pool]; !ok {
			return
		}
		s.metrics.EventsDecoded.WithLabelValues(s.network, string(event.Kind)).Inc()
		events = append(events, event)
	}

	for _, swap := range tx.Swaps {
		add(s.decodeSwap(base, swap))
	}
	for _, mint := range tx.Mints {
		event, err := s.decodePosition(base, mint, model.EventMint)
		add(event, err)
	}
	for _, burn := range tx.Burns {
		event, err := s.decodePosition(base, burn, model.EventBurn)
		add(event, err)
	}
	return events
}

func (s *Source) decodeSwap(base model.Event, record swapRecord) (model.Event, error) {
	event := base
	event.Kind = model.EventSwap
	event.LogIndex = uint(record.LogIndex)

	if !common.IsHexAddress(record.Pool.ID) {
		return model.Event{}, fmt.Errorf("invalid pool id %q", record.Pool.ID)
	}
	event.Pool = common.HexToAddress(record.Pool.ID)

	maker := record.Sender
	if maker == "" {
		maker = record.Origin
	}
	if common.IsHexAddress(maker) {
		event.Maker = common.HexToAddress(maker)
	}

	dec0 := uint8(record.Pool.Token0.Decimals)
	dec1 := uint8(record.Pool.Token1.Decimals)

	amount0, err := scaleDecimal(record.Amount0, dec0)
	if err != nil {
		return model.Event{}, fmt.Errorf("amount0: %w", err)
	}
	amount1, err := scaleDecimal(record.Amount1, dec1)
	if err != nil {
		return model.Event{}, fmt.Errorf("amount1: %w", err)
	}
	event.Amount0 = amount0
	event.Amount1 = amount1
	event.Tick = int32(record.Tick)

	if record.Price != "" {
		price, ok := new(big.Int).SetString(record.Price, 10)
		if !ok {
			return model.Event{}, fmt.Errorf("invalid price %q", record.Price)
		}
		event.SqrtPriceX96 = price
	}
	if record.Liquidity != "" {
		liquidity, ok := new(big.Int).SetString(record.Liquidity, 10)
		if !ok {
			return model.Event{}, fmt.Errorf("invalid liquidity %q", record.Liquidity)
		}
		event.Liquidity = liquidity
	}

	if err := applyReserves(&event, record.Reserves0, record.Reserves1, dec0, dec1); err != nil {
		return model.Event{}, err
	}
	return event, nil
}

func (s *Source) decodePosition(base model.Event, record positionRecord, kind model.EventKind) (model.Event, error) {
	event := base
	event.Kind = kind
	event.LogIndex = uint(record.LogIndex)

	if !common.IsHexAddress(record.Pool.ID) {
		return model.Event{}, fmt.Errorf("invalid pool id %q", record.Pool.ID)
	}
	event.Pool = common.HexToAddress(record.Pool.ID)
	if common.IsHexAddress(record.Owner) {
		event.Maker = common.HexToAddress(record.Owner)
	}

	dec0 := uint8(record.Pool.Token0.Decimals)
	dec1 := uint8(record.Pool.Token1.Decimals)

	amount0, err := scaleDecimal(record.Amount0, dec0)
	if err != nil {
		return model.Event{}, fmt.Errorf("amount0: %w", err)
	}
	amount1, err := scaleDecimal(record.Amount1, dec1)
	if err != nil {
		return model.Event{}, fmt.Errorf("amount1: %w", err)
	}
	event.Amount0 = amount0
	event.Amount1 = amount1

	if record.Amount != "" {
		liquidity, ok := new(big.Int).SetString(record.Amount, 10)
		if !ok {
			return model.Event{}, fmt.Errorf("invalid liquidity amount %q", record.Amount)
		}
		event.Liquidity = liquidity
	}

	if err := applyReserves(&event, record.Reserves0, record.Reserves1, dec0, dec1); err != nil {
		return model.Event{}, err
	}
	return event, nil
}

func applyReserves(event *model.Event, reserves0, reserves1 string, dec0, dec1 uint8) error {
	if reserves0 == "" && reserves1 == "" {
		return nil
	}
	if reserves0 != "" {
		value, err := scaleDecimal(reserves0, dec0)
		if err != nil {
			return fmt.Errorf("reserves0: %w", err)
		}
		event.Reserve0 = value
	}
	if reserves1 != "" {
		value, err := scaleDecimal(reserves1, dec1)
		if err != nil {
			return fmt.Errorf("reserves1: %w", err)
		}
		event.Reserve1 = value
	}
	return nil
}

// scaleDecimal converts a decimal token-unit string into a raw integer
// amount, multiplying by 10^decimals without going through floating point.
// Fractional digits beyond the token's precision indicate a malformed value.
func scaleDecimal(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}

	negative := false
	switch value[0] {
	case '-':
		negative = true
		value = value[1:]
	case '+':
		value = value[1:]
	}

	whole, frac := value, ""
	if dot := strings.IndexByte(value, '.'); dot >= 0 {
		whole, frac = value[:dot], value[dot+1:]
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%q has more than %d fractional digits", value, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	if digits == "" {
		digits = "0"
	}

	result, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", value)
	}
	if negative {
		result.Neg(result)
	}
	return result, nil
}
