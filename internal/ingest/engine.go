package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/reconcile"
	"github.com/GLiquid/dexscreener-adapter/internal/registry"
	"github.com/GLiquid/dexscreener-adapter/internal/storage"
)

// Config sets the range policy for one network's ingestion engine.
type Config struct {
	Network         string
	StartBlock      uint64
	ConfirmationLag uint64
	BatchSize       uint64
	MaxRangeSpan    uint64
}

// Engine serves decoded pool events on demand and runs the background
// ingestion scan that keeps the network's ingestion cursor current. The
// cursor bounds what /latest-block advertises, so readers never see a block
// whose events have not been fully processed.
type Engine struct {
	cfg      Config
	heads    chain.HeadSource
	source   EventSource
	registry *registry.Registry
	cursors  *reconcile.CursorStore
	detector *reconcile.Detector
	store    storage.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
	head     atomic.Uint64
}

// NewEngine wires an ingestion engine. store may be nil (no persistence).
func NewEngine(cfg Config, heads chain.HeadSource, source EventSource, reg *registry.Registry, cursors *reconcile.CursorStore, detector *reconcile.Detector, store storage.Store, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.MaxRangeSpan == 0 {
		cfg.MaxRangeSpan = 10000
	}
	return &Engine{
		cfg:      cfg,
		heads:    heads,
		source:   source,
		registry: reg,
		cursors:  cursors,
		detector: detector,
		store:    store,
		metrics:  m,
		logger:   logger,
	}
}

// Events returns every Swap/Mint/Burn event of the network's known pools in
// [from, to], ascending by (block, tx index, log index). The range is
// validated before anything is fetched: an inverted or oversized range
// costs zero upstream calls.
func (e *Engine) Events(ctx context.Context, from, to uint64) ([]model.Event, error) {
	if to < from {
		return nil, &model.RangeError{From: from, To: to, MaxSpan: e.cfg.MaxRangeSpan, Reason: "toBlock below fromBlock"}
	}
	if span := to - from + 1; span > e.cfg.MaxRangeSpan {
		return nil, &model.RangeError{From: from, To: to, MaxSpan: e.cfg.MaxRangeSpan,
			Reason: fmt.Sprintf("span %d exceeds maximum %d", span, e.cfg.MaxRangeSpan)}
	}

	// Pools created after `to` cannot have events inside the range.
	pools, err := e.registry.PoolsAt(e.cfg.Network, to)
	if err != nil {
		return nil, err
	}
	if len(pools) == 0 {
		return []model.Event{}, nil
	}
	addresses := make([]common.Address, len(pools))
	for i, p := range pools {
		addresses[i] = p.Address
	}

	events, err := e.source.Events(ctx, from, to, addresses)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Key().Less(events[j].Key())
	})
	return events, nil
}

// Tick advances the ingestion cursor over the next confirmed window,
// re-decoding its events so decode and upstream failures surface in metrics
// before any API caller asks for the range. Fetched headers stay in the
// chain client's cache, which the API path reads through.
func (e *Engine) Tick(ctx context.Context) error {
	cursor, rolledBack, err := e.detector.Verify(ctx, e.heads, e.cfg.Network, model.ScanIngestion)
	if err != nil {
		return fmt.Errorf("ingestion %s: %w", e.cfg.Network, err)
	}
	if rolledBack {
		e.metrics.ReorgsDetected.WithLabelValues(e.cfg.Network).Inc()
	}

	head, err := e.heads.HeadBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("ingestion %s: head: %w", e.cfg.Network, err)
	}
	e.head.Store(head)
	if head < e.cfg.ConfirmationLag {
		return nil
	}
	upper := head - e.cfg.ConfirmationLag

	from := e.cfg.StartBlock
	if !cursor.IsZero() {
		from = cursor.Block + 1
	}
	if from > upper {
		return nil
	}
	to := upper
	if to-from+1 > e.cfg.BatchSize {
		to = from + e.cfg.BatchSize - 1
	}

	header, err := e.heads.HeaderInfo(ctx, to)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			e.logger.Debug("window header not yet available",
				zap.String("network", e.cfg.Network),
				zap.Uint64("block", to))
			return nil
		}
		return fmt.Errorf("ingestion %s: header %d: %w", e.cfg.Network, to, err)
	}

	events, err := e.Events(ctx, from, to)
	if err != nil {
		return fmt.Errorf("ingestion %s: [%d,%d]: %w", e.cfg.Network, from, to, err)
	}

	next := model.ScanCursor{Block: to, BlockHash: header.Hash, UpdatedAt: time.Now().UTC()}
	if err := e.cursors.Advance(e.cfg.Network, model.ScanIngestion, next); err != nil {
		return fmt.Errorf("ingestion %s: advance cursor: %w", e.cfg.Network, err)
	}
	if e.store != nil {
		if err := e.store.SaveCursor(ctx, e.cfg.Network, model.ScanIngestion, next); err != nil {
			e.logger.Error("persist cursor failed",
				zap.String("network", e.cfg.Network),
				zap.Error(err))
		}
	}

	e.metrics.LastProcessedBlock.WithLabelValues(e.cfg.Network, string(model.ScanIngestion)).Set(float64(to))
	e.metrics.CursorLag.WithLabelValues(e.cfg.Network, string(model.ScanIngestion)).Set(float64(head - to))

	if len(events) > 0 {
		e.logger.Info("events ingested",
			zap.String("network", e.cfg.Network),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("events", len(events)))
	}
	return nil
}

// Cursor returns the network's current ingestion cursor.
func (e *Engine) Cursor() (model.ScanCursor, bool) {
	return e.cursors.Get(e.cfg.Network, model.ScanIngestion)
}

// MaxRangeSpan exposes the configured span cap for request validation hints.
func (e *Engine) MaxRangeSpan() uint64 {
	return e.cfg.MaxRangeSpan
}

// Progress reports the ingestion cursor against the last observed head.
func (e *Engine) Progress() (uint64, uint64) {
	cursor, _ := e.cursors.Get(e.cfg.Network, model.ScanIngestion)
	return cursor.Block, e.head.Load()
}
