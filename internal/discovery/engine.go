package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
	"github.com/GLiquid/dexscreener-adapter/internal/reconcile"
	"github.com/GLiquid/dexscreener-adapter/internal/registry"
	"github.com/GLiquid/dexscreener-adapter/internal/storage"
)

// Config sets the scan window policy for one network's discovery engine.
type Config struct {
	Network         string
	StartBlock      uint64
	ConfirmationLag uint64
	BatchSize       uint64
}

// Engine discovers new pools from factory creation events, one confirmed
// window per tick. The cursor only advances after every pool in the window
// is in the registry, so a crashed tick is re-run in full.
type Engine struct {
	cfg      Config
	heads    chain.HeadSource
	source   PoolCreationSource
	registry *registry.Registry
	cursors  *reconcile.CursorStore
	detector *reconcile.Detector
	store    storage.Store
	metrics  *metrics.Metrics
	logger   *zap.Logger
	head     atomic.Uint64
}

// NewEngine wires a discovery engine. store may be nil (no persistence).
func NewEngine(cfg Config, heads chain.HeadSource, source PoolCreationSource, reg *registry.Registry, cursors *reconcile.CursorStore, detector *reconcile.Detector, store storage.Store, m *metrics.Metrics, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
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

// Tick runs one discovery pass: verify the cursor against the canonical
// chain, scan the next confirmed window, upsert discoveries, then advance.
func (e *Engine) Tick(ctx context.Context) error {
	cursor, rolledBack, err := e.detector.Verify(ctx, e.heads, e.cfg.Network, model.ScanDiscovery)
	if err != nil {
		return fmt.Errorf("discovery %s: %w", e.cfg.Network, err)
	}
	if rolledBack {
		e.metrics.ReorgsDetected.WithLabelValues(e.cfg.Network).Inc()
	}

	head, err := e.heads.HeadBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("discovery %s: head: %w", e.cfg.Network, err)
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

	// The window's upper header anchors the cursor hash. If the node cannot
	// serve it yet, skip the tick rather than record an unverifiable cursor.
	header, err := e.heads.HeaderInfo(ctx, to)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			e.logger.Debug("window header not yet available",
				zap.String("network", e.cfg.Network),
				zap.Uint64("block", to))
			return nil
		}
		return fmt.Errorf("discovery %s: header %d: %w", e.cfg.Network, to, err)
	}

	pools, err := e.source.PoolCreations(ctx, from, to)
	if err != nil {
		return fmt.Errorf("discovery %s: [%d,%d]: %w", e.cfg.Network, from, to, err)
	}

	added := 0
	for _, pool := range pools {
		ok, err := e.registry.Upsert(pool)
		if err != nil {
			return fmt.Errorf("discovery %s: upsert %s: %w", e.cfg.Network, pool.Address.Hex(), err)
		}
		if ok {
			added++
		}
	}

	if e.store != nil && len(pools) > 0 {
		if err := e.store.SavePools(ctx, e.cfg.Network, pools); err != nil {
			e.logger.Error("persist pools failed",
				zap.String("network", e.cfg.Network),
				zap.Int("pools", len(pools)),
				zap.Error(err))
		}
	}

	next := model.ScanCursor{Block: to, BlockHash: header.Hash, UpdatedAt: time.Now().UTC()}
	if err := e.cursors.Advance(e.cfg.Network, model.ScanDiscovery, next); err != nil {
		return fmt.Errorf("discovery %s: advance cursor: %w", e.cfg.Network, err)
	}
	if e.store != nil {
		if err := e.store.SaveCursor(ctx, e.cfg.Network, model.ScanDiscovery, next); err != nil {
			e.logger.Error("persist cursor failed",
				zap.String("network", e.cfg.Network),
				zap.Error(err))
		}
	}

	e.metrics.LastProcessedBlock.WithLabelValues(e.cfg.Network, string(model.ScanDiscovery)).Set(float64(to))
	e.metrics.CursorLag.WithLabelValues(e.cfg.Network, string(model.ScanDiscovery)).Set(float64(head - to))
	e.metrics.PoolsInRegistry.WithLabelValues(e.cfg.Network).Set(float64(e.registry.Len(e.cfg.Network)))

	if added > 0 {
		e.logger.Info("pools discovered",
			zap.String("network", e.cfg.Network),
			zap.Uint64("from", from),
			zap.Uint64("to", to),
			zap.Int("added", added))
	} else {
		e.logger.Debug("discovery window empty",
			zap.String("network", e.cfg.Network),
			zap.Uint64("from", from),
			zap.Uint64("to", to))
	}
	return nil
}

// Progress reports the discovery cursor against the last observed head.
func (e *Engine) Progress() (uint64, uint64) {
	cursor, _ := e.cursors.Get(e.cfg.Network, model.ScanDiscovery)
	return cursor.Block, e.head.Load()
}
