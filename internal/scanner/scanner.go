package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/metrics"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// Ticker is one incremental scan pass. Discovery and ingestion engines both
// satisfy it. A failed tick leaves its cursor untouched, so the next tick
// retries the same window.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Progress is optionally implemented by tickers that can report their cursor
// position against the chain head they last observed. Runners include it in
// health snapshots.
type Progress interface {
	Progress() (cursorBlock, head uint64)
}

// Status is a health snapshot of one runner.
type Status struct {
	Network     string    `json:"network"`
	ScanType    string    `json:"scanType"`
	LastRun     time.Time `json:"lastRun"`
	LastError   string    `json:"lastError,omitempty"`
	Healthy     bool      `json:"healthy"`
	CursorBlock uint64    `json:"cursorBlock"`
	CursorLag   uint64    `json:"cursorLag"`
}

// Runner drives one (network, scan type) pair on a fixed interval.
type Runner struct {
	network  string
	scanType model.ScanType
	interval time.Duration
	ticker   Ticker
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	lastRun  time.Time
	lastErr  error
	ticks    uint64
	failures uint64
}

// NewRunner builds a scan runner.
func NewRunner(network string, scanType model.ScanType, interval time.Duration, ticker Ticker, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if interval == 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		network:  network,
		scanType: scanType,
		interval: interval,
		ticker:   ticker,
		metrics:  m,
		logger:   logger,
	}
}

// Run ticks until the context is canceled. The first tick fires
// immediately so a fresh process starts catching up without waiting a full
// interval.
func (r *Runner) Run(ctx context.Context) error {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	err := r.ticker.Tick(ctx)

	r.mu.Lock()
	r.lastRun = time.Now().UTC()
	r.lastErr = err
	r.ticks++
	if err != nil {
		r.failures++
	}
	r.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	errType := "internal"
	if errors.Is(err, model.ErrUpstreamUnavailable) {
		errType = "upstream"
	}
	r.metrics.ScanErrors.WithLabelValues(r.network, string(r.scanType), errType).Inc()
	r.logger.Error("scan tick failed",
		zap.String("network", r.network),
		zap.String("scan_type", string(r.scanType)),
		zap.Error(err))
}

// Status reports the runner's last outcome. A runner is healthy when its
// most recent tick succeeded.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		Network:  r.network,
		ScanType: string(r.scanType),
		LastRun:  r.lastRun,
		Healthy:  r.ticks > 0 && r.lastErr == nil,
	}
	if r.lastErr != nil {
		status.LastError = r.lastErr.Error()
	}
	if progress, ok := r.ticker.(Progress); ok {
		cursor, head := progress.Progress()
		status.CursorBlock = cursor
		if head > cursor {
			status.CursorLag = head - cursor
		}
	}
	return status
}
