package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

type countingTicker struct {
	calls atomic.Int64
	errs  []error
}

func (c *countingTicker) Tick(context.Context) error {
	n := c.calls.Add(1)
	if int(n) <= len(c.errs) {
		return c.errs[n-1]
	}
	return nil
}

func TestRunnerTicksUntilCanceled(t *testing.T) {
	ticker := &countingTicker{}
	runner := NewRunner("ethereum", model.ScanDiscovery, 10*time.Millisecond, ticker, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := runner.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// Immediate first tick plus several interval ticks.
	require.GreaterOrEqual(t, ticker.calls.Load(), int64(3))
}

func TestRunnerStatusTracksLastError(t *testing.T) {
	failure := errors.New("rpc down")
	ticker := &countingTicker{errs: []error{failure}}
	runner := NewRunner("ethereum", model.ScanIngestion, time.Hour, ticker, nil, nil)

	// Run once via a context that cancels right after the immediate tick.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = runner.Run(ctx)

	status := runner.Status()
	require.Equal(t, "ethereum", status.Network)
	require.Equal(t, "ingestion", status.ScanType)
	require.False(t, status.Healthy)
	require.Contains(t, status.LastError, "rpc down")

	// Recovery on the next tick flips health back.
	runner.tick(context.Background())
	require.True(t, runner.Status().Healthy)
	require.Empty(t, runner.Status().LastError)
}

type progressTicker struct {
	countingTicker
	cursor uint64
	head   uint64
}

func (p *progressTicker) Progress() (uint64, uint64) {
	return p.cursor, p.head
}

func TestRunnerStatusReportsCursorLag(t *testing.T) {
	ticker := &progressTicker{cursor: 100, head: 120}
	runner := NewRunner("ethereum", model.ScanIngestion, time.Hour, ticker, nil, nil)

	runner.tick(context.Background())

	status := runner.Status()
	require.True(t, status.Healthy)
	require.Equal(t, uint64(100), status.CursorBlock)
	require.Equal(t, uint64(20), status.CursorLag)

	// A head behind the cursor (mid-rollback snapshot) never reports
	// negative lag.
	ticker.head = 90
	require.Equal(t, uint64(0), runner.Status().CursorLag)
}
