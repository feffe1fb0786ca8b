package storage

import (
	"context"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// Store persists the pool registry and scan cursors across restarts. The
// registry and cursor store hydrate from it at startup and write through
// after each successful scan tick. Persistence failures are logged, not
// fatal: the in-memory state remains authoritative for the running process.
type Store interface {
	LoadPools(ctx context.Context, network string) ([]model.Pool, error)
	SavePools(ctx context.Context, network string, pools []model.Pool) error
	LoadCursor(ctx context.Context, network string, scanType model.ScanType) (model.ScanCursor, bool, error)
	SaveCursor(ctx context.Context, network string, scanType model.ScanType, cursor model.ScanCursor) error
	Close()
}
