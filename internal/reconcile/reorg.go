package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GLiquid/dexscreener-adapter/internal/chain"
	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// headerForgetter is implemented by chain clients that cache headers and
// need to drop stale entries after a rollback.
type headerForgetter interface {
	ForgetHeaders(from uint64)
}

// Detector verifies stored cursors against the canonical chain before a
// scanner trusts them, and performs the rollback when hashes disagree.
type Detector struct {
	cursors       *CursorStore
	cache         Cache
	rollbackDepth uint64
	logger        *zap.Logger
}

// NewDetector builds a reorg detector. rollbackDepth bounds how far the
// binary search may land when no retained checkpoint agrees with the chain.
func NewDetector(cursors *CursorStore, cache Cache, rollbackDepth uint64, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rollbackDepth == 0 {
		rollbackDepth = 64
	}
	return &Detector{
		cursors:       cursors,
		cache:         cache,
		rollbackDepth: rollbackDepth,
		logger:        logger,
	}
}

// Verify re-fetches the canonical hash at the cursor height. On agreement it
// returns the cursor unchanged. On mismatch it rolls the network's cursors
// back to the last point of agreement, invalidates the network's cache
// entries, and returns the rolled-back cursor with rolledBack=true. The
// caller then re-scans forward from it on the same tick. The
// model.ErrReorgDetected signal never escapes this layer.
func (d *Detector) Verify(ctx context.Context, src chain.HeadSource, network string, scanType model.ScanType) (model.ScanCursor, bool, error) {
	cursor, ok := d.cursors.Get(network, scanType)
	if !ok {
		return model.ScanCursor{}, false, nil
	}

	info, err := src.HeaderInfo(ctx, cursor.Block)
	if err != nil {
		return model.ScanCursor{}, false, fmt.Errorf("verify cursor %s/%s at %d: %w", network, scanType, cursor.Block, err)
	}
	if info.Hash == cursor.BlockHash {
		return cursor, false, nil
	}

	d.logger.Warn("reorg detected",
		zap.String("network", network),
		zap.String("scan_type", string(scanType)),
		zap.Uint64("height", cursor.Block),
		zap.String("stored_hash", cursor.BlockHash.Hex()),
		zap.String("canonical_hash", info.Hash.Hex()))

	if forgetter, ok := src.(headerForgetter); ok {
		// Re-fetch everything at and above the divergence candidate range.
		low := uint64(0)
		if cursor.Block > d.rollbackDepth {
			low = cursor.Block - d.rollbackDepth
		}
		forgetter.ForgetHeaders(low)
	}

	agreed, err := d.lastAgreement(ctx, src, network, scanType, cursor)
	if err != nil {
		return model.ScanCursor{}, false, err
	}

	if err := d.cursors.RollbackAll(network, agreed); err != nil {
		return model.ScanCursor{}, false, err
	}
	if d.cache != nil {
		d.cache.InvalidateNetwork(ctx, network)
	}

	d.logger.Info("cursor rolled back",
		zap.String("network", network),
		zap.Uint64("from", cursor.Block),
		zap.Uint64("to", agreed.Block))

	return agreed, true, nil
}

// lastAgreement binary-searches the retained checkpoints for the highest one
// whose stored hash still matches the canonical chain. Agreement is
// prefix-monotone: once a height diverges, everything above it diverges too.
// When no checkpoint agrees, it falls back to a fixed conservative depth
// below the cursor.
func (d *Detector) lastAgreement(ctx context.Context, src chain.HeadSource, network string, scanType model.ScanType, cursor model.ScanCursor) (model.ScanCursor, error) {
	checkpoints := d.cursors.Checkpoints(network, scanType)

	lo, hi := 0, len(checkpoints)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		cp := checkpoints[mid]
		info, err := src.HeaderInfo(ctx, cp.Block)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				// The node no longer serves this height; treat as disagreement.
				hi = mid - 1
				continue
			}
			return model.ScanCursor{}, err
		}
		if info.Hash == cp.BlockHash {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best >= 0 {
		return checkpoints[best], nil
	}

	// No retained checkpoint agrees: conservative fixed-depth rollback.
	var floor uint64
	if cursor.Block > d.rollbackDepth {
		floor = cursor.Block - d.rollbackDepth
	}
	info, err := src.HeaderInfo(ctx, floor)
	if err != nil {
		return model.ScanCursor{}, fmt.Errorf("fixed-depth rollback at %d: %w", floor, err)
	}
	return model.ScanCursor{Block: floor, BlockHash: info.Hash, UpdatedAt: cursor.UpdatedAt}, nil
}
