package reconcile

import (
	"fmt"
	"sync"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// defaultHistoryLimit bounds the per-scanner checkpoint history retained for
// reorg binary search.
const defaultHistoryLimit = 128

// CursorStore tracks the scan cursors of every (network, scan-type) pair and
// retains a bounded history of recent checkpoints for reorg recovery. One
// mutex per network: a rollback touches both of a network's cursors
// atomically, and independent networks never contend.
type CursorStore struct {
	historyLimit int
	networks     map[string]*networkCursors
}

type networkCursors struct {
	mu      sync.RWMutex
	cursors map[model.ScanType]model.ScanCursor
	history map[model.ScanType][]model.ScanCursor // ascending by block
}

// NewCursorStore creates a cursor store for a fixed set of networks.
func NewCursorStore(networks []string) *CursorStore {
	s := &CursorStore{
		historyLimit: defaultHistoryLimit,
		networks:     make(map[string]*networkCursors, len(networks)),
	}
	for _, name := range networks {
		s.networks[name] = &networkCursors{
			cursors: make(map[model.ScanType]model.ScanCursor),
			history: make(map[model.ScanType][]model.ScanCursor),
		}
	}
	return s
}

func (s *CursorStore) network(name string) (*networkCursors, error) {
	nc, ok := s.networks[name]
	if !ok {
		return nil, fmt.Errorf("network %s: %w", name, model.ErrNotFound)
	}
	return nc, nil
}

// Get returns the current cursor for (network, scan type).
func (s *CursorStore) Get(network string, scanType model.ScanType) (model.ScanCursor, bool) {
	nc, err := s.network(network)
	if err != nil {
		return model.ScanCursor{}, false
	}
	nc.mu.RLock()
	cursor, ok := nc.cursors[scanType]
	nc.mu.RUnlock()
	return cursor, ok && !cursor.IsZero()
}

// Advance moves a cursor forward. Moving backward is only possible through
// Rollback, so readers can rely on monotonic progress outside reorgs.
func (s *CursorStore) Advance(network string, scanType model.ScanType, cursor model.ScanCursor) error {
	nc, err := s.network(network)
	if err != nil {
		return err
	}

	nc.mu.Lock()
	defer nc.mu.Unlock()

	current, ok := nc.cursors[scanType]
	if ok && !current.IsZero() && cursor.Block <= current.Block {
		return fmt.Errorf("cursor for %s/%s must move forward: %d <= %d", network, scanType, cursor.Block, current.Block)
	}

	nc.cursors[scanType] = cursor
	checkpoints := append(nc.history[scanType], cursor)
	if len(checkpoints) > s.historyLimit {
		checkpoints = checkpoints[len(checkpoints)-s.historyLimit:]
	}
	nc.history[scanType] = checkpoints
	return nil
}

// Hydrate installs a persisted cursor at startup without the forward check.
func (s *CursorStore) Hydrate(network string, scanType model.ScanType, cursor model.ScanCursor) error {
	nc, err := s.network(network)
	if err != nil {
		return err
	}
	nc.mu.Lock()
	nc.cursors[scanType] = cursor
	nc.history[scanType] = []model.ScanCursor{cursor}
	nc.mu.Unlock()
	return nil
}

// Checkpoints returns the retained checkpoint history, ascending by block.
func (s *CursorStore) Checkpoints(network string, scanType model.ScanType) []model.ScanCursor {
	nc, err := s.network(network)
	if err != nil {
		return nil
	}
	nc.mu.RLock()
	checkpoints := make([]model.ScanCursor, len(nc.history[scanType]))
	copy(checkpoints, nc.history[scanType])
	nc.mu.RUnlock()
	return checkpoints
}

// RollbackAll rolls every cursor of a network back to at most the given
// point. The rollback is applied under one lock: readers observe either the
// pre-rollback or post-rollback state, never a mix.
func (s *CursorStore) RollbackAll(network string, to model.ScanCursor) error {
	nc, err := s.network(network)
	if err != nil {
		return err
	}

	nc.mu.Lock()
	defer nc.mu.Unlock()

	for scanType, cursor := range nc.cursors {
		if cursor.Block <= to.Block {
			continue
		}
		nc.cursors[scanType] = to

		checkpoints := nc.history[scanType]
		kept := checkpoints[:0]
		for _, cp := range checkpoints {
			if cp.Block < to.Block {
				kept = append(kept, cp)
			}
		}
		nc.history[scanType] = append(kept, to)
	}
	return nil
}
