package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

type cursorKey struct {
	network  string
	scanType model.ScanType
}

// MemoryStore is the default non-durable Store used when no Postgres DSN is
// configured, and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	pools   map[string]map[common.Address]model.Pool
	cursors map[cursorKey]model.ScanCursor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:   make(map[string]map[common.Address]model.Pool),
		cursors: make(map[cursorKey]model.ScanCursor),
	}
}

func (s *MemoryStore) LoadPools(_ context.Context, network string) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools[network]))
	for _, pool := range s.pools[network] {
		pools = append(pools, pool)
	}
	sort.Slice(pools, func(i, j int) bool {
		if pools[i].CreationBlock != pools[j].CreationBlock {
			return pools[i].CreationBlock < pools[j].CreationBlock
		}
		return bytes.Compare(pools[i].Address.Bytes(), pools[j].Address.Bytes()) < 0
	})
	return pools, nil
}

// SavePools merges by address, like the Postgres upsert: successive ticks
// each persist only their own window, and the union must survive.
func (s *MemoryStore) SavePools(_ context.Context, network string, pools []model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAddr := s.pools[network]
	if byAddr == nil {
		byAddr = make(map[common.Address]model.Pool)
		s.pools[network] = byAddr
	}
	for _, pool := range pools {
		existing, ok := byAddr[pool.Address]
		if ok && existing.CreationBlock < pool.CreationBlock {
			pool.CreationBlock = existing.CreationBlock
		}
		byAddr[pool.Address] = pool
	}
	return nil
}

func (s *MemoryStore) LoadCursor(_ context.Context, network string, scanType model.ScanType) (model.ScanCursor, bool, error) {
	s.mu.RLock()
	cursor, ok := s.cursors[cursorKey{network, scanType}]
	s.mu.RUnlock()
	return cursor, ok, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, network string, scanType model.ScanType, cursor model.ScanCursor) error {
	s.mu.Lock()
	s.cursors[cursorKey{network, scanType}] = cursor
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() {}

var _ Store = (*MemoryStore)(nil)
