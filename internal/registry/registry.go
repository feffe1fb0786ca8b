package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/GLiquid/dexscreener-adapter/internal/model"
)

// Registry is the durable map of discovered pools, keyed by (network,
// address). Entries are append-only: an upsert of a known address never
// replaces its creation coordinates, so re-scanning a processed range is
// idempotent. Locking is per network; independent networks never contend.
type Registry struct {
	networks map[string]*networkPools
}

type networkPools struct {
	mu    sync.RWMutex
	pools map[common.Address]model.Pool
}

// New creates a registry for a fixed set of networks.
func New(networks []string) *Registry {
	r := &Registry{networks: make(map[string]*networkPools, len(networks))}
	for _, name := range networks {
		r.networks[name] = &networkPools{pools: make(map[common.Address]model.Pool)}
	}
	return r
}

func (r *Registry) network(name string) (*networkPools, error) {
	np, ok := r.networks[name]
	if !ok {
		return nil, fmt.Errorf("network %s: %w", name, model.ErrNotFound)
	}
	return np, nil
}

// Upsert records a discovered pool. It reports whether the pool was new.
// For an existing address only the earliest creation block is kept.
func (r *Registry) Upsert(pool model.Pool) (bool, error) {
	np, err := r.network(pool.Network)
	if err != nil {
		return false, err
	}

	np.mu.Lock()
	defer np.mu.Unlock()

	existing, ok := np.pools[pool.Address]
	if !ok {
		np.pools[pool.Address] = pool
		return true, nil
	}
	if pool.CreationBlock < existing.CreationBlock {
		pool.DiscoveredAt = existing.DiscoveredAt
		np.pools[pool.Address] = pool
	}
	return false, nil
}

// Get returns the pool registered at (network, address).
func (r *Registry) Get(network string, address common.Address) (model.Pool, error) {
	np, err := r.network(network)
	if err != nil {
		return model.Pool{}, err
	}

	np.mu.RLock()
	pool, ok := np.pools[address]
	np.mu.RUnlock()
	if !ok {
		return model.Pool{}, fmt.Errorf("pool %s: %w", address.Hex(), model.ErrNotFound)
	}
	return pool, nil
}

// PoolsAt returns all pools whose creation block is at or before the given
// block, sorted by address for deterministic iteration. Pools discovered
// later than toBlock are excluded even if their creation transaction lies
// inside a queried range.
func (r *Registry) PoolsAt(network string, toBlock uint64) ([]model.Pool, error) {
	np, err := r.network(network)
	if err != nil {
		return nil, err
	}

	np.mu.RLock()
	pools := make([]model.Pool, 0, len(np.pools))
	for _, pool := range np.pools {
		if pool.CreationBlock <= toBlock {
			pools = append(pools, pool)
		}
	}
	np.mu.RUnlock()

	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Address.Cmp(pools[j].Address) < 0
	})
	return pools, nil
}

// Snapshot returns every pool known for a network.
func (r *Registry) Snapshot(network string) ([]model.Pool, error) {
	np, err := r.network(network)
	if err != nil {
		return nil, err
	}

	np.mu.RLock()
	pools := make([]model.Pool, 0, len(np.pools))
	for _, pool := range np.pools {
		pools = append(pools, pool)
	}
	np.mu.RUnlock()

	sort.Slice(pools, func(i, j int) bool {
		return pools[i].Address.Cmp(pools[j].Address) < 0
	})
	return pools, nil
}

// Len returns the number of pools registered for a network.
func (r *Registry) Len(network string) int {
	np, err := r.network(network)
	if err != nil {
		return 0
	}
	np.mu.RLock()
	defer np.mu.RUnlock()
	return len(np.pools)
}

// Hydrate loads previously persisted pools, typically at startup.
func (r *Registry) Hydrate(network string, pools []model.Pool) error {
	np, err := r.network(network)
	if err != nil {
		return err
	}

	np.mu.Lock()
	for _, pool := range pools {
		np.pools[pool.Address] = pool
	}
	np.mu.Unlock()
	return nil
}
