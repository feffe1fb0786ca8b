package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache holds serialized responses keyed by network + endpoint + parameters.
// It is advisory: a miss or eviction never changes correctness, only cost.
// Entries for a network are invalidated immediately when a reorg is detected.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	InvalidateNetwork(ctx context.Context, network string)
}

// CacheKey builds the canonical cache key. The network prefix is what
// InvalidateNetwork matches on.
func CacheKey(network, endpoint, params string) string {
	var b strings.Builder
	b.WriteString(network)
	b.WriteByte(':')
	b.WriteString(endpoint)
	if params != "" {
		b.WriteByte(':')
		b.WriteString(params)
	}
	return b.String()
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the default in-process TTL cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *MemoryCache) InvalidateNetwork(_ context.Context, network string) {
	prefix := network + ":"
	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

var _ Cache = (*MemoryCache)(nil)
