package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"fintrack/internal/core"
)

// LRUStatsCache keeps statistics in process. Suitable for a single instance.
type LRUStatsCache struct {
	entries *LRUCache[core.MonthlyStatistics]

	mu          sync.Mutex
	generations map[string]uint64
}

var _ StatsCache = (*LRUStatsCache)(nil)

func NewLRUStatsCache(maxEntries int, ttl time.Duration) *LRUStatsCache {
	return &LRUStatsCache{
		entries:     NewLRUCache[core.MonthlyStatistics](maxEntries, ttl),
		generations: make(map[string]uint64),
	}
}

func statsKey(userID string, gen uint64, key string) string {
	return userID + "|" + strconv.FormatUint(gen, 10) + "|" + key
}

func (c *LRUStatsCache) Generation(_ context.Context, userID string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[userID], true
}

func (c *LRUStatsCache) GetStats(_ context.Context, userID string, gen uint64, key string) (core.MonthlyStatistics, bool) {
	return c.entries.Get(statsKey(userID, gen, key))
}

func (c *LRUStatsCache) SetStats(_ context.Context, userID string, gen uint64, key string, stats core.MonthlyStatistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[userID] != gen {
		return
	}
	c.entries.Set(statsKey(userID, gen, key), stats)
}

func (c *LRUStatsCache) InvalidateUser(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[userID]++
	c.entries.DeletePrefix(userID + "|")
}

// CleanExpired lets a Manager sweep the underlying LRU.
func (c *LRUStatsCache) CleanExpired() int {
	return c.entries.CleanExpired()
}
