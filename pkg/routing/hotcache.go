package routing

import (
	"container/list"
	"sync"

	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

// HotCache is the bounded in-memory LRU of routing entries, keyed by
// (shard id, level). It answers the common case of routing without
// touching the index database.
type HotCache struct {
	mu       sync.Mutex
	entries  map[hotKey]*list.Element
	order    *list.List // front = most recently used
	capacity int
}

type hotKey struct {
	shardID string
	level   shard.Level
}

type hotItem struct {
	key   hotKey
	entry *RoutingEntry
}

// NewHotCache creates a cache with the given capacity.
func NewHotCache(capacity int) *HotCache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &HotCache{
		entries:  make(map[hotKey]*list.Element),
		order:    list.New(),
		capacity: capacity,
	}
}

// Preload fills the cache with the top shards by query_count at each level.
func (c *HotCache) Preload(idx *Index, logger *zap.Logger) {
	for _, level := range []shard.Level{shard.LevelDocument, shard.LevelParagraph, shard.LevelSentence} {
		entries, err := idx.EntriesAtLevel(level, c.capacity)
		if err != nil {
			logger.Warn("hot cache preload failed", zap.String("level", string(level)), zap.Error(err))
			continue
		}
		for _, e := range entries {
			c.Admit(e, level)
		}
	}
}

// CandidatesAtLevel returns every cached entry carrying a centroid at the
// requested level. Does not promote; promotion happens when the router
// actually selects a shard.
func (c *HotCache) CandidatesAtLevel(level shard.Level) []*RoutingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*RoutingEntry
	for key, el := range c.entries {
		if key.level == level {
			out = append(out, el.Value.(*hotItem).entry)
		}
	}
	return out
}

// Admit inserts or refreshes an entry at most-recently-used position,
// evicting the LRU entry when full.
func (c *HotCache) Admit(entry *RoutingEntry, level shard.Level) {
	key := hotKey{shardID: entry.ID, level: level}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*hotItem).entry = entry
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*hotItem).key)
		}
	}
	c.entries[key] = c.order.PushFront(&hotItem{key: key, entry: entry})
}

// Touch promotes a shard's entry at a level to most-recently-used.
func (c *HotCache) Touch(shardID string, level shard.Level) {
	key := hotKey{shardID: shardID, level: level}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
	}
}

// Invalidate drops every cached entry for a shard, all levels. Called on
// re-registration so stale centroids are refetched.
func (c *HotCache) Invalidate(shardID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.entries {
		if key.shardID == shardID {
			c.order.Remove(el)
			delete(c.entries, key)
		}
	}
}

// Len reports the number of cached entries.
func (c *HotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
