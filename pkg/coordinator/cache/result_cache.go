// Package cache is the bounded query-result cache: an LRU with TTL keyed
// by a fingerprint of the query, its normalized options, and the ranker
// configuration that produced the results.
package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mosaicdb/mosaicdb/pkg/coordinator/ranker"
)

// entry is one cached ranked result list.
type entry struct {
	key       string
	results   []ranker.ScoredCandidate
	expiresAt time.Time
}

// ResultCache caches ranked result lists. Invalidation is coarse: any
// shard registration clears everything.
type ResultCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used

	hits   int64
	misses int64
}

// New creates a result cache with the given entry capacity and TTL.
func New(capacity int, ttl time.Duration) *ResultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &ResultCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Key fingerprints a query. Options are normalized to a canonical JSON
// form so equivalent requests share an entry, and the ranker identity is
// mixed in so reconfiguring scorers never serves a stale ordering.
func Key(queryText string, options map[string]interface{}, rankerIdentity string) string {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	canonical := make([]interface{}, 0, 2*len(keys)+2)
	canonical = append(canonical, queryText, rankerIdentity)
	for _, k := range keys {
		canonical = append(canonical, k, options[k])
	}
	blob, _ := json.Marshal(canonical)
	return fmt.Sprintf("%016x", xxhash.Sum64(blob))
}

// Get returns the cached results for a key, if present and unexpired.
func (c *ResultCache) Get(key string) ([]ranker.ScoredCandidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)
	if time.Now().After(e.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.results, true
}

// Put stores a ranked result list, evicting the LRU entry when full.
func (c *ResultCache) Put(key string, results []ranker.ScoredCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		e.results = results
		e.expiresAt = now.Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*entry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&entry{
		key:       key,
		results:   results,
		expiresAt: now.Add(c.ttl),
	})
}

// Clear drops every entry. Called when a shard registers, since any cached
// result may now be incomplete.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
}

// Len reports the number of live entries.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports hit and miss counts since startup.
func (c *ResultCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
