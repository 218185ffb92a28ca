package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicdb/mosaicdb/pkg/coordinator/ranker"
)

func results(ids ...string) []ranker.ScoredCandidate {
	out := make([]ranker.ScoredCandidate, len(ids))
	for i, id := range ids {
		out[i] = ranker.ScoredCandidate{Candidate: ranker.Candidate{ID: id}}
	}
	return out
}

func TestResultCache_PutGet(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k1", results("a", "b"))

	got, ok := c.Get("k1")
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	_, ok = c.Get("k2")
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	c := New(10, 10*time.Millisecond)
	c.Put("k1", results("a"))

	_, ok := c.Get("k1")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("k1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestResultCache_LRUEviction(t *testing.T) {
	c := New(2, time.Minute)
	c.Put("k1", results("a"))
	c.Put("k2", results("b"))

	// Promote k1 so k2 becomes the victim.
	_, ok := c.Get("k1")
	require.True(t, ok)

	c.Put("k3", results("c"))

	_, ok = c.Get("k1")
	assert.True(t, ok)
	_, ok = c.Get("k2")
	assert.False(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestResultCache_ClearOnRegistration(t *testing.T) {
	c := New(10, time.Minute)
	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), results("x"))
	}
	require.Equal(t, 5, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
}

func TestKey_Canonicalization(t *testing.T) {
	a := Key("query", map[string]interface{}{"limit": 10, "level": "paragraph"}, "r1")
	b := Key("query", map[string]interface{}{"level": "paragraph", "limit": 10}, "r1")
	assert.Equal(t, a, b, "option order must not change the fingerprint")

	c := Key("query", map[string]interface{}{"limit": 20, "level": "paragraph"}, "r1")
	assert.NotEqual(t, a, c)

	d := Key("query", map[string]interface{}{"limit": 10, "level": "paragraph"}, "r2")
	assert.NotEqual(t, a, d, "ranker identity must be part of the key")

	e := Key("other query", map[string]interface{}{"limit": 10, "level": "paragraph"}, "r1")
	assert.NotEqual(t, a, e)
}
