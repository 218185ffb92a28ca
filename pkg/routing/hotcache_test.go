package routing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

func testEntry(id string) *RoutingEntry {
	return &RoutingEntry{
		ID:     id,
		Path:   "/tmp/" + id + ".db",
		Status: "active",
		Centroids: map[shard.Level]Centroid{
			shard.LevelParagraph: {Vec: []float32{1, 0}, Norm: 1},
		},
	}
}

func TestHotCache_AdmitAndCandidates(t *testing.T) {
	c := NewHotCache(10)
	c.Admit(testEntry("s1"), shard.LevelParagraph)
	c.Admit(testEntry("s2"), shard.LevelParagraph)
	c.Admit(testEntry("s3"), shard.LevelSentence)

	para := c.CandidatesAtLevel(shard.LevelParagraph)
	require.Len(t, para, 2)

	sent := c.CandidatesAtLevel(shard.LevelSentence)
	require.Len(t, sent, 1)
	assert.Equal(t, "s3", sent[0].ID)
}

func TestHotCache_EvictsLeastRecentlyPromoted(t *testing.T) {
	c := NewHotCache(3)
	c.Admit(testEntry("s1"), shard.LevelParagraph)
	c.Admit(testEntry("s2"), shard.LevelParagraph)
	c.Admit(testEntry("s3"), shard.LevelParagraph)

	// s1 is oldest; promoting it should make s2 the eviction victim.
	c.Touch("s1", shard.LevelParagraph)
	c.Admit(testEntry("s4"), shard.LevelParagraph)

	ids := map[string]bool{}
	for _, e := range c.CandidatesAtLevel(shard.LevelParagraph) {
		ids[e.ID] = true
	}
	assert.True(t, ids["s1"])
	assert.False(t, ids["s2"], "least recently promoted entry must be evicted")
	assert.True(t, ids["s3"])
	assert.True(t, ids["s4"])
}

func TestHotCache_CapacityBound(t *testing.T) {
	c := NewHotCache(5)
	for i := 0; i < 20; i++ {
		c.Admit(testEntry(fmt.Sprintf("s%02d", i)), shard.LevelParagraph)
	}
	assert.Equal(t, 5, c.Len())
}

func TestHotCache_Invalidate(t *testing.T) {
	c := NewHotCache(10)
	c.Admit(testEntry("s1"), shard.LevelParagraph)
	c.Admit(testEntry("s1"), shard.LevelSentence)
	c.Admit(testEntry("s2"), shard.LevelParagraph)

	c.Invalidate("s1")

	assert.Equal(t, 1, c.Len())
	assert.Empty(t, c.CandidatesAtLevel(shard.LevelSentence))
}

func TestHotCache_AdmitRefreshesExisting(t *testing.T) {
	c := NewHotCache(10)
	c.Admit(testEntry("s1"), shard.LevelParagraph)

	updated := testEntry("s1")
	updated.DocCount = 42
	c.Admit(updated, shard.LevelParagraph)

	require.Equal(t, 1, c.Len())
	got := c.CandidatesAtLevel(shard.LevelParagraph)
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].DocCount)
}
