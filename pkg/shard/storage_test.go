package shard

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestShard(t *testing.T) *Handle {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "shard.db"), 5000)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	require.NoError(t, CreateSchema(context.Background(), h))
	return h
}

// insertEmbedded writes one document with a single paragraph chunk carrying
// the given embedding.
func insertEmbedded(t *testing.T, h *Handle, docID, text string, embedding []float32, pagerank float64) {
	t.Helper()
	doc := &Document{
		ID:        docID,
		Text:      text,
		CreatedAt: time.Now(),
		Chunks: []Chunk{
			{
				Level:     LevelParagraph,
				Text:      text,
				EndOffset: len(text),
				PageRank:  pagerank,
				Embedding: embedding,
			},
		},
	}
	require.NoError(t, InsertDocument(context.Background(), h, doc))
}

func TestVectorSearch_OrdersByDistance(t *testing.T) {
	h := openTestShard(t)
	insertEmbedded(t, h, "d1", "cat", []float32{1, 0, 0}, 0)
	insertEmbedded(t, h, "d2", "dog", []float32{0, 1, 0}, 0)
	insertEmbedded(t, h, "d3", "dogfish", []float32{0, 0.9, 0.1}, 0)

	hits, err := h.VectorSearch(context.Background(), []float32{0, 1, 0}, LevelParagraph, "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "d2", hits[0].DocID)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	assert.Equal(t, "d3", hits[1].DocID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i].Distance, hits[i-1].Distance)
	}
}

func TestVectorSearch_RespectsLimitAndLevel(t *testing.T) {
	h := openTestShard(t)
	insertEmbedded(t, h, "d1", "one", []float32{1, 0}, 0)
	insertEmbedded(t, h, "d2", "two", []float32{0.9, 0.1}, 0)
	insertEmbedded(t, h, "d3", "three", []float32{0.8, 0.2}, 0)

	hits, err := h.VectorSearch(context.Background(), []float32{1, 0}, LevelParagraph, "", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	none, err := h.VectorSearch(context.Background(), []float32{1, 0}, LevelSentence, "", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestVectorSearch_FilterAppliesPerShard(t *testing.T) {
	h := openTestShard(t)

	doc := &Document{
		ID:       "p1",
		Text:     "premium electronics",
		Metadata: map[string]interface{}{"category": "electronics"},
		Chunks: []Chunk{{
			Level:     LevelParagraph,
			Text:      "premium electronics",
			EndOffset: 19,
			Embedding: []float32{1, 0},
		}},
	}
	require.NoError(t, InsertDocument(context.Background(), h, doc))

	hits, err := h.VectorSearch(context.Background(), []float32{1, 0}, LevelParagraph,
		"json_extract(d.metadata, '$.category') = 'electronics'", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = h.VectorSearch(context.Background(), []float32{1, 0}, LevelParagraph,
		"json_extract(d.metadata, '$.category') = 'books'", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGrounding(t *testing.T) {
	h := openTestShard(t)

	parent := Chunk{ID: "c-parent", Level: LevelParagraph, Text: "whole paragraph", EndOffset: 15, Embedding: []float32{1, 0}}
	child := Chunk{ID: "c-child", ParentID: "c-parent", Level: LevelSentence, Text: "whole", StartOffset: 0, EndOffset: 5, Embedding: []float32{1, 0}}
	doc := &Document{ID: "d1", Text: "whole paragraph", Chunks: []Chunk{parent, child}}
	require.NoError(t, InsertDocument(context.Background(), h, doc))

	g, err := h.Grounding(context.Background(), "c-child")
	require.NoError(t, err)
	assert.Equal(t, "whole paragraph", g.DocText)
	assert.Equal(t, int64(0), g.StartOffset)
	assert.Equal(t, int64(5), g.EndOffset)
	assert.Equal(t, "whole paragraph", g.ParentText)

	_, err = h.Grounding(context.Background(), "missing")
	require.Error(t, err)
}

func TestQuery_NamedColumns(t *testing.T) {
	h := openTestShard(t)
	insertEmbedded(t, h, "d1", "text one", []float32{1, 0}, 2.5)

	rows, err := h.Query(context.Background(), "SELECT id, pagerank FROM chunks")
	require.NoError(t, err)
	require.Len(t, rows.Values, 1)
	assert.Equal(t, 1, rows.Index("pagerank"))
	assert.Equal(t, -1, rows.Index("missing"))
	assert.Equal(t, 2.5, rows.Values[0][1])
}
