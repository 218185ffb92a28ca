package shard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_Hierarchy(t *testing.T) {
	text := "First sentence. Second sentence.\n\nSecond paragraph here."
	chunks := Split(text)

	var docs, paras, sents []Chunk
	for _, c := range chunks {
		switch c.Level {
		case LevelDocument:
			docs = append(docs, c)
		case LevelParagraph:
			paras = append(paras, c)
		case LevelSentence:
			sents = append(sents, c)
		}
	}

	require.Len(t, docs, 1)
	assert.Equal(t, text, docs[0].Text)
	require.Len(t, paras, 2)
	require.Len(t, sents, 3)

	byID := make(map[string]Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, c := range chunks {
		if c.Level == LevelDocument {
			assert.Empty(t, c.ParentID)
			continue
		}
		parent, ok := byID[c.ParentID]
		require.True(t, ok, "chunk %q has no parent", c.Text)
		assert.LessOrEqual(t, parent.StartOffset, c.StartOffset)
		assert.GreaterOrEqual(t, parent.EndOffset, c.EndOffset)
		assert.Equal(t, c.Text, text[c.StartOffset:c.EndOffset])
	}
}

func TestSplit_SingleWord(t *testing.T) {
	chunks := Split("cat")
	require.Len(t, chunks, 3) // document, paragraph, sentence
	for _, c := range chunks {
		assert.Equal(t, "cat", c.Text)
	}
}

func TestInsertDocument_Validation(t *testing.T) {
	h := openTestShard(t)
	err := InsertDocument(context.Background(), h, &Document{Text: ""})
	require.Error(t, err)
}

func TestDocCountAndCentroids(t *testing.T) {
	h := openTestShard(t)
	insertEmbedded(t, h, "d1", "one", []float32{1, 0}, 0)
	insertEmbedded(t, h, "d2", "two", []float32{0, 1}, 0)

	n, err := DocCount(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	centroids, err := Centroids(context.Background(), h)
	require.NoError(t, err)
	require.Contains(t, centroids, LevelParagraph)
	assert.NotContains(t, centroids, LevelSentence)
	assert.InDelta(t, 0.5, centroids[LevelParagraph][0], 1e-6)
	assert.InDelta(t, 0.5, centroids[LevelParagraph][1], 1e-6)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelParagraph, level)

	level, err = ParseLevel("sentence")
	require.NoError(t, err)
	assert.Equal(t, LevelSentence, level)

	_, err = ParseLevel("chapter")
	require.Error(t, err)
}
