package shard

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/vectormath"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	metadata   TEXT,
	created_at TEXT
);
CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	doc_id       TEXT NOT NULL REFERENCES documents(id),
	parent_id    TEXT,
	level        TEXT NOT NULL,
	text         TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	pagerank     REAL NOT NULL DEFAULT 0,
	metadata     TEXT
);
CREATE TABLE IF NOT EXISTS chunk_embeddings (
	chunk_id  TEXT PRIMARY KEY REFERENCES chunks(id),
	level     TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
CREATE INDEX IF NOT EXISTS idx_chunks_level ON chunks(level);
CREATE INDEX IF NOT EXISTS idx_embeddings_level ON chunk_embeddings(level);
`

// CreateSchema initializes an empty shard file.
func CreateSchema(ctx context.Context, h *Handle) error {
	return h.Exec(ctx, schema)
}

// Chunk is one ingest unit at a single level, embedding included.
type Chunk struct {
	ID          string
	ParentID    string
	Level       Level
	Text        string
	StartOffset int
	EndOffset   int
	PageRank    float64
	Metadata    map[string]interface{}
	Embedding   []float32
}

// Document is the ingest form of one document with its chunk tree.
type Document struct {
	ID        string
	Text      string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	Chunks    []Chunk
}

// InsertDocument writes a document and its chunks into a shard. The caller
// supplies chunk embeddings; see Split for the chunking step.
func InsertDocument(ctx context.Context, h *Handle, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Text == "" {
		return errors.New(errors.ErrInvalidInput, "document text is empty")
	}

	meta, _ := json.Marshal(doc.Metadata)
	created := ""
	if !doc.CreatedAt.IsZero() {
		created = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	if err := h.Exec(ctx,
		"INSERT OR REPLACE INTO documents (id, text, metadata, created_at) VALUES (?, ?, ?, ?)",
		doc.ID, doc.Text, string(meta), created); err != nil {
		return err
	}

	for i := range doc.Chunks {
		c := &doc.Chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		cmeta, _ := json.Marshal(c.Metadata)
		var parent interface{}
		if c.ParentID != "" {
			parent = c.ParentID
		}
		if err := h.Exec(ctx,
			`INSERT OR REPLACE INTO chunks
			 (id, doc_id, parent_id, level, text, start_offset, end_offset, pagerank, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, doc.ID, parent, string(c.Level), c.Text,
			c.StartOffset, c.EndOffset, c.PageRank, string(cmeta)); err != nil {
			return err
		}
		if len(c.Embedding) > 0 {
			if err := h.Exec(ctx,
				"INSERT OR REPLACE INTO chunk_embeddings (chunk_id, level, embedding) VALUES (?, ?, ?)",
				c.ID, string(c.Level), vectormath.Serialize(c.Embedding)); err != nil {
				return err
			}
		}
	}
	return nil
}

var paragraphSplit = regexp.MustCompile(`\n\s*\n`)
var sentenceSplit = regexp.MustCompile(`[.!?]+\s+`)

// Split chunks a document's text into the three-level hierarchy: one
// document chunk, paragraph chunks partitioning it, and sentence chunks
// partitioning each paragraph. Embeddings are left empty for the caller.
func Split(text string) []Chunk {
	docChunk := Chunk{
		ID:        uuid.NewString(),
		Level:     LevelDocument,
		Text:      text,
		EndOffset: len(text),
	}
	chunks := []Chunk{docChunk}

	offset := 0
	for _, para := range paragraphSplit.Split(text, -1) {
		trimmed := strings.TrimSpace(para)
		if trimmed == "" {
			offset += len(para)
			continue
		}
		start := strings.Index(text[offset:], trimmed) + offset
		end := start + len(trimmed)
		pChunk := Chunk{
			ID:          uuid.NewString(),
			ParentID:    docChunk.ID,
			Level:       LevelParagraph,
			Text:        trimmed,
			StartOffset: start,
			EndOffset:   end,
		}
		chunks = append(chunks, pChunk)

		sOffset := start
		for _, sent := range sentenceSplit.Split(trimmed, -1) {
			st := strings.TrimSpace(sent)
			if st == "" {
				continue
			}
			sStart := strings.Index(text[sOffset:], st) + sOffset
			chunks = append(chunks, Chunk{
				ID:          uuid.NewString(),
				ParentID:    pChunk.ID,
				Level:       LevelSentence,
				Text:        st,
				StartOffset: sStart,
				EndOffset:   sStart + len(st),
			})
			sOffset = sStart + len(st)
		}
		offset = end
	}
	return chunks
}

// DocCount reports the number of documents in a shard.
func DocCount(ctx context.Context, h *Handle) (int64, error) {
	rows, err := h.Query(ctx, "SELECT COUNT(*) FROM documents")
	if err != nil {
		return 0, err
	}
	if len(rows.Values) == 0 {
		return 0, nil
	}
	if n, ok := rows.Values[0][0].(int64); ok {
		return n, nil
	}
	return 0, nil
}

// Centroids computes the per-level mean embedding over every chunk in a
// shard. Levels with no embeddings are absent from the result.
func Centroids(ctx context.Context, h *Handle) (map[Level][]float32, error) {
	out := make(map[Level][]float32)
	for _, level := range []Level{LevelDocument, LevelParagraph, LevelSentence} {
		rows, err := h.Query(ctx, "SELECT embedding FROM chunk_embeddings WHERE level = ?", string(level))
		if err != nil {
			return nil, err
		}
		var vecs [][]float32
		for _, row := range rows.Values {
			var blob []byte
			switch v := row[0].(type) {
			case []byte:
				blob = v
			case string:
				blob = []byte(v)
			}
			if vec := vectormath.Deserialize(blob); vec != nil {
				vecs = append(vecs, vec)
			}
		}
		mean, err := vectormath.Mean(vecs)
		if err != nil {
			return nil, err
		}
		if mean != nil {
			out[level] = mean
		}
	}
	return out, nil
}
