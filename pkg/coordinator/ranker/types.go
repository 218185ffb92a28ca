// Package ranker fuses per-candidate scoring signals into one final
// ordering. Scorers are pluggable behind a small interface; three fusion
// strategies combine their outputs.
package ranker

import (
	"time"
)

// Candidate is one unranked search hit as produced by the fan-out executor.
type Candidate struct {
	ID         string                 `json:"id"`
	DocID      string                 `json:"doc_id"`
	ShardID    string                 `json:"shard_id"`
	Text       string                 `json:"text"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	PageRank   float64                `json:"pagerank"`
	Similarity float64                `json:"similarity"`
}

// Grounding links a result back to its source document and parent chunk.
type Grounding struct {
	DocumentText string `json:"document_text"`
	StartOffset  int64  `json:"start_offset"`
	EndOffset    int64  `json:"end_offset"`
	ParentText   string `json:"parent_text,omitempty"`
}

// ScoredCandidate is a candidate after ranking, carrying every per-scorer
// signal and the fused final score.
type ScoredCandidate struct {
	Candidate
	Scores     map[string]float64 `json:"scores"`
	FinalScore float64            `json:"final_score"`
	Grounding  *Grounding         `json:"grounding,omitempty"`
}

// Context is the per-query state scorers read from.
type Context struct {
	QueryText string
	Terms     []string
	Now       time.Time

	PageRankMax       float64
	FreshnessHalfLife time.Duration
}

// Scorer produces one signal in [0, 1] for a candidate.
type Scorer interface {
	Name() string
	Weight() float64
	Score(c *Candidate, rctx *Context) float64
}
