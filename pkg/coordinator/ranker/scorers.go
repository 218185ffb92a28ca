package ranker

import (
	"math"
	"strings"
	"time"
)

// VectorSimilarityScorer passes the cosine-derived similarity through,
// clamped to [0, 1].
type VectorSimilarityScorer struct {
	W float64
}

func (s *VectorSimilarityScorer) Name() string    { return "vector_similarity" }
func (s *VectorSimilarityScorer) Weight() float64 { return s.W }

func (s *VectorSimilarityScorer) Score(c *Candidate, _ *Context) float64 {
	if c.Similarity < 0 {
		return 0
	}
	if c.Similarity > 1 {
		return 1
	}
	return c.Similarity
}

// PageRankScorer normalizes pagerank by a configured ceiling.
type PageRankScorer struct {
	W float64
}

func (s *PageRankScorer) Name() string    { return "pagerank" }
func (s *PageRankScorer) Weight() float64 { return s.W }

func (s *PageRankScorer) Score(c *Candidate, rctx *Context) float64 {
	max := rctx.PageRankMax
	if max <= 0 {
		max = 100
	}
	return math.Min(1.0, c.PageRank/max)
}

// FreshnessScorer decays with document age: 0.5^(age/half-life). A
// candidate without a date scores the neutral 0.5.
type FreshnessScorer struct {
	W float64
}

func (s *FreshnessScorer) Name() string    { return "freshness" }
func (s *FreshnessScorer) Weight() float64 { return s.W }

func (s *FreshnessScorer) Score(c *Candidate, rctx *Context) float64 {
	date := candidateDate(c)
	if date.IsZero() {
		return 0.5
	}
	halfLife := rctx.FreshnessHalfLife
	if halfLife <= 0 {
		halfLife = 30 * 24 * time.Hour
	}
	age := rctx.Now.Sub(date)
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

// TextMatchScorer is the fraction of query terms occurring in the text,
// case-insensitively. No terms scores 0.
type TextMatchScorer struct {
	W float64
}

func (s *TextMatchScorer) Name() string    { return "text_match" }
func (s *TextMatchScorer) Weight() float64 { return s.W }

func (s *TextMatchScorer) Score(c *Candidate, rctx *Context) float64 {
	if len(rctx.Terms) == 0 {
		return 0
	}
	lower := strings.ToLower(c.Text)
	matched := 0
	for _, term := range rctx.Terms {
		if strings.Contains(lower, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(rctx.Terms))
}
