package ranker

import (
	"fmt"
	"sort"
	"strings"
)

// Ranker applies a fixed set of scorers and one fusion strategy to a
// candidate set. A Ranker is immutable after construction and safe for
// concurrent use.
type Ranker struct {
	scorers  []Scorer
	fusion   Fusion
	rrfK     float64
	minScore float64
	identity string
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithFusion selects the fusion strategy.
func WithFusion(f Fusion) Option {
	return func(r *Ranker) { r.fusion = f }
}

// WithRRFConstant sets the k constant for reciprocal rank fusion.
func WithRRFConstant(k float64) Option {
	return func(r *Ranker) { r.rrfK = k }
}

// WithMinScore drops results whose final score falls below the threshold.
func WithMinScore(min float64) Option {
	return func(r *Ranker) { r.minScore = min }
}

// New builds a ranker over the given scorers.
func New(scorers []Scorer, opts ...Option) *Ranker {
	r := &Ranker{
		scorers: scorers,
		fusion:  FusionWeightedSum,
		rrfK:    60,
	}
	for _, opt := range opts {
		opt(r)
	}

	parts := make([]string, 0, len(scorers)+2)
	parts = append(parts, string(r.fusion), fmt.Sprintf("k=%g;min=%g", r.rrfK, r.minScore))
	for _, s := range r.scorers {
		parts = append(parts, fmt.Sprintf("%s:%g", s.Name(), s.Weight()))
	}
	r.identity = strings.Join(parts, "|")
	return r
}

// Default builds the standard ranker: vector similarity dominant, pagerank
// and freshness as secondary signals, text match as a lexical check.
func Default(opts ...Option) *Ranker {
	return New([]Scorer{
		&VectorSimilarityScorer{W: 0.5},
		&PageRankScorer{W: 0.2},
		&FreshnessScorer{W: 0.1},
		&TextMatchScorer{W: 0.2},
	}, opts...)
}

// Identity is a stable description of the ranker's configuration. It is
// part of the result-cache key so reconfiguring the ranker never serves
// stale orderings.
func (r *Ranker) Identity() string { return r.identity }

// Rank scores, fuses, sorts, and thresholds the candidate set. The output
// is deterministic for a given input set and context.
func (r *Ranker) Rank(candidates []Candidate, rctx *Context) []ScoredCandidate {
	scored := make([]ScoredCandidate, len(candidates))
	for i := range candidates {
		scores := make(map[string]float64, len(r.scorers))
		for _, s := range r.scorers {
			scores[s.Name()] = s.Score(&candidates[i], rctx)
		}
		scored[i] = ScoredCandidate{Candidate: candidates[i], Scores: scores}
	}

	switch r.fusion {
	case FusionReciprocalRank:
		fuseReciprocalRank(scored, r.scorers, r.rrfK)
	case FusionMaxScore:
		fuseMaxScore(scored, r.scorers)
	default:
		fuseWeightedSum(scored, r.scorers)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.ID < b.ID
	})

	if r.minScore > 0 {
		kept := scored[:0]
		for _, c := range scored {
			if c.FinalScore >= r.minScore {
				kept = append(kept, c)
			}
		}
		scored = kept
	}
	return scored
}
