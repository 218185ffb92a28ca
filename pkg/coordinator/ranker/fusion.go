package ranker

import (
	"sort"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
)

// Fusion selects how per-scorer signals combine into a final score.
type Fusion string

const (
	FusionWeightedSum    Fusion = "weighted_sum"
	FusionReciprocalRank Fusion = "reciprocal_rank"
	FusionMaxScore       Fusion = "max_score"
)

// ParseFusion validates a fusion name, mapping "" to weighted_sum.
func ParseFusion(s string) (Fusion, error) {
	switch Fusion(s) {
	case "":
		return FusionWeightedSum, nil
	case FusionWeightedSum, FusionReciprocalRank, FusionMaxScore:
		return Fusion(s), nil
	default:
		return "", errors.Newf(errors.ErrInvalidInput, "unknown fusion strategy %q", s)
	}
}

func fuseWeightedSum(scored []ScoredCandidate, scorers []Scorer) {
	for i := range scored {
		var final float64
		for _, s := range scorers {
			final += s.Weight() * scored[i].Scores[s.Name()]
		}
		scored[i].FinalScore = final
	}
}

// fuseReciprocalRank ranks candidates independently per scorer and sums
// 1/(k + rank). Rank ties share the better rank so equal scores fuse
// identically regardless of input order.
func fuseReciprocalRank(scored []ScoredCandidate, scorers []Scorer, k float64) {
	for i := range scored {
		scored[i].FinalScore = 0
	}
	order := make([]int, len(scored))
	for _, s := range scorers {
		name := s.Name()
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			sa, sb := scored[order[a]].Scores[name], scored[order[b]].Scores[name]
			if sa != sb {
				return sa > sb
			}
			return scored[order[a]].ID < scored[order[b]].ID
		})
		rank := 0
		for pos, idx := range order {
			if pos == 0 || scored[idx].Scores[name] != scored[order[pos-1]].Scores[name] {
				rank = pos + 1
			}
			scored[idx].FinalScore += 1 / (k + float64(rank))
		}
	}
}

func fuseMaxScore(scored []ScoredCandidate, scorers []Scorer) {
	for i := range scored {
		var max float64
		for _, s := range scorers {
			if v := scored[i].Scores[s.Name()]; v > max {
				max = v
			}
		}
		scored[i].FinalScore = max
	}
}
