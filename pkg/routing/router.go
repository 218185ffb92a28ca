package routing

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/shard"
	"github.com/mosaicdb/mosaicdb/pkg/vectormath"
)

// RouteRequest asks for the shards most likely to answer a query vector.
type RouteRequest struct {
	Vector        []float32
	Limit         int
	Level         shard.Level
	MinSimilarity float64
	Terms         []string
}

// ShardCandidate is one routed shard annotated with centroid similarity.
type ShardCandidate struct {
	Entry      *RoutingEntry
	Similarity float64
}

// Router selects candidate shards for a query. Scoring runs on a fixed
// worker pool behind a bounded queue so concurrent queries do not contend
// on a single lock; a full queue rejects with Overloaded.
type Router struct {
	index  *Index
	cache  *HotCache
	logger *zap.Logger

	limitMax int

	jobs      chan func()
	closeOnce sync.Once
	wg        sync.WaitGroup

	// OnOverloaded is invoked each time a query is rejected at the queue.
	OnOverloaded func()
}

// NewRouter starts a router with the given worker pool size and queue depth.
func NewRouter(index *Index, cache *HotCache, workers, queueLen, limitMax int, logger *zap.Logger) *Router {
	if workers <= 0 {
		workers = 10
	}
	if queueLen <= 0 {
		queueLen = 100
	}
	if limitMax <= 0 {
		limitMax = 64
	}
	r := &Router{
		index:    index,
		cache:    cache,
		logger:   logger,
		limitMax: limitMax,
		jobs:     make(chan func(), queueLen),
	}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer r.wg.Done()
			for job := range r.jobs {
				job()
			}
		}()
	}
	return r
}

// Close stops the worker pool after draining queued work.
func (r *Router) Close() {
	r.closeOnce.Do(func() { close(r.jobs) })
	r.wg.Wait()
}

type routeResult struct {
	candidates []ShardCandidate
	err        error
}

// Route returns up to Limit candidate shards sorted by centroid similarity
// descending. Ties prefer the busier shard, then the lexicographically
// lower id.
func (r *Router) Route(ctx context.Context, req *RouteRequest) ([]ShardCandidate, error) {
	if len(req.Vector) == 0 {
		return nil, errors.New(errors.ErrInvalidInput, "query vector is empty")
	}
	if req.Limit <= 0 {
		return nil, errors.New(errors.ErrInvalidInput, "shard limit must be positive")
	}
	if req.Limit > r.limitMax {
		req.Limit = r.limitMax
	}
	if req.Level == "" {
		req.Level = shard.DefaultLevel
	}

	done := make(chan routeResult, 1)
	job := func() {
		if err := ctx.Err(); err != nil {
			done <- routeResult{err: errors.Newf(errors.ErrTimeout, "routing cancelled: %v", err)}
			return
		}
		candidates, err := r.score(req)
		done <- routeResult{candidates: candidates, err: err}
	}

	select {
	case r.jobs <- job:
	default:
		if r.OnOverloaded != nil {
			r.OnOverloaded()
		}
		return nil, errors.New(errors.ErrOverloaded, "routing queue is full")
	}

	select {
	case res := <-done:
		return res.candidates, res.err
	case <-ctx.Done():
		return nil, errors.Newf(errors.ErrTimeout, "routing deadline elapsed: %v", ctx.Err())
	}
}

func (r *Router) score(req *RouteRequest) ([]ShardCandidate, error) {
	entries := r.cache.CandidatesAtLevel(req.Level)

	// A cold or thin cache falls back to the index and admits what it finds.
	if len(entries) < req.Limit {
		fromIndex, err := r.index.EntriesAtLevel(req.Level, 0)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, len(entries))
		for _, e := range entries {
			seen[e.ID] = struct{}{}
		}
		for _, e := range fromIndex {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			r.cache.Admit(e, req.Level)
			entries = append(entries, e)
		}
	}

	queryNorm := vectormath.Norm(req.Vector)
	candidates := make([]ShardCandidate, 0, len(entries))
	for _, e := range entries {
		if len(req.Terms) > 0 && e.Bloom != nil && !e.Bloom.MayContainAny(req.Terms) {
			continue
		}
		centroid, ok := e.Centroids[req.Level]
		if !ok || centroid.Vec == nil {
			continue
		}
		sim, err := vectormath.CosineSimilarity(req.Vector, queryNorm, centroid.Vec, centroid.Norm)
		if err != nil {
			r.logger.Warn("skipping shard with mismatched centroid",
				zap.String("shard_id", e.ID),
				zap.String("level", string(req.Level)),
				zap.Error(err))
			continue
		}
		if sim < req.MinSimilarity {
			continue
		}
		candidates = append(candidates, ShardCandidate{Entry: e, Similarity: sim})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Entry.QueryCount != b.Entry.QueryCount {
			return a.Entry.QueryCount > b.Entry.QueryCount
		}
		return a.Entry.ID < b.Entry.ID
	})
	if len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	for _, c := range candidates {
		r.index.RecordAccess(c.Entry.ID)
		r.cache.Touch(c.Entry.ID, req.Level)
	}
	return candidates, nil
}
