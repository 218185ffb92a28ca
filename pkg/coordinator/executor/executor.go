// Package executor runs per-shard work in parallel: the hot-path vector
// fan-out and the federated simple-SQL scatter. Parallelism is bounded,
// deadlines are enforced, and per-shard failures degrade recall instead of
// failing the query.
package executor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/coordinator/ranker"
	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

// Target identifies one shard to query.
type Target struct {
	ShardID string
	Path    string
}

// Executor fans a query out across shards through the connection pool.
type Executor struct {
	pool        *shard.Pool
	fanoutLimit int
	timeout     time.Duration
	logger      *zap.Logger

	// OnShardUnavailable is invoked once per skipped shard failure.
	OnShardUnavailable func()
}

// New creates an executor. fanoutLimit bounds concurrent per-shard
// sub-queries; timeout is the overall fan-out deadline.
func New(pool *shard.Pool, fanoutLimit int, timeout time.Duration, logger *zap.Logger) *Executor {
	if fanoutLimit <= 0 {
		fanoutLimit = 16
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Executor{
		pool:        pool,
		fanoutLimit: fanoutLimit,
		timeout:     timeout,
		logger:      logger,
	}
}

// VectorRequest is one hot-path fan-out.
type VectorRequest struct {
	Targets       []Target
	Vector        []float32
	Level         shard.Level
	Filter        string // trusted SQL fragment, empty for pure vector search
	PerShardLimit int
}

// VectorSearch queries every target concurrently and returns the unordered
// union of per-shard top-K candidates. Failed shards are logged and
// skipped; the call fails only when every shard failed and nothing was
// produced.
func (e *Executor) VectorSearch(ctx context.Context, req *VectorRequest) ([]ranker.Candidate, error) {
	if len(req.Targets) == 0 {
		return nil, nil
	}
	k := req.PerShardLimit
	if k <= 0 {
		k = 10
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	limit := e.fanoutLimit
	if len(req.Targets) < limit {
		limit = len(req.Targets)
	}
	sem := semaphore.NewWeighted(int64(limit))

	type shardResult struct {
		candidates []ranker.Candidate
		err        error
		target     Target
	}
	resultsChan := make(chan shardResult, len(req.Targets))

	var wg sync.WaitGroup
	for _, target := range req.Targets {
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				resultsChan <- shardResult{err: err, target: t}
				return
			}
			defer sem.Release(1)

			candidates, err := e.queryShard(ctx, t, req, k)
			resultsChan <- shardResult{candidates: candidates, err: err, target: t}
		}(target)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	var all []ranker.Candidate
	failed := 0
	for res := range resultsChan {
		if res.err != nil {
			failed++
			e.logger.Warn("shard skipped during fan-out",
				zap.String("shard_id", res.target.ShardID),
				zap.Error(res.err))
			if e.OnShardUnavailable != nil {
				e.OnShardUnavailable()
			}
			continue
		}
		all = append(all, res.candidates...)
	}

	if failed == len(req.Targets) && len(all) == 0 {
		return nil, errors.Newf(errors.ErrAllShardsFailed, "all %d shards failed", failed)
	}
	return all, nil
}

func (e *Executor) queryShard(ctx context.Context, t Target, req *VectorRequest, k int) ([]ranker.Candidate, error) {
	h, err := e.pool.Checkout(ctx, t.Path)
	if err != nil {
		return nil, err
	}

	hits, err := h.VectorSearch(ctx, req.Vector, req.Level, req.Filter, k)
	if err != nil {
		// A handle abandoned mid-query by cancellation may have state the
		// next borrower should not inherit.
		if ctx.Err() != nil {
			e.pool.Taint(h)
		} else {
			e.pool.Checkin(h)
		}
		return nil, err
	}
	e.pool.Checkin(h)

	candidates := make([]ranker.Candidate, 0, len(hits))
	for _, hit := range hits {
		candidates = append(candidates, ranker.Candidate{
			ID:         hit.ChunkID,
			DocID:      hit.DocID,
			ShardID:    t.ShardID,
			Text:       hit.Text,
			Metadata:   ranker.DecodeMetadata(hit.Metadata),
			PageRank:   hit.PageRank,
			Similarity: ranker.DistanceToSimilarity(hit.Distance),
		})
	}
	return candidates, nil
}

// Ground attaches provenance to the top results in place. Grounding is
// best-effort; a failed lookup leaves that result ungrounded.
func (e *Executor) Ground(ctx context.Context, results []ranker.ScoredCandidate, targets []Target, topN int) {
	paths := make(map[string]string, len(targets))
	for _, t := range targets {
		paths[t.ShardID] = t.Path
	}
	if topN > len(results) {
		topN = len(results)
	}
	for i := 0; i < topN; i++ {
		path, ok := paths[results[i].ShardID]
		if !ok {
			continue
		}
		h, err := e.pool.Checkout(ctx, path)
		if err != nil {
			continue
		}
		g, err := h.Grounding(ctx, results[i].ID)
		e.pool.Checkin(h)
		if err != nil {
			e.logger.Debug("grounding lookup failed",
				zap.String("chunk_id", results[i].ID),
				zap.Error(err))
			continue
		}
		results[i].Grounding = &ranker.Grounding{
			DocumentText: g.DocText,
			StartOffset:  g.StartOffset,
			EndOffset:    g.EndOffset,
			ParentText:   g.ParentText,
		}
	}
}
