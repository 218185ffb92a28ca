package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

// ShardRows is one shard's result set from a federated SQL scatter.
type ShardRows struct {
	ShardID string
	Rows    *shard.Rows
}

// ScatterSQL runs the same parameterized SQL on every target in parallel
// and returns the per-shard result sets ordered by shard id. Failed shards
// are skipped; the call fails only when every shard failed.
func (e *Executor) ScatterSQL(ctx context.Context, targets []Target, query string, args ...interface{}) ([]ShardRows, error) {
	if len(targets) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	limit := e.fanoutLimit
	if len(targets) < limit {
		limit = len(targets)
	}
	sem := semaphore.NewWeighted(int64(limit))

	results := make([]*shard.Rows, len(targets))
	failures := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				failures[i] = err
				return
			}
			defer sem.Release(1)

			h, err := e.pool.Checkout(ctx, t.Path)
			if err != nil {
				failures[i] = err
				return
			}
			rows, err := h.Query(ctx, query, args...)
			if err != nil {
				if ctx.Err() != nil {
					e.pool.Taint(h)
				} else {
					e.pool.Checkin(h)
				}
				failures[i] = err
				return
			}
			e.pool.Checkin(h)
			results[i] = rows
		}(i, target)
	}
	wg.Wait()

	var out []ShardRows
	failed := 0
	for i, target := range targets {
		if failures[i] != nil {
			failed++
			e.logger.Warn("shard skipped during SQL scatter",
				zap.String("shard_id", target.ShardID),
				zap.Error(failures[i]))
			if e.OnShardUnavailable != nil {
				e.OnShardUnavailable()
			}
			continue
		}
		out = append(out, ShardRows{ShardID: target.ShardID, Rows: results[i]})
	}
	if failed == len(targets) {
		return nil, errors.Newf(errors.ErrAllShardsFailed, "all %d shards failed", failed)
	}
	return out, nil
}

// GatherSQL runs ScatterSQL and concatenates the per-shard rows into one
// result set. Column names come from the first successful shard.
func (e *Executor) GatherSQL(ctx context.Context, targets []Target, query string, args ...interface{}) (*shard.Rows, error) {
	perShard, err := e.ScatterSQL(ctx, targets, query, args...)
	if err != nil {
		return nil, err
	}
	merged := &shard.Rows{}
	for _, sr := range perShard {
		if len(merged.Columns) == 0 {
			merged.Columns = sr.Rows.Columns
		}
		merged.Values = append(merged.Values, sr.Rows.Values...)
	}
	return merged, nil
}
