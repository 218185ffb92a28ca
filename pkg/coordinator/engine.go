// Package coordinator is the query front door: it classifies each request,
// dispatches it to the hot vector path or the warm analytical path, and
// owns the shared state both paths run on.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/analytics"
	"github.com/mosaicdb/mosaicdb/pkg/common/config"
	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/common/metrics"
	"github.com/mosaicdb/mosaicdb/pkg/coordinator/cache"
	"github.com/mosaicdb/mosaicdb/pkg/coordinator/classifier"
	"github.com/mosaicdb/mosaicdb/pkg/coordinator/executor"
	"github.com/mosaicdb/mosaicdb/pkg/coordinator/ranker"
	"github.com/mosaicdb/mosaicdb/pkg/embedding"
	"github.com/mosaicdb/mosaicdb/pkg/routing"
	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

// Paths reported to callers.
const (
	PathHot  = "hot"
	PathWarm = "warm"
)

// Engine owns the coordinator's query-path state and dispatches classified
// queries to the right executor.
type Engine struct {
	cfg     *config.CoordinatorConfig
	logger  *zap.Logger
	metrics *metrics.MetricsCollector

	index       *routing.Index
	hotCache    *routing.HotCache
	router      *routing.Router
	pool        *shard.Pool
	executor    *executor.Executor
	ranker      *ranker.Ranker
	bridge      *analytics.Bridge
	resultCache *cache.ResultCache
	embedder    embedding.Embedder
}

// NewEngine wires the query path together and preloads the hot cache.
func NewEngine(cfg *config.CoordinatorConfig, embedder embedding.Embedder, collector *metrics.MetricsCollector, logger *zap.Logger) (*Engine, error) {
	index, err := routing.OpenIndex(cfg.RoutingIndex, cfg.StatsFlushInterval, cfg.StatsFlushMax, logger)
	if err != nil {
		return nil, err
	}

	hotCache := routing.NewHotCache(cfg.HotCacheSize)
	hotCache.Preload(index, logger)

	router := routing.NewRouter(index, hotCache, cfg.RouterWorkers, cfg.RouterQueueLen, cfg.ShardLimitMax, logger)
	pool := shard.NewPool(cfg.PoolSize, cfg.PoolBusyTimeout, logger)
	exec := executor.New(pool, cfg.FanoutLimit, cfg.FanoutTimeout, logger)

	bridge, err := analytics.NewBridge(logger)
	if err != nil {
		index.Close()
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
		index:    index,
		hotCache: hotCache,
		router:   router,
		pool:     pool,
		executor: exec,
		ranker: ranker.Default(
			ranker.WithRRFConstant(cfg.RRFConstant),
		),
		bridge:      bridge,
		resultCache: cache.New(cfg.CacheSize, cfg.CacheTTL),
		embedder:    embedder,
	}

	if collector != nil {
		router.OnOverloaded = collector.RouterOverloaded.Inc
		exec.OnShardUnavailable = collector.ShardUnavailable.Inc
		if n, err := index.ShardCount(); err == nil {
			collector.ShardsRegistered.Set(float64(n))
		}
	}
	return e, nil
}

// Close releases every owned resource.
func (e *Engine) Close() {
	e.router.Close()
	e.pool.Close()
	if err := e.bridge.Close(); err != nil {
		e.logger.Warn("analytical engine close failed", zap.Error(err))
	}
	if err := e.index.Close(); err != nil {
		e.logger.Warn("routing index close failed", zap.Error(err))
	}
}

// SearchOptions are the caller-tunable knobs on the hot path.
type SearchOptions struct {
	Limit         int
	MinSimilarity *float64
	ShardLimit    int
	Level         string
	QueryTerms    []string
	Where         string // trusted SQL filter, hybrid path only
	Fusion        string
	MinScore      float64
}

// SearchResponse is the hot-path result envelope.
type SearchResponse struct {
	Results       []ranker.ScoredCandidate `json:"results"`
	Path          string                   `json:"path"`
	Cached        bool                     `json:"cached"`
	ShardsQueried int                      `json:"shards_queried"`
}

func (e *Engine) normalizeOptions(opts *SearchOptions) (shard.Level, float64, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.ShardLimit <= 0 {
		opts.ShardLimit = e.cfg.ShardLimitMax
	}
	level, err := shard.ParseLevel(opts.Level)
	if err != nil {
		return "", 0, err
	}
	opts.Level = string(level)
	minSim := e.cfg.MinSimilarity
	if opts.MinSimilarity != nil {
		minSim = *opts.MinSimilarity
	}
	return level, minSim, nil
}

func (e *Engine) rankerFor(opts *SearchOptions) (*ranker.Ranker, error) {
	if opts.Fusion == "" && opts.MinScore == 0 {
		return e.ranker, nil
	}
	fusion, err := ranker.ParseFusion(opts.Fusion)
	if err != nil {
		return nil, err
	}
	return ranker.Default(
		ranker.WithFusion(fusion),
		ranker.WithRRFConstant(e.cfg.RRFConstant),
		ranker.WithMinScore(opts.MinScore),
	), nil
}

// Search runs the hot vector path: embed, route, fan out, rank, ground.
// An empty Where makes it a pure vector search; a non-empty one a hybrid.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	if query == "" {
		return nil, errors.New(errors.ErrInvalidInput, "query text is empty")
	}
	level, minSim, err := e.normalizeOptions(&opts)
	if err != nil {
		return nil, err
	}
	rk, err := e.rankerFor(&opts)
	if err != nil {
		return nil, err
	}

	cacheKey := cache.Key(query, map[string]interface{}{
		"limit":          opts.Limit,
		"min_similarity": minSim,
		"shard_limit":    opts.ShardLimit,
		"level":          opts.Level,
		"terms":          opts.QueryTerms,
		"where":          opts.Where,
		"min_score":      opts.MinScore,
	}, rk.Identity())
	if cached, ok := e.resultCache.Get(cacheKey); ok {
		if e.metrics != nil {
			e.metrics.CacheHits.Inc()
		}
		return &SearchResponse{Results: cached, Path: PathHot, Cached: true}, nil
	}
	if e.metrics != nil {
		e.metrics.CacheMisses.Inc()
	}

	vector := e.embedder.Encode(ctx, query)
	terms := opts.QueryTerms
	if len(terms) == 0 {
		terms = ranker.ExtractTerms(query)
	}

	candidates, err := e.router.Route(ctx, &routing.RouteRequest{
		Vector:        vector,
		Limit:         opts.ShardLimit,
		Level:         level,
		MinSimilarity: minSim,
		Terms:         terms,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &SearchResponse{Results: []ranker.ScoredCandidate{}, Path: PathHot}, nil
	}

	targets := make([]executor.Target, len(candidates))
	for i, c := range candidates {
		targets[i] = executor.Target{ShardID: c.Entry.ID, Path: c.Entry.Path}
	}

	raw, err := e.executor.VectorSearch(ctx, &executor.VectorRequest{
		Targets:       targets,
		Vector:        vector,
		Level:         level,
		Filter:        opts.Where,
		PerShardLimit: opts.Limit * e.cfg.PerShardFactor,
	})
	if err != nil {
		return nil, err
	}

	ranked := rk.Rank(raw, &ranker.Context{
		QueryText:         query,
		Terms:             terms,
		Now:               time.Now(),
		PageRankMax:       e.cfg.PageRankMax,
		FreshnessHalfLife: e.cfg.FreshnessHalfLife,
	})
	if len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	e.executor.Ground(ctx, ranked, targets, opts.Limit)

	if ranked == nil {
		ranked = []ranker.ScoredCandidate{}
	}
	e.resultCache.Put(cacheKey, ranked)
	return &SearchResponse{
		Results:       ranked,
		Path:          PathHot,
		ShardsQueried: len(targets),
	}, nil
}

// QueryResponse is the envelope for SQL-shaped queries.
type QueryResponse struct {
	Class   string          `json:"class"`
	Path    string          `json:"path"`
	Columns []string        `json:"columns,omitempty"`
	Rows    [][]interface{} `json:"rows,omitempty"`

	// Hot-path dispatches fill these instead.
	Results       []ranker.ScoredCandidate `json:"results,omitempty"`
	Cached        bool                     `json:"cached,omitempty"`
	ShardsQueried int                      `json:"shards_queried,omitempty"`
}

// Query classifies a SQL-shaped query and dispatches it. force overrides
// the classifier; an unknown force is a ClassifierBypass error.
func (e *Engine) Query(ctx context.Context, query string, params []interface{}, force string, opts SearchOptions) (*QueryResponse, error) {
	if query == "" {
		return nil, errors.New(errors.ErrInvalidInput, "query is empty")
	}
	class, err := classifier.ParseForced(force)
	if err != nil {
		return nil, err
	}
	if class == "" {
		class = classifier.Classify(query)
	}

	switch class {
	case classifier.ClassVectorSearch:
		text := query
		if t, _, err := classifier.SplitHybrid(query); err == nil {
			text = t
		} else if t, ok := classifier.ExtractSemantic(query); ok {
			text = t
		}
		res, err := e.Search(ctx, text, opts)
		if err != nil {
			return nil, err
		}
		return &QueryResponse{
			Class:         string(class),
			Path:          res.Path,
			Results:       res.Results,
			Cached:        res.Cached,
			ShardsQueried: res.ShardsQueried,
		}, nil

	case classifier.ClassHybridSearch:
		text, filter, err := classifier.SplitHybrid(query)
		if err != nil {
			return nil, err
		}
		opts.Where = filter
		res, err := e.Search(ctx, text, opts)
		if err != nil {
			return nil, err
		}
		return &QueryResponse{
			Class:         string(class),
			Path:          res.Path,
			Results:       res.Results,
			Cached:        res.Cached,
			ShardsQueried: res.ShardsQueried,
		}, nil

	case classifier.ClassAnalytics:
		return e.Analytics(ctx, query, params)

	default:
		return e.simpleSQL(ctx, query, params)
	}
}

// Analytics runs the warm path. Simple aggregates scatter to the shards
// and merge in-process; everything else goes through the federated rewrite
// on the analytical engine.
func (e *Engine) Analytics(ctx context.Context, query string, params []interface{}) (*QueryResponse, error) {
	if agg, ok := analytics.DetectSimpleAggregate(query); ok {
		return e.scatterAggregate(ctx, query, params, agg)
	}

	listings, err := e.index.ActiveShards()
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, errors.New(errors.ErrNotFound, "no active shards")
	}
	active := make([]analytics.ActiveShard, len(listings))
	for i, s := range listings {
		active[i] = analytics.ActiveShard{ID: s.ID, Path: s.Path}
	}

	rows, err := e.bridge.Query(ctx, active, query, params...)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.ShardsAttached.Set(float64(e.bridge.AttachedCount()))
	}
	return &QueryResponse{
		Class:   string(classifier.ClassAnalytics),
		Path:    PathWarm,
		Columns: rows.Columns,
		Rows:    rows.Values,
	}, nil
}

func (e *Engine) simpleSQL(ctx context.Context, query string, params []interface{}) (*QueryResponse, error) {
	if agg, ok := analytics.DetectSimpleAggregate(query); ok {
		return e.scatterAggregate(ctx, query, params, agg)
	}

	targets, err := e.allTargets()
	if err != nil {
		return nil, err
	}
	rows, err := e.executor.GatherSQL(ctx, targets, query, params...)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{
		Class:   string(classifier.ClassSimpleSQL),
		Path:    PathWarm,
		Columns: rows.Columns,
		Rows:    rows.Values,
	}, nil
}

func (e *Engine) scatterAggregate(ctx context.Context, query string, params []interface{}, agg *analytics.SimpleAggregate) (*QueryResponse, error) {
	targets, err := e.allTargets()
	if err != nil {
		return nil, err
	}
	perShard, err := e.executor.ScatterSQL(ctx, targets, query, params...)
	if err != nil {
		return nil, err
	}
	rowSets := make([]*shard.Rows, len(perShard))
	for i, sr := range perShard {
		rowSets[i] = sr.Rows
	}
	merged := analytics.Merge(agg, rowSets)
	return &QueryResponse{
		Class:   string(classifier.ClassAnalytics),
		Path:    PathWarm,
		Columns: merged.Columns,
		Rows:    merged.Values,
	}, nil
}

func (e *Engine) allTargets() ([]executor.Target, error) {
	listings, err := e.index.ActiveShards()
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, errors.New(errors.ErrNotFound, "no active shards")
	}
	targets := make([]executor.Target, len(listings))
	for i, s := range listings {
		targets[i] = executor.Target{ShardID: s.ID, Path: s.Path}
	}
	return targets, nil
}

// IngestRequest is one POST /documents payload.
type IngestRequest struct {
	ShardID   string          `json:"shard_id"`
	Documents []IngestDocument `json:"documents"`
}

// IngestDocument is one document to index.
type IngestDocument struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Ingest writes documents into a shard (creating the shard file on first
// use), embeds their chunks, and re-registers the shard so routing state
// and the result cache reflect the new contents.
func (e *Engine) Ingest(ctx context.Context, req *IngestRequest) (string, int, error) {
	if len(req.Documents) == 0 {
		return "", 0, errors.New(errors.ErrInvalidInput, "no documents provided")
	}
	shardID := req.ShardID
	if shardID == "" {
		shardID = "primary"
	}
	path := filepath.Join(e.cfg.StorageRoot, fmt.Sprintf("%s.db", shardID))

	h, err := shard.Open(path, int(e.cfg.PoolBusyTimeout.Milliseconds()))
	if err != nil {
		return "", 0, err
	}
	defer h.Close()

	if err := shard.CreateSchema(ctx, h); err != nil {
		return "", 0, err
	}

	for _, d := range req.Documents {
		if d.Text == "" {
			return "", 0, errors.New(errors.ErrInvalidInput, "document text is empty")
		}
		chunks := shard.Split(d.Text)
		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Text
		}
		vecs := e.embedder.EncodeBatch(ctx, texts)
		for i := range chunks {
			chunks[i].Embedding = vecs[i]
		}
		doc := &shard.Document{
			ID:        d.ID,
			Text:      d.Text,
			Metadata:  d.Metadata,
			CreatedAt: time.Now(),
			Chunks:    chunks,
		}
		if err := shard.InsertDocument(ctx, h, doc); err != nil {
			return "", 0, err
		}
	}

	if err := e.RegisterShard(ctx, shardID, path); err != nil {
		return "", 0, err
	}
	return shardID, len(req.Documents), nil
}

// RegisterShard recomputes a shard's routing state (doc count, centroids,
// bloom filter) from its contents and registers it. Registration clears
// the result cache and drops the shard's hot-cache entries.
func (e *Engine) RegisterShard(ctx context.Context, shardID, path string) error {
	h, err := shard.Open(path, int(e.cfg.PoolBusyTimeout.Milliseconds()))
	if err != nil {
		return err
	}
	defer h.Close()

	docCount, err := shard.DocCount(ctx, h)
	if err != nil {
		return err
	}
	centroids, err := shard.Centroids(ctx, h)
	if err != nil {
		return err
	}

	filter := routing.NewTermFilter()
	rows, err := h.Query(ctx, "SELECT text FROM chunks WHERE level = ?", string(shard.LevelParagraph))
	if err != nil {
		return err
	}
	for _, row := range rows.Values {
		if text, ok := row[0].(string); ok {
			for _, term := range ranker.ExtractTerms(text) {
				filter.Add(term)
			}
		}
	}
	bloomData, err := filter.MarshalBinary()
	if err != nil {
		return err
	}

	if err := e.index.Register(&routing.ShardInfo{
		ID:        shardID,
		Path:      path,
		DocCount:  docCount,
		Status:    "active",
		BloomData: bloomData,
		Centroids: centroids,
	}); err != nil {
		return err
	}

	e.hotCache.Invalidate(shardID)
	e.resultCache.Clear()
	if e.metrics != nil {
		if n, err := e.index.ShardCount(); err == nil {
			e.metrics.ShardsRegistered.Set(float64(n))
		}
	}
	e.logger.Info("shard registered",
		zap.String("shard_id", shardID),
		zap.String("path", path),
		zap.Int64("doc_count", docCount))
	return nil
}

// Shards lists the active shards.
func (e *Engine) Shards() ([]routing.ShardListing, error) {
	return e.index.ActiveShards()
}

// Counters is the JSON metrics snapshot.
type Counters struct {
	CacheHits          int64 `json:"cache_hits"`
	CacheMisses        int64 `json:"cache_misses"`
	ShardCount         int   `json:"shard_count"`
	AttachedShardCount int   `json:"attached_shard_count"`
}

// Counters snapshots the coordinator's JSON metrics.
func (e *Engine) Counters() Counters {
	hits, misses := e.resultCache.Stats()
	n, err := e.index.ShardCount()
	if err != nil {
		n = 0
	}
	return Counters{
		CacheHits:          hits,
		CacheMisses:        misses,
		ShardCount:         n,
		AttachedShardCount: e.bridge.AttachedCount(),
	}
}
