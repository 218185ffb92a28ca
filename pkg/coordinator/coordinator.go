package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/common/config"
	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/common/metrics"
	"github.com/mosaicdb/mosaicdb/pkg/embedding"
)

// CoordinatorNode is the MosaicDB coordinator process: the query engine
// plus its HTTP surface.
type CoordinatorNode struct {
	cfg        *config.CoordinatorConfig
	logger     *zap.Logger
	engine     *Engine
	metrics    *metrics.MetricsCollector
	ginRouter  *gin.Engine
	httpServer *http.Server
}

// NewCoordinatorNode creates a coordinator node.
func NewCoordinatorNode(cfg *config.CoordinatorConfig, logger *zap.Logger) (*CoordinatorNode, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery())
	ginRouter.Use(ginLogger(logger))

	metricsCollector := metrics.NewMetricsCollector("coordinator")
	ginRouter.Use(metrics.HTTPMetricsMiddleware(metricsCollector))

	embedder := embedding.NewHTTPEmbedder(cfg.EmbedEndpoint, cfg.EmbedModel, cfg.EmbedDim, logger)

	engine, err := NewEngine(cfg, embedder, metricsCollector, logger)
	if err != nil {
		return nil, err
	}

	node := &CoordinatorNode{
		cfg:       cfg,
		logger:    logger,
		engine:    engine,
		metrics:   metricsCollector,
		ginRouter: ginRouter,
	}
	node.setupRoutes()
	return node, nil
}

// Engine exposes the query engine, mainly for tests.
func (c *CoordinatorNode) Engine() *Engine { return c.engine }

// Handler exposes the HTTP handler, mainly for httptest.
func (c *CoordinatorNode) Handler() http.Handler { return c.ginRouter }

// Start begins serving HTTP.
func (c *CoordinatorNode) Start(ctx context.Context) error {
	c.logger.Info("Starting coordinator node",
		zap.String("node_id", c.cfg.NodeID),
		zap.Int("rest_port", c.cfg.RESTPort))

	c.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.cfg.BindAddr, c.cfg.RESTPort),
		Handler: c.ginRouter,
	}

	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	c.logger.Info("Coordinator node started successfully",
		zap.String("rest_api", fmt.Sprintf("http://%s:%d", c.cfg.BindAddr, c.cfg.RESTPort)))
	return nil
}

// Stop shuts the node down gracefully.
func (c *CoordinatorNode) Stop(ctx context.Context) error {
	c.logger.Info("Stopping coordinator node")

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown HTTP server", zap.Error(err))
		}
	}
	c.engine.Close()
	return nil
}

// setupRoutes sets up all REST API routes.
func (c *CoordinatorNode) setupRoutes() {
	c.ginRouter.GET("/", c.handleRoot)

	// Query APIs
	c.ginRouter.POST("/search", c.handleSearch)
	c.ginRouter.POST("/search/hybrid", c.handleHybridSearch)
	c.ginRouter.POST("/query", c.handleQuery)
	c.ginRouter.POST("/analytics", c.handleAnalytics)

	// Ingest and shard management
	c.ginRouter.POST("/documents", c.handleIngest)
	c.ginRouter.GET("/shards", c.handleShards)

	// Observability
	c.ginRouter.GET("/metrics", c.handleCounters)
	c.ginRouter.GET("/metrics/prometheus", gin.WrapH(promhttp.Handler()))
	c.ginRouter.GET("/health", c.handleHealth)
}

func (c *CoordinatorNode) handleRoot(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"name":    "MosaicDB",
		"node_id": c.cfg.NodeID,
		"version": gin.H{
			"number": "1.0.0",
		},
		"tagline": "Federated hybrid search over embedded shards",
	})
}

type searchBody struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinSimilarity *float64 `json:"min_similarity"`
	ShardLimit    int      `json:"shard_limit"`
	Level         string   `json:"level"`
	QueryTerms    []string `json:"query_terms"`
	Where         string   `json:"where"`
	Fusion        string   `json:"fusion"`
	MinScore      float64  `json:"min_score"`
}

func (b *searchBody) options() SearchOptions {
	return SearchOptions{
		Limit:         b.Limit,
		MinSimilarity: b.MinSimilarity,
		ShardLimit:    b.ShardLimit,
		Level:         b.Level,
		QueryTerms:    b.QueryTerms,
		Where:         b.Where,
		Fusion:        b.Fusion,
		MinScore:      b.MinScore,
	}
}

func (c *CoordinatorNode) handleSearch(ctx *gin.Context) {
	var body searchBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	opts := body.options()
	opts.Where = "" // pure vector search never carries a filter

	c.runSearch(ctx, "/search", body.Query, opts)
}

func (c *CoordinatorNode) handleHybridSearch(ctx *gin.Context) {
	var body searchBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Where == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "hybrid search requires a where filter"})
		return
	}
	c.runSearch(ctx, "/search/hybrid", body.Query, body.options())
}

func (c *CoordinatorNode) runSearch(ctx *gin.Context, path, query string, opts SearchOptions) {
	queryID := uuid.NewString()
	start := time.Now()

	res, err := c.engine.Search(ctx.Request.Context(), query, opts)
	if err != nil {
		c.logger.Warn("search failed",
			zap.String("query_id", queryID),
			zap.Error(err))
		c.metrics.RecordQuery(path, "vector_search", "error", time.Since(start), 0)
		ctx.JSON(errors.HTTPStatusCode(err), gin.H{"error": err.Error(), "query_id": queryID})
		return
	}

	c.metrics.RecordQuery(path, "vector_search", "ok", time.Since(start), res.ShardsQueried)
	ctx.JSON(http.StatusOK, gin.H{
		"query_id":       queryID,
		"results":        res.Results,
		"path":           res.Path,
		"cached":         res.Cached,
		"shards_queried": res.ShardsQueried,
	})
}

type queryBody struct {
	SQL    string        `json:"sql"`
	Params []interface{} `json:"params"`
	Force  string        `json:"force_class"`
	searchBody
}

func (c *CoordinatorNode) handleQuery(ctx *gin.Context) {
	var body queryBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.runQuery(ctx, "/query", body.SQL, body.Params, body.Force, body.options())
}

func (c *CoordinatorNode) handleAnalytics(ctx *gin.Context) {
	var body queryBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.runQuery(ctx, "/analytics", body.SQL, body.Params, "analytics", body.options())
}

func (c *CoordinatorNode) runQuery(ctx *gin.Context, path, sql string, params []interface{}, force string, opts SearchOptions) {
	queryID := uuid.NewString()
	start := time.Now()

	res, err := c.engine.Query(ctx.Request.Context(), sql, params, force, opts)
	if err != nil {
		c.logger.Warn("query failed",
			zap.String("query_id", queryID),
			zap.Error(err))
		c.metrics.RecordQuery(path, force, "error", time.Since(start), 0)
		ctx.JSON(errors.HTTPStatusCode(err), gin.H{"error": err.Error(), "query_id": queryID})
		return
	}

	c.metrics.RecordQuery(path, res.Class, "ok", time.Since(start), res.ShardsQueried)

	out := gin.H{
		"query_id": queryID,
		"class":    res.Class,
		"path":     res.Path,
	}
	if res.Results != nil {
		out["results"] = res.Results
		out["cached"] = res.Cached
		out["shards_queried"] = res.ShardsQueried
	} else {
		out["columns"] = res.Columns
		out["results"] = res.Rows
	}
	ctx.JSON(http.StatusOK, out)
}

func (c *CoordinatorNode) handleIngest(ctx *gin.Context) {
	var body IngestRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shardID, count, err := c.engine.Ingest(ctx.Request.Context(), &body)
	if err != nil {
		ctx.JSON(errors.HTTPStatusCode(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"shard_id":  shardID,
		"documents": count,
	})
}

func (c *CoordinatorNode) handleShards(ctx *gin.Context) {
	shards, err := c.engine.Shards()
	if err != nil {
		ctx.JSON(errors.HTTPStatusCode(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"count":  len(shards),
		"shards": shards,
	})
}

func (c *CoordinatorNode) handleCounters(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.engine.Counters())
}

func (c *CoordinatorNode) handleHealth(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"node_id": c.cfg.NodeID,
	})
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
