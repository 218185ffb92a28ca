package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/common/config"
	"github.com/mosaicdb/mosaicdb/pkg/coordinator/ranker"
	"github.com/mosaicdb/mosaicdb/pkg/embedding"
	"github.com/mosaicdb/mosaicdb/pkg/routing"
	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

const testDim = 16

// vocab pins each test term to its own axis so similarities are exact.
var vocab = map[string]int{
	"cat": 0, "dog": 1, "fish": 2,
	"premium": 3, "quality": 4, "product": 5, "book": 6,
	"mosaic": 7, "databases": 8, "probe": 9, "tiles": 10,
}

func vocabVector(text string) []float32 {
	v := make([]float32, testDim)
	for _, term := range ranker.ExtractTerms(text) {
		idx, ok := vocab[term]
		if !ok {
			idx = testDim - 1
		}
		v[idx] += 1
	}
	return v
}

// fakeEmbeddingServer speaks the /v1/embeddings wire shape with
// deterministic bag-of-terms vectors.
func fakeEmbeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		resp := struct {
			Data []item `json:"data"`
		}{}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, item{Index: i, Embedding: vocabVector(text)})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, embedEndpoint string) *config.CoordinatorConfig {
	t.Helper()
	dir := t.TempDir()
	return &config.CoordinatorConfig{
		NodeID:   "test-node",
		BindAddr: "127.0.0.1",
		RESTPort: 0,

		StorageRoot:  filepath.Join(dir, "shards"),
		RoutingIndex: filepath.Join(dir, "routing.db"),

		EmbedEndpoint: embedEndpoint,
		EmbedModel:    "test-model",
		EmbedDim:      testDim,

		HotCacheSize:   100,
		MinSimilarity:  0.1,
		ShardLimitMax:  64,
		RouterWorkers:  4,
		RouterQueueLen: 16,

		FanoutLimit:     8,
		PerShardFactor:  3,
		FanoutTimeout:   5 * time.Second,
		PoolSize:        3,
		PoolBusyTimeout: 5 * time.Second,

		PageRankMax:       100,
		FreshnessHalfLife: 30 * 24 * time.Hour,
		RRFConstant:       60,

		CacheSize: 100,
		CacheTTL:  time.Minute,

		StatsFlushInterval: time.Hour, // tests flush explicitly
		StatsFlushMax:      1000,
	}
}

func postJSON(t *testing.T, node *CoordinatorNode, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	blob, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(blob))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	node.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func getJSON(t *testing.T, node *CoordinatorNode, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	node.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func ingest(t *testing.T, node *CoordinatorNode, shardID string, docs ...IngestDocument) {
	t.Helper()
	code, out := postJSON(t, node, "/documents", IngestRequest{ShardID: shardID, Documents: docs})
	require.Equal(t, http.StatusOK, code, "ingest response: %v", out)
}

// TestCoordinatorEndToEnd walks the full query surface against one node.
// The subtests build on each other's state, so their order matters.
func TestCoordinatorEndToEnd(t *testing.T) {
	embed := fakeEmbeddingServer(t)
	cfg := testConfig(t, embed.URL)

	node, err := NewCoordinatorNode(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { node.engine.Close() })

	t.Run("empty corpus returns no results", func(t *testing.T) {
		code, out := postJSON(t, node, "/search", map[string]interface{}{"query": "anything"})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "hot", out["path"])
		assert.Empty(t, out["results"])
	})

	t.Run("analytics federation sums per-shard counts", func(t *testing.T) {
		sizes := map[string]int{"metrics-a": 4, "metrics-b": 7, "metrics-c": 9}
		for shardID, n := range sizes {
			docs := make([]IngestDocument, n)
			for i := range docs {
				docs[i] = IngestDocument{Text: "filler corpus entry"}
			}
			ingest(t, node, shardID, docs...)
		}

		code, out := postJSON(t, node, "/analytics", map[string]interface{}{
			"sql": "SELECT COUNT(*) FROM documents",
		})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "warm", out["path"])

		results := out["results"].([]interface{})
		require.Len(t, results, 1)
		row := results[0].([]interface{})
		assert.Equal(t, float64(20), row[0])
	})

	t.Run("single shard ranks the matching document first", func(t *testing.T) {
		ingest(t, node, "animals",
			IngestDocument{ID: "d1", Text: "cat"},
			IngestDocument{ID: "d2", Text: "dog"},
			IngestDocument{ID: "d3", Text: "fish"},
		)

		code, out := postJSON(t, node, "/search", map[string]interface{}{
			"query":          "dog",
			"limit":          2,
			"min_similarity": 0.0,
		})
		require.Equal(t, http.StatusOK, code)

		results := out["results"].([]interface{})
		require.Len(t, results, 2)
		first := results[0].(map[string]interface{})
		assert.Equal(t, "d2", first["doc_id"])
		assert.Equal(t, "animals", first["shard_id"])
	})

	t.Run("hybrid filter keeps only matching shard rows", func(t *testing.T) {
		ingest(t, node, "electronics", IngestDocument{
			ID: "p1", Text: "premium quality product",
			Metadata: map[string]interface{}{"category": "electronics"},
		})
		ingest(t, node, "books", IngestDocument{
			ID: "p2", Text: "premium quality book",
			Metadata: map[string]interface{}{"category": "books"},
		})

		code, out := postJSON(t, node, "/search/hybrid", map[string]interface{}{
			"query": "premium quality",
			"where": "json_extract(d.metadata, '$.category') = 'electronics'",
			"limit": 5,
		})
		require.Equal(t, http.StatusOK, code)

		results := out["results"].([]interface{})
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, "p1", r.(map[string]interface{})["doc_id"])
		}
	})

	t.Run("bloom pruning skips shards without the term", func(t *testing.T) {
		ingest(t, node, "bloom-a", IngestDocument{Text: "mosaic tiles"})
		ingest(t, node, "bloom-b", IngestDocument{Text: "fish market stall"})

		code, out := postJSON(t, node, "/search", map[string]interface{}{
			"query":       "mosaic databases",
			"limit":       10,
			"query_terms": []string{"mosaic"},
		})
		require.Equal(t, http.StatusOK, code)
		require.NotEmpty(t, out["results"])

		node.engine.index.Flush()
		skipped, err := node.engine.index.QueryCount("bloom-b")
		require.NoError(t, err)
		assert.Equal(t, int64(0), skipped, "pruned shard must not be queried")

		routed, err := node.engine.index.QueryCount("bloom-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), routed)
	})

	t.Run("partial failure degrades recall without an error", func(t *testing.T) {
		ingest(t, node, "probe-1", IngestDocument{ID: "g1", Text: "probe alpha"})
		ingest(t, node, "probe-2", IngestDocument{ID: "g2", Text: "probe beta"})

		// A shard whose file cannot be opened.
		require.NoError(t, node.engine.index.Register(&routing.ShardInfo{
			ID:   "probe-broken",
			Path: "/nonexistent-dir-for-test/broken.db",
			Centroids: map[shard.Level][]float32{
				shard.LevelParagraph: vocabVector("probe"),
			},
		}))
		node.engine.hotCache.Invalidate("probe-broken")
		node.engine.resultCache.Clear()

		before := testutil.ToFloat64(node.metrics.ShardUnavailable)

		code, out := postJSON(t, node, "/search", map[string]interface{}{
			"query":       "probe",
			"limit":       10,
			"query_terms": []string{"probe"},
		})
		require.Equal(t, http.StatusOK, code)

		results := out["results"].([]interface{})
		require.Len(t, results, 2)
		for _, r := range results {
			sid := r.(map[string]interface{})["shard_id"]
			assert.NotEqual(t, "probe-broken", sid)
		}
		assert.Equal(t, before+1, testutil.ToFloat64(node.metrics.ShardUnavailable))
	})

	t.Run("query endpoint classifies and dispatches", func(t *testing.T) {
		code, out := postJSON(t, node, "/query", map[string]interface{}{
			"sql": "SEMANTIC 'dog' WHERE d.id = 'd2'",
		})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "hybrid_search", out["class"])
		assert.Equal(t, "hot", out["path"])

		code, out = postJSON(t, node, "/query", map[string]interface{}{
			"sql": "SELECT id FROM documents",
		})
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "simple_sql", out["class"])
		assert.Equal(t, "warm", out["path"])

		code, out = postJSON(t, node, "/query", map[string]interface{}{
			"sql":         "SELECT 1",
			"force_class": "starlight",
		})
		require.Equal(t, http.StatusBadRequest, code)
		assert.Contains(t, out["error"], "starlight")
	})

	t.Run("repeated search is served from the cache", func(t *testing.T) {
		body := map[string]interface{}{"query": "dog", "limit": 2, "min_similarity": 0.0}

		code, first := postJSON(t, node, "/search", body)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, false, first["cached"])

		code, second := postJSON(t, node, "/search", body)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, second["cached"])

		// Registration clears the cache.
		ingest(t, node, "cache-buster", IngestDocument{Text: "unrelated filler"})
		code, third := postJSON(t, node, "/search", body)
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, third["cached"])
	})

	t.Run("shards endpoint lists registrations", func(t *testing.T) {
		code, out := getJSON(t, node, "/shards")
		require.Equal(t, http.StatusOK, code)
		assert.GreaterOrEqual(t, out["count"].(float64), float64(8))
	})

	t.Run("metrics endpoint reports counters", func(t *testing.T) {
		code, out := getJSON(t, node, "/metrics")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, out, "cache_hits")
		assert.Contains(t, out, "cache_misses")
		assert.Greater(t, out["shard_count"].(float64), float64(0))
	})

	t.Run("health endpoint", func(t *testing.T) {
		code, out := getJSON(t, node, "/health")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", out["status"])
	})
}

func TestEngine_SearchValidation(t *testing.T) {
	embed := fakeEmbeddingServer(t)
	cfg := testConfig(t, embed.URL)

	// Engine without a collector to avoid double metric registration.
	embedder := embedding.NewHTTPEmbedder(embed.URL, cfg.EmbedModel, cfg.EmbedDim, zap.NewNop())
	eng, err := NewEngine(cfg, embedder, nil, zap.NewNop())
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Search(context.Background(), "", SearchOptions{})
	require.Error(t, err)

	_, err = eng.Search(context.Background(), "dog", SearchOptions{Level: "chapter"})
	require.Error(t, err)

	_, err = eng.Query(context.Background(), "", nil, "", SearchOptions{})
	require.Error(t, err)
}
