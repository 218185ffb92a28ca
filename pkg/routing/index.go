package routing

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/shard"
	"github.com/mosaicdb/mosaicdb/pkg/vectormath"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS shards (
	id            TEXT PRIMARY KEY,
	path          TEXT NOT NULL,
	doc_count     INTEGER NOT NULL DEFAULT 0,
	query_count   INTEGER NOT NULL DEFAULT 0,
	last_accessed TEXT,
	status        TEXT NOT NULL DEFAULT 'active',
	bloom_filter  BLOB
);
CREATE TABLE IF NOT EXISTS shard_centroids (
	shard_id      TEXT NOT NULL REFERENCES shards(id),
	level         TEXT NOT NULL,
	centroid      BLOB NOT NULL,
	centroid_norm REAL NOT NULL,
	UNIQUE(shard_id, level)
);
CREATE INDEX IF NOT EXISTS idx_centroids_level ON shard_centroids(level);
`

// ShardInfo is the registration payload for one shard.
type ShardInfo struct {
	ID        string
	Path      string
	DocCount  int64
	Status    string
	BloomData []byte
	Centroids map[shard.Level][]float32
}

// Centroid is one decoded per-level centroid with its precomputed norm.
type Centroid struct {
	Vec  []float32
	Norm float64
}

// RoutingEntry is the in-memory projection of a shard row joined with its
// centroids, as held by the hot cache and scored by the router.
type RoutingEntry struct {
	ID           string
	Path         string
	DocCount     int64
	QueryCount   int64
	LastAccessed time.Time
	Status       string
	Bloom        *TermFilter
	Centroids    map[shard.Level]Centroid
}

// Index is the persistent routing index. Reads go straight to SQLite;
// access-stat writes are buffered and flushed by a single goroutine.
type Index struct {
	db     *sql.DB
	logger *zap.Logger

	accessCh chan string
	flushInt time.Duration
	flushMax int
	done     chan struct{}
	wg       sync.WaitGroup
}

// OpenIndex opens (creating if needed) the routing index database and
// starts the stat flusher.
func OpenIndex(path string, flushInterval time.Duration, flushMax int, logger *zap.Logger) (*Index, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open routing index: %w", err)
	}
	// 128 MB page cache, 256 MB mmap. The index is the hottest file in the
	// deployment next to the shards themselves.
	for _, pragma := range []string{
		"PRAGMA cache_size = -131072",
		"PRAGMA mmap_size = 268435456",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("tune routing index: %w", err)
		}
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create routing schema: %w", err)
	}

	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	if flushMax <= 0 {
		flushMax = 256
	}
	idx := &Index{
		db:       db,
		logger:   logger,
		accessCh: make(chan string, 4*flushMax),
		flushInt: flushInterval,
		flushMax: flushMax,
		done:     make(chan struct{}),
	}
	idx.wg.Add(1)
	go idx.flushLoop()
	return idx, nil
}

// Close flushes pending stats and closes the database.
func (idx *Index) Close() error {
	close(idx.done)
	idx.wg.Wait()
	return idx.db.Close()
}

// Register inserts or replaces a shard's metadata, bloom filter, and every
// provided per-level centroid in one transaction.
func (idx *Index) Register(info *ShardInfo) error {
	if info.ID == "" || info.Path == "" {
		return errors.New(errors.ErrInvalidInput, "shard id and path are required")
	}
	status := info.Status
	if status == "" {
		status = "active"
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO shards (id, path, doc_count, status, bloom_filter)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path = excluded.path,
			doc_count = excluded.doc_count,
			status = excluded.status,
			bloom_filter = excluded.bloom_filter`,
		info.ID, info.Path, info.DocCount, status, info.BloomData)
	if err != nil {
		return err
	}

	if _, err := tx.Exec("DELETE FROM shard_centroids WHERE shard_id = ?", info.ID); err != nil {
		return err
	}
	for level, vec := range info.Centroids {
		_, err := tx.Exec(
			"INSERT INTO shard_centroids (shard_id, level, centroid, centroid_norm) VALUES (?, ?, ?, ?)",
			info.ID, string(level), vectormath.Serialize(vec), vectormath.Norm(vec))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateCentroid replaces a single per-level centroid atomically.
func (idx *Index) UpdateCentroid(shardID string, level shard.Level, centroid []float32) error {
	_, err := idx.db.Exec(`
		INSERT INTO shard_centroids (shard_id, level, centroid, centroid_norm)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(shard_id, level) DO UPDATE SET
			centroid = excluded.centroid,
			centroid_norm = excluded.centroid_norm`,
		shardID, string(level), vectormath.Serialize(centroid), vectormath.Norm(centroid))
	return err
}

// EntriesAtLevel returns routing entries for active shards that carry a
// centroid at the requested level, ordered by query_count descending.
// limit <= 0 means unbounded.
func (idx *Index) EntriesAtLevel(level shard.Level, limit int) ([]*RoutingEntry, error) {
	query := `
		SELECT s.id, s.path, s.doc_count, s.query_count,
		       COALESCE(s.last_accessed, ''), s.status, s.bloom_filter,
		       c.centroid, c.centroid_norm
		FROM shards s
		JOIN shard_centroids c ON c.shard_id = s.id AND c.level = ?
		WHERE s.status = 'active'
		ORDER BY s.query_count DESC, s.id ASC`
	args := []interface{}{string(level)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RoutingEntry
	for rows.Next() {
		var (
			e         RoutingEntry
			accessed  string
			bloomBlob []byte
			centBlob  []byte
			centNorm  float64
		)
		if err := rows.Scan(&e.ID, &e.Path, &e.DocCount, &e.QueryCount,
			&accessed, &e.Status, &bloomBlob, &centBlob, &centNorm); err != nil {
			return nil, err
		}
		if accessed != "" {
			e.LastAccessed, _ = time.Parse(time.RFC3339, accessed)
		}
		filter, err := UnmarshalTermFilter(bloomBlob)
		if err != nil {
			idx.logger.Warn("discarding corrupt bloom filter", zap.String("shard_id", e.ID), zap.Error(err))
		} else {
			e.Bloom = filter
		}
		e.Centroids = map[shard.Level]Centroid{
			level: {Vec: vectormath.Deserialize(centBlob), Norm: centNorm},
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ShardListing is the flat shard view served by the shards endpoint and
// consumed by the analytics bridge.
type ShardListing struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	DocCount   int64  `json:"doc_count"`
	QueryCount int64  `json:"query_count"`
	Status     string `json:"status"`
}

// ActiveShards lists every active shard.
func (idx *Index) ActiveShards() ([]ShardListing, error) {
	rows, err := idx.db.Query(`
		SELECT id, path, doc_count, query_count, status
		FROM shards WHERE status = 'active'
		ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShardListing
	for rows.Next() {
		var s ShardListing
		if err := rows.Scan(&s.ID, &s.Path, &s.DocCount, &s.QueryCount, &s.Status); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ShardCount reports the number of active shards.
func (idx *Index) ShardCount() (int, error) {
	var n int
	err := idx.db.QueryRow("SELECT COUNT(*) FROM shards WHERE status = 'active'").Scan(&n)
	return n, err
}

// QueryCount reports one shard's access counter after any pending flush.
// Test hook for routing behavior.
func (idx *Index) QueryCount(shardID string) (int64, error) {
	var n int64
	err := idx.db.QueryRow("SELECT query_count FROM shards WHERE id = ?", shardID).Scan(&n)
	return n, err
}

// RecordAccess buffers a query_count increment for a shard. Never blocks
// the query path: when the buffer is full the increment is dropped.
func (idx *Index) RecordAccess(shardID string) {
	select {
	case idx.accessCh <- shardID:
	default:
	}
}

// Flush synchronously applies any buffered access stats. Test hook.
func (idx *Index) Flush() {
	pending := make(map[string]int64)
	for {
		select {
		case id := <-idx.accessCh:
			pending[id]++
		default:
			idx.applyStats(pending)
			return
		}
	}
}

func (idx *Index) flushLoop() {
	defer idx.wg.Done()
	ticker := time.NewTicker(idx.flushInt)
	defer ticker.Stop()

	pending := make(map[string]int64)
	total := 0
	flush := func() {
		if total == 0 {
			return
		}
		idx.applyStats(pending)
		pending = make(map[string]int64)
		total = 0
	}

	for {
		select {
		case id := <-idx.accessCh:
			pending[id]++
			total++
			if total >= idx.flushMax {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-idx.done:
			// Drain what is already buffered before exit.
			for {
				select {
				case id := <-idx.accessCh:
					pending[id]++
					total++
				default:
					flush()
					return
				}
			}
		}
	}
}

func (idx *Index) applyStats(pending map[string]int64) {
	if len(pending) == 0 {
		return
	}
	tx, err := idx.db.Begin()
	if err != nil {
		idx.logger.Error("access stat flush failed", zap.Error(err))
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for id, delta := range pending {
		if _, err := tx.Exec(
			"UPDATE shards SET query_count = query_count + ?, last_accessed = ? WHERE id = ?",
			delta, now, id); err != nil {
			idx.logger.Error("access stat update failed", zap.String("shard_id", id), zap.Error(err))
		}
	}
	if err := tx.Commit(); err != nil {
		idx.logger.Error("access stat commit failed", zap.Error(err))
	}
}
