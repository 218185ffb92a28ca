// Package shard provides access to the embedded per-shard database files:
// a custom SQLite driver exposing a vector-distance SQL function, pooled
// connection handles, the hot-path vector query, and ingest helpers.
package shard

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/vectormath"
)

// DriverName is the database/sql driver for shard files. Connections made
// through it carry the vec_distance SQL function.
const DriverName = "sqlite3_vec"

var registerDriver sync.Once

// RegisterDriver installs the shard SQLite driver. Safe to call more than
// once; database/sql panics on duplicate registration otherwise.
func RegisterDriver() {
	registerDriver.Do(func() {
		sql.Register(DriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("vec_distance", vecDistance, true)
			},
		})
	})
}

// vecDistance is the SQL-visible cosine distance between two serialized
// embeddings. Distance is 1 - cosine similarity, so identical directions
// score 0 and opposite directions score 2.
func vecDistance(a, b []byte) (float64, error) {
	va := vectormath.Deserialize(a)
	vb := vectormath.Deserialize(b)
	if va == nil || vb == nil {
		return 0, stderrors.New("vec_distance: malformed embedding blob")
	}
	sim, err := vectormath.CosineSimilarity(va, vectormath.Norm(va), vb, vectormath.Norm(vb))
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}

// Handle is one borrowed connection to a shard file. A handle is owned
// exclusively by the borrowing task between Checkout and Checkin.
type Handle struct {
	db   *sql.DB
	path string
}

// Open opens a single-connection handle to a shard file and applies the
// per-connection tuning pragmas.
func Open(path string, busyTimeoutMS int) (*Handle, error) {
	RegisterDriver()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL", path, busyTimeoutMS)
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, errors.Newf(errors.ErrShardUnavailable, "open shard %s: %v", path, err)
	}
	// One underlying connection per handle; the pool above manages fan-out.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA mmap_size = 268435456"); err != nil {
		db.Close()
		return nil, errors.Newf(errors.ErrShardUnavailable, "tune shard %s: %v", path, err)
	}
	return &Handle{db: db, path: path}, nil
}

// Path returns the shard file this handle is bound to.
func (h *Handle) Path() string { return h.path }

// Close releases the underlying connection.
func (h *Handle) Close() error { return h.db.Close() }

// Ping runs the health probe used before a pooled handle is handed out.
func (h *Handle) Ping(ctx context.Context) error {
	var one int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Newf(errors.ErrShardUnavailable, "shard %s unhealthy: %v", h.path, err)
	}
	return nil
}

// VectorHit is one row of the hot-path vector query before ranking.
type VectorHit struct {
	ChunkID  string
	DocID    string
	Text     string
	Metadata string
	PageRank float64
	Distance float64
}

// VectorSearch runs the vector-distance query at the given level, returning
// the top k rows by ascending distance. The filter, when non-empty, is
// trusted SQL appended to the WHERE clause; the embedding itself is always
// bound as a parameter.
func (h *Handle) VectorSearch(ctx context.Context, embedding []float32, level Level, filter string, k int) ([]VectorHit, error) {
	query := `
		SELECT c.id, c.doc_id, c.text, COALESCE(c.metadata, ''), COALESCE(c.pagerank, 0),
		       vec_distance(e.embedding, ?) AS distance
		FROM chunk_embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.doc_id
		WHERE c.level = ?`
	if filter != "" {
		query += " AND (" + filter + ")"
	}
	query += " ORDER BY distance ASC LIMIT ?"

	rows, err := h.db.QueryContext(ctx, query, vectormath.Serialize(embedding), string(level), k)
	if err != nil {
		return nil, errors.Newf(errors.ErrShardUnavailable, "vector search on %s: %v", h.path, err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var hit VectorHit
		if err := rows.Scan(&hit.ChunkID, &hit.DocID, &hit.Text, &hit.Metadata, &hit.PageRank, &hit.Distance); err != nil {
			return nil, errors.Newf(errors.ErrShardUnavailable, "scan hit on %s: %v", h.path, err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Rows is a positional result set with named column lookup, used by the
// federated simple-SQL path where the shape is caller-defined.
type Rows struct {
	Columns []string
	Values  [][]interface{}
}

// Index returns the position of a column, or -1.
func (r *Rows) Index(column string) int {
	for i, c := range r.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Query executes arbitrary parameterized SQL against the shard and
// materializes every row.
func (h *Handle) Query(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Newf(errors.ErrShardUnavailable, "query on %s: %v", h.path, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		// Copy []byte out of the driver's buffer before the next row reuses it.
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Values = append(out.Values, vals)
	}
	return out, rows.Err()
}

// Exec executes a statement against the shard. Used by ingest.
func (h *Handle) Exec(ctx context.Context, query string, args ...interface{}) error {
	if _, err := h.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Newf(errors.ErrShardUnavailable, "exec on %s: %v", h.path, err)
	}
	return nil
}

// GroundingRow carries the provenance fields attached to top results.
type GroundingRow struct {
	DocText     string
	StartOffset int64
	EndOffset   int64
	ParentText  string
}

// Grounding fetches document text, offsets, and the parent chunk's text for
// one result chunk.
func (h *Handle) Grounding(ctx context.Context, chunkID string) (*GroundingRow, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT d.text, c.start_offset, c.end_offset, COALESCE(p.text, '')
		FROM chunks c
		JOIN documents d ON d.id = c.doc_id
		LEFT JOIN chunks p ON p.id = c.parent_id
		WHERE c.id = ?`, chunkID)

	var g GroundingRow
	if err := row.Scan(&g.DocText, &g.StartOffset, &g.EndOffset, &g.ParentText); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.ErrNotFound, "chunk %s not found in %s", chunkID, h.path)
		}
		return nil, err
	}
	return &g, nil
}
