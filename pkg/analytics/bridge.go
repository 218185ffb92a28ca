package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
	"github.com/mosaicdb/mosaicdb/pkg/shard"
)

// Bridge owns the in-memory analytical engine with every active shard file
// attached as a read-only catalog. Attachment is incremental: each query
// diffs the active set against what is already attached.
type Bridge struct {
	mu       sync.Mutex
	db       *sql.DB
	attached map[string]string // alias -> shard path
	logger   *zap.Logger
}

// NewBridge opens the in-memory engine.
func NewBridge(logger *zap.Logger) (*Bridge, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open analytical engine: %w", err)
	}
	return &Bridge{
		db:       db,
		attached: make(map[string]string),
		logger:   logger,
	}, nil
}

// Close detaches nothing explicitly; dropping the in-memory engine releases
// every attachment.
func (b *Bridge) Close() error {
	return b.db.Close()
}

var aliasSanitize = regexp.MustCompile(`\W`)

// Alias maps a shard id to its attachment alias.
func Alias(shardID string) string {
	return "shard_" + aliasSanitize.ReplaceAllString(shardID, "_")
}

// ActiveShard is the slice of shard state the bridge needs.
type ActiveShard struct {
	ID   string
	Path string
}

// EnsureAttached attaches any active shard not yet attached and returns the
// full alias list in deterministic order. A shard must be attached before
// it contributes to analytical results.
func (b *Bridge) EnsureAttached(ctx context.Context, shards []ActiveShard) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range shards {
		alias := Alias(s.ID)
		if _, ok := b.attached[alias]; ok {
			continue
		}
		if err := b.attach(ctx, alias, s.Path); err != nil {
			return nil, err
		}
		b.attached[alias] = s.Path
	}

	aliases := make([]string, 0, len(shards))
	for _, s := range shards {
		aliases = append(aliases, Alias(s.ID))
	}
	sort.Strings(aliases)
	return aliases, nil
}

// Refresh detaches every shard and re-attaches the given set.
func (b *Bridge) Refresh(ctx context.Context, shards []ActiveShard) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for alias := range b.attached {
		if _, err := b.db.ExecContext(ctx, "DETACH "+alias); err != nil {
			b.logger.Warn("detach failed", zap.String("alias", alias), zap.Error(err))
		}
		delete(b.attached, alias)
	}
	for _, s := range shards {
		alias := Alias(s.ID)
		if err := b.attach(ctx, alias, s.Path); err != nil {
			return err
		}
		b.attached[alias] = s.Path
	}
	return nil
}

func (b *Bridge) attach(ctx context.Context, alias, path string) error {
	stmt := fmt.Sprintf("ATTACH '%s' AS %s (TYPE sqlite, READ_ONLY)", strings.ReplaceAll(path, "'", "''"), alias)
	if _, err := b.db.ExecContext(ctx, stmt); err != nil {
		return errors.Newf(errors.ErrShardUnavailable, "attach shard %s: %v", alias, err)
	}
	return nil
}

// AttachedCount reports how many shards the engine currently sees.
func (b *Bridge) AttachedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.attached)
}

// Query attaches the active set, rewrites the logical query into federated
// form, and executes it once on the analytical engine.
func (b *Bridge) Query(ctx context.Context, shards []ActiveShard, query string, args ...interface{}) (*shard.Rows, error) {
	aliases, err := b.EnsureAttached(ctx, shards)
	if err != nil {
		return nil, err
	}
	federated, err := Federate(query, aliases)
	if err != nil {
		return nil, err
	}

	// One federated query may carry the same placeholder per shard branch.
	expanded := make([]interface{}, 0, len(args)*len(aliases))
	for range aliases {
		expanded = append(expanded, args...)
	}

	rows, err := b.db.QueryContext(ctx, federated, expanded...)
	if err != nil {
		return nil, errors.Newf(errors.ErrInternal, "federated query failed: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &shard.Rows{Columns: cols}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if bs, ok := v.([]byte); ok {
				vals[i] = string(bs)
			}
		}
		out.Values = append(out.Values, vals)
	}
	return out, rows.Err()
}
