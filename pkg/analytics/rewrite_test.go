package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
)

func TestDetectTable(t *testing.T) {
	table, err := DetectTable("SELECT COUNT(*) FROM documents")
	require.NoError(t, err)
	assert.Equal(t, "documents", table)

	table, err = DetectTable("select level, count(*) from chunks group by level")
	require.NoError(t, err)
	assert.Equal(t, "chunks", table)

	_, err = DetectTable("SELECT * FROM users")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFederate_UnionAll(t *testing.T) {
	got, err := Federate("SELECT COUNT(*) FROM documents", []string{"shard_a", "shard_b"})
	require.NoError(t, err)
	assert.Equal(t,
		"WITH federated AS (SELECT COUNT(*) FROM shard_a.documents UNION ALL SELECT COUNT(*) FROM shard_b.documents) SELECT * FROM federated",
		got)
}

func TestFederate_MovesOrderByAndLimitOutside(t *testing.T) {
	got, err := Federate(
		"SELECT id, pagerank FROM chunks ORDER BY pagerank DESC LIMIT 5",
		[]string{"shard_a", "shard_b"})
	require.NoError(t, err)

	assert.Contains(t, got, "WITH federated AS (SELECT id, pagerank FROM shard_a.chunks UNION ALL SELECT id, pagerank FROM shard_b.chunks)")
	assert.Contains(t, got, "SELECT * FROM federated ORDER BY pagerank DESC LIMIT 5")
	// The sub-queries themselves must not carry the outer clauses.
	assert.NotContains(t, got, "shard_a.chunks ORDER BY")
}

func TestFederate_NoShards(t *testing.T) {
	_, err := Federate("SELECT COUNT(*) FROM documents", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestFederate_PreservesWhere(t *testing.T) {
	got, err := Federate("SELECT id FROM documents WHERE created_at > '2026-01-01'", []string{"shard_x"})
	require.NoError(t, err)
	assert.Contains(t, got, "shard_x.documents WHERE created_at > '2026-01-01'")
}

func TestSplitOuterClauses(t *testing.T) {
	core, orderBy, limit := splitOuterClauses("SELECT a FROM documents ORDER BY a ASC LIMIT 3;")
	assert.Equal(t, "SELECT a FROM documents", core)
	assert.Equal(t, "ORDER BY a ASC", orderBy)
	assert.Equal(t, "LIMIT 3", limit)

	core, orderBy, limit = splitOuterClauses("SELECT a FROM documents")
	assert.Equal(t, "SELECT a FROM documents", core)
	assert.Empty(t, orderBy)
	assert.Empty(t, limit)
}

func TestAlias(t *testing.T) {
	assert.Equal(t, "shard_s1", Alias("s1"))
	assert.Equal(t, "shard_us_east_01", Alias("us-east/01"))
}
