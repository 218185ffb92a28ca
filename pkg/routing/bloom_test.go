package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermFilter_NoFalseNegatives(t *testing.T) {
	f := NewTermFilter()
	terms := []string{"mosaic", "database", "federated", "shard", "centroid", "bloom"}
	for _, term := range terms {
		f.Add(term)
	}
	for _, term := range terms {
		assert.True(t, f.MayContain(term), "added term %q must never be pruned", term)
	}
}

func TestTermFilter_MayContainAny(t *testing.T) {
	f := NewTermFilter()
	f.Add("mosaic")

	assert.True(t, f.MayContainAny([]string{"unrelated", "mosaic"}))
	assert.False(t, f.MayContainAny([]string{"quasar", "nebula"}))
	assert.False(t, f.MayContainAny(nil))
}

func TestTermFilter_RoundTrip(t *testing.T) {
	f := NewTermFilter()
	f.Add("alpha")
	f.Add("beta")

	data, err := f.MarshalBinary()
	require.NoError(t, err)

	got, err := UnmarshalTermFilter(data)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.True(t, got.MayContain("alpha"))
	assert.True(t, got.MayContain("beta"))
	assert.False(t, got.MayContain("gamma"))
}

func TestUnmarshalTermFilter_Empty(t *testing.T) {
	got, err := UnmarshalTermFilter(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
