// Package routing decides which shards a query should touch: a persistent
// routing index of per-shard centroids and bloom filters, an in-memory
// hot-shard LRU over it, and the router that scores candidates against the
// query vector.
package routing

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// Bloom filter geometry for per-shard term filters.
const (
	BloomBits   = 10000
	BloomHashes = 5
)

// TermFilter is the per-shard set-membership filter over document terms.
// False positives are possible, false negatives are not.
type TermFilter struct {
	filter *bloom.BloomFilter
}

// NewTermFilter creates an empty filter with the standard geometry.
func NewTermFilter() *TermFilter {
	return &TermFilter{filter: bloom.New(BloomBits, BloomHashes)}
}

// Add inserts a term.
func (f *TermFilter) Add(term string) {
	f.filter.AddString(term)
}

// MayContain reports whether a term is possibly a member.
func (f *TermFilter) MayContain(term string) bool {
	return f.filter.TestString(term)
}

// MayContainAny reports whether any of the terms is possibly a member.
// Queries are disjunctive over terms, so one possible hit keeps a shard.
func (f *TermFilter) MayContainAny(terms []string) bool {
	for _, t := range terms {
		if f.filter.TestString(t) {
			return true
		}
	}
	return false
}

// MarshalBinary serializes the filter for storage in the routing index.
func (f *TermFilter) MarshalBinary() ([]byte, error) {
	return f.filter.MarshalBinary()
}

// UnmarshalTermFilter decodes a serialized filter. Empty input yields nil,
// meaning the shard has no filter and is never pruned.
func UnmarshalTermFilter(data []byte) (*TermFilter, error) {
	if len(data) == 0 {
		return nil, nil
	}
	f := &bloom.BloomFilter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &TermFilter{filter: f}, nil
}
