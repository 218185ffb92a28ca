// Package vectormath provides dense-vector primitives shared by the routing
// index, the shard router, and the fan-out executor: norms, dot products,
// cosine similarity, and the compact float32 wire format used for centroids
// and chunk embeddings.
package vectormath

import (
	"encoding/binary"
	"math"

	"github.com/mosaicdb/mosaicdb/pkg/common/errors"
)

// epsilon guards the cosine denominator against division by zero.
const epsilon = 1e-12

// Norm computes the Euclidean (L2) norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Dot computes the dot product of a and b.
// Dimension mismatch is an InvalidInput error.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Newf(errors.ErrInvalidInput, "vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// CosineSimilarity computes dot(a,b) / (normA*normB + epsilon) with
// precomputed norms. The result lies in [-1, 1] for real inputs.
func CosineSimilarity(a []float32, normA float64, b []float32, normB float64) (float64, error) {
	dot, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	return dot / (normA*normB + epsilon), nil
}

// Mean computes the element-wise mean of a set of equal-dimension vectors.
// Used to build shard centroids. Returns nil for an empty set; vectors of
// mismatched dimension are an InvalidInput error.
func Mean(vecs [][]float32) ([]float32, error) {
	if len(vecs) == 0 {
		return nil, nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil, errors.Newf(errors.ErrInvalidInput, "vector dimension mismatch: %d vs %d", len(v), dim)
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, dim)
	for i, s := range sum {
		mean[i] = float32(s / float64(len(vecs)))
	}
	return mean, nil
}

// Serialize converts a float32 vector to its little-endian byte form,
// 4 bytes per element. This is the format stored in centroid and
// embedding BLOB columns.
func Serialize(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Deserialize converts a little-endian byte slice back to a float32 vector.
// Returns nil for empty or misaligned input.
func Deserialize(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	n := len(data) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}
