package retrieval

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embeddings are stored as little-endian float32 BLOBs: 4 bytes per
// dimension, no header. The same codec is used at insert and search time.

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes into the provided buffer, reusing it when it has
// capacity, to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// CosineSimilarity is the distance metric for nearest-neighbor ordering.
// It is fixed here once so insert-time expectations and query-time ordering
// cannot drift apart.
func CosineSimilarity(a, b []float32) float32 {
	return scoreAgainst(a, b, norm(a))
}

// scoreAgainst computes cosine similarity with the query norm precomputed,
// for the scan loop in Search.
func scoreAgainst(query, candidate []float32, queryNorm float32) float32 {
	if len(query) != len(candidate) {
		return 0
	}
	var dot, candNormSq float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
		candNormSq += float64(candidate[i]) * float64(candidate[i])
	}
	candNorm := math.Sqrt(candNormSq)
	if candNorm == 0 || queryNorm == 0 {
		return 0
	}
	return float32(dot / (float64(queryNorm) * candNorm))
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}
