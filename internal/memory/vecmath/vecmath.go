// Package vecmath holds the pure numeric helpers shared by the vector
// store and retrieval engine: byte-codec and similarity functions with
// no dependency on storage or domain types, grounded on the teacher's
// float32ToBytes/bytesToFloat32/cosineSimilarity in vector/search.go.
package vecmath

import (
	"encoding/binary"
	"math"
)

// VecToBytes encodes a float32 vector as a little-endian byte blob, with
// no length header — the blob's length is always len(v)*4.
func VecToBytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// BytesToVec decodes a little-endian byte blob back into a float32
// vector. It returns nil if b's length is not a multiple of 4.
func BytesToVec(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// It returns 0 for empty vectors, length mismatches, zero-norm vectors,
// or any NaN/Inf component — matching the spec's "undefined similarity
// means no signal" rule rather than propagating NaN into ranking.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		if math.IsNaN(av) || math.IsInf(av, 0) || math.IsNaN(bv) || math.IsInf(bv, 0) {
			return 0
		}
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}

// L2Distance returns the Euclidean distance between a and b, or +Inf on
// a length mismatch.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
