package memory

import (
	"hash/fnv"
	"math"
	"strings"
)

// embedDims is the fixed vector size used for the hashing-trick bag-of-words
// vectorizer below. Real semantic embedding generation is an external
// collaborator's job (spec.md §1 Non-goals); this hashing vectorizer exists
// only so the Qdrant-backed store has something to index and query against
// without taking a dependency on an embedding model.
const embedDims = 64

// embed turns text into a fixed-size, L2-normalized vector via the hashing
// trick: each word's FNV hash selects a bucket, sign comes from another bit
// of the hash. Similar word sets land close together under cosine distance.
func embed(text string) []float32 {
	vec := make([]float64, embedDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum32()
		bucket := int(sum % uint32(embedDims))
		if (sum>>16)&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, embedDims)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
