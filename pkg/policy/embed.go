package policy

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"strings"
)

// EmbedDim is the fixed width of episode embeddings.
const EmbedDim = 64

// EmbedText maps text onto a deterministic hashed bag-of-tokens vector:
// each of the first EmbedDim lowercase tokens lands in a hashed bucket with
// weight 1/(position+1), and the result is L2-normalized. Reproducible
// across processes, with no model involved.
func EmbedText(text string) []float64 {
	vec := make([]float64, EmbedDim)

	words := strings.Fields(strings.ToLower(text))
	if len(words) > EmbedDim {
		words = words[:EmbedDim]
	}
	for i, word := range words {
		vec[tokenBucket(word)] += 1.0 / float64(i+1)
	}

	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}

// tokenBucket hashes a token into [0, EmbedDim). MD5 keeps the bucket
// assignment stable across runs, unlike the runtime's seeded map hash.
func tokenBucket(word string) int {
	sum := md5.Sum([]byte(word))
	return int(binary.BigEndian.Uint64(sum[8:]) % EmbedDim)
}

// CosineSimilarity is the dot product of two same-length unit vectors,
// clamped to [0, 1]. Mismatched lengths score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return math.Max(0, math.Min(1, dot))
}
