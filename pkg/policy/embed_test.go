package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedTextDeterministicAndNormalized(t *testing.T) {
	a := EmbedText("low health, cornered by an orc in the swamp")
	b := EmbedText("low health, cornered by an orc in the swamp")

	require.Len(t, a, EmbedDim)
	assert.Equal(t, a, b)

	var norm float64
	for _, x := range a {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-9)
}

func TestEmbedTextEmptyIsZeroVector(t *testing.T) {
	vec := EmbedText("")
	require.Len(t, vec, EmbedDim)
	for _, x := range vec {
		assert.Zero(t, x)
	}
}

func TestEmbedTextEarlierTokensWeighHeavier(t *testing.T) {
	// Identical token sets in different orders produce different vectors
	// unless the tokens happen to collide into one bucket.
	a := EmbedText("dragon breathes fire")
	b := EmbedText("fire breathes dragon")
	assert.NotEqual(t, a, b)
}

func TestCosineSimilarityBounds(t *testing.T) {
	a := EmbedText("a long rest at the quiet campfire")
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)

	b := EmbedText("frenzied melee against three bandits")
	sim := CosineSimilarity(a, b)
	assert.GreaterOrEqual(t, sim, 0.0)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestCosineSimilarityLengthMismatch(t *testing.T) {
	assert.Zero(t, CosineSimilarity([]float64{1, 0}, []float64{1, 0, 0}))
}

func TestCosineSimilarityClampsNegativeDot(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{-1, 0}
	assert.Zero(t, CosineSimilarity(a, b))
	assert.False(t, math.Signbit(CosineSimilarity(a, b)))
}
