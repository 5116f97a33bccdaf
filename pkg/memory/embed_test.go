package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbedIsDeterministicAndNormalized(t *testing.T) {
	a := embed("repository pattern for storage layer")
	b := embed("repository pattern for storage layer")
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-3)
}

func TestEmbedEmptyTextIsZeroVector(t *testing.T) {
	v := embed("")
	for _, x := range v {
		assert.Equal(t, float32(0), x)
	}
}
