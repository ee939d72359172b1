package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
)

// OfflineEmbedder produces deterministic pseudo-embeddings seeded from the
// text's hash. It stands in for the real embedding provider in tests and in
// runs without an API key; identical text always yields the identical vector.
type OfflineEmbedder struct {
	Dims int
}

// DefaultOfflineDims matches the dimensionality of the real embedding model.
const DefaultOfflineDims = 768

// EmbeddingModelName identifies cache rows written by the offline embedder.
func (o *OfflineEmbedder) EmbeddingModelName() string {
	return "offline"
}

// Embed returns a unit-normalized pseudo-random vector seeded by the text.
func (o *OfflineEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	dims := o.Dims
	if dims <= 0 {
		dims = DefaultOfflineDims
	}
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float64, dims)
	var norm float64
	for i := range vec {
		vec[i] = rng.Float64()*2 - 1
		norm += vec[i] * vec[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec, nil
}
