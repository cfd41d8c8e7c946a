package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// HashEmbedder is the last-resort embedder: a deterministic unit
// vector derived from the text digest. Similar texts do NOT land near
// each other, so semantic dedup degrades to exact-match, but identical
// texts still collide and the rest of the pipeline keeps working.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a fallback embedder of the given width.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

// Embed derives a unit vector from the SHA-256 of the text, expanding
// the digest with counter re-hashing until the vector is full.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	seed := sha256.Sum256([]byte(text))

	var sumSq float64
	block := seed
	for i := 0; i < e.dimension; i++ {
		if i%8 == 0 && i > 0 {
			block = sha256.Sum256(append(block[:], byte(i)))
		}
		bits := binary.LittleEndian.Uint32(block[(i%8)*4:])
		// Map to [-1, 1).
		v := float32(int32(bits)) / float32(math.MaxInt32)
		vec[i] = v
		sumSq += float64(v) * float64(v)
	}

	norm := float32(math.Sqrt(sumSq))
	if norm > 1e-9 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension returns the configured vector width.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// Name identifies the embedder for cache keys and health output.
func (e *HashEmbedder) Name() string {
	return fmt.Sprintf("hash-%d", e.dimension)
}

// Close is a no-op.
func (e *HashEmbedder) Close() error { return nil }
