package embedding

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

// countingEmbedder tracks how often the backing embedder is hit.
type countingEmbedder struct {
	calls int64
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&c.calls, 1)
	vec := make([]float32, 4)
	for i := range vec {
		vec[i] = float32(len(text)%7) + float32(i)
	}
	return vec, nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int { return 4 }
func (c *countingEmbedder) Name() string   { return "counting" }
func (c *countingEmbedder) Close() error   { return nil }

func newTestService(t *testing.T) (*Service, *countingEmbedder) {
	t.Helper()
	fake := &countingEmbedder{}
	svc, err := NewServiceWith(DefaultConfig(), fake, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewServiceWith: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc, fake
}

func TestEmbedCachesResult(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	first, err := svc.Embed(ctx, "the sidecar stores facts")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	svc.l1.Wait()

	second, err := svc.Embed(ctx, "the sidecar stores facts")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if atomic.LoadInt64(&fake.calls) != 1 {
		t.Errorf("Expected 1 backing call, got %d", fake.calls)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("Cached vector differs at %d: %f vs %f", i, first[i], second[i])
		}
	}
}

func TestEmbedBatchUsesCache(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Embed(ctx, "alpha"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	svc.l1.Wait()

	vecs, err := svc.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("Expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 4 {
			t.Errorf("Vector %d has width %d", i, len(v))
		}
	}

	// alpha was cached; only beta and gamma hit the embedder.
	if got := atomic.LoadInt64(&fake.calls); got != 3 {
		t.Errorf("Expected 3 total backing calls, got %d", got)
	}
}

func TestVectorCodec(t *testing.T) {
	in := []float32{0.25, -1.5, 3.125, 0}
	out := decodeVector(encodeVector(in))
	if len(out) != len(in) {
		t.Fatalf("Length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("Value %d: expected %f, got %f", i, in[i], out[i])
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	if got := CosineSimilarity(a, b); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Expected 1.0 for identical vectors, got %f", got)
	}

	c := []float32{0, 1, 0}
	if got := CosineSimilarity(a, c); math.Abs(got) > 1e-9 {
		t.Errorf("Expected 0.0 for orthogonal vectors, got %f", got)
	}

	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("Expected 0.0 for mismatched lengths, got %f", got)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(384)
	ctx := context.Background()

	a, err := e.Embed(ctx, "same input")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := e.Embed(ctx, "same input")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if sim := CosineSimilarity(a, b); math.Abs(sim-1.0) > 1e-6 {
		t.Errorf("Expected identical vectors, similarity %f", sim)
	}

	c, err := e.Embed(ctx, "different input")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if sim := CosineSimilarity(a, c); sim > 0.5 {
		t.Errorf("Expected distinct texts to diverge, similarity %f", sim)
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-4 {
		t.Errorf("Expected unit vector, norm %f", math.Sqrt(norm))
	}
}
