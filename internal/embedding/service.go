// Package embedding provides the embedders behind the memory corpus:
// Voyage over the OpenAI-compatible API when a key is present, a local
// Ollama model otherwise, and a deterministic hash embedder as the
// last resort so ingestion never hard-fails. A two-tier cache
// (Ristretto L1, optional Redis L2) sits in front of whichever
// embedder is active; embeddings are content-addressed so entries
// never go stale.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Embedder turns text into unit vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Name() string
	Close() error
}

// Config tunes the embedding service.
type Config struct {
	VoyageAPIKey string
	VoyageModel  string
	OllamaURL    string
	OllamaModel  string
	CacheTTL     time.Duration
	CacheMaxCost int64
}

// DefaultConfig mirrors the sidecar's environment defaults.
func DefaultConfig() Config {
	return Config{
		VoyageModel:  "voyage-3-large",
		OllamaURL:    "http://localhost:11434",
		OllamaModel:  "all-minilm",
		CacheTTL:     24 * time.Hour,
		CacheMaxCost: 64 << 20, // bytes of cached vectors
	}
}

// Service fronts an Embedder with the two-tier cache.
type Service struct {
	embedder Embedder
	l1       *ristretto.Cache[string, []byte]
	l2       *redis.Client
	ttl      time.Duration
	logger   *zap.Logger
}

// NewService picks the best available embedder: Voyage when the key is
// set, then Ollama when reachable, then the hash fallback.
func NewService(ctx context.Context, cfg Config, redisClient *redis.Client, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("embedding")

	var embedder Embedder
	if cfg.VoyageAPIKey != "" {
		embedder = NewVoyageEmbedder(cfg.VoyageAPIKey, cfg.VoyageModel)
		logger.Info("Embedder: Voyage",
			zap.String("model", cfg.VoyageModel),
			zap.Int("dimension", embedder.Dimension()))
	} else {
		ollama := NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel)
		if err := ollama.EnsureModel(ctx); err != nil {
			logger.Warn("Ollama unavailable, falling back to hash embedder",
				zap.Error(err))
			embedder = NewHashEmbedder(384)
		} else {
			embedder = ollama
			logger.Info("Embedder: Ollama",
				zap.String("model", cfg.OllamaModel),
				zap.Int("dimension", embedder.Dimension()))
		}
	}

	return newServiceWith(cfg, embedder, redisClient, logger)
}

// NewServiceWith wraps a specific embedder. Tests use this with fakes.
func NewServiceWith(cfg Config, embedder Embedder, redisClient *redis.Client, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newServiceWith(cfg, embedder, redisClient, logger.Named("embedding"))
}

func newServiceWith(cfg Config, embedder Embedder, redisClient *redis.Client, logger *zap.Logger) (*Service, error) {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if cfg.CacheMaxCost <= 0 {
		cfg.CacheMaxCost = DefaultConfig().CacheMaxCost
	}

	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e5,
		MaxCost:     cfg.CacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Service{
		embedder: embedder,
		l1:       l1,
		l2:       redisClient,
		ttl:      cfg.CacheTTL,
		logger:   logger,
	}, nil
}

// Embed returns the vector for text, consulting L1 then L2 before the
// backing embedder. Cache writes never block the caller.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := s.cacheKey(text)

	if data, found := s.l1.Get(key); found {
		return decodeVector(data), nil
	}
	if s.l2 != nil {
		if data, err := s.l2.Get(ctx, key).Bytes(); err == nil && len(data) > 0 {
			vec := decodeVector(data)
			s.l1.SetWithTTL(key, data, int64(len(data)), s.ttl)
			return vec, nil
		}
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	s.store(key, vec)
	return vec, nil
}

// EmbedBatch embeds texts preserving order, filling cache hits and
// batching only the misses through the backing embedder.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if data, found := s.l1.Get(s.cacheKey(text)); found {
			out[i] = decodeVector(data)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) > 0 {
		vecs, err := s.embedder.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			s.store(s.cacheKey(missTexts[j]), vec)
		}
	}

	return out, nil
}

// Dimension reports the active embedder's vector width.
func (s *Service) Dimension() int { return s.embedder.Dimension() }

// Name reports the active embedder.
func (s *Service) Name() string { return s.embedder.Name() }

// Healthy probes the backing embedder with a tiny input.
func (s *Service) Healthy(ctx context.Context) bool {
	_, err := s.Embed(ctx, "ping")
	return err == nil
}

// Close releases the cache and the backing embedder.
func (s *Service) Close() error {
	s.l1.Close()
	return s.embedder.Close()
}

func (s *Service) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + s.embedder.Name() + ":" + hex.EncodeToString(sum[:16])
}

func (s *Service) store(key string, vec []float32) {
	data := encodeVector(vec)
	s.l1.SetWithTTL(key, data, int64(len(data)), s.ttl)
	if s.l2 != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.l2.Set(ctx, key, data, s.ttl).Err(); err != nil {
				s.logger.Debug("L2 embedding cache write failed", zap.Error(err))
			}
		}()
	}
}

func encodeVector(vec []float32) []byte {
	data := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}

func decodeVector(data []byte) []float32 {
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

// CosineSimilarity computes the cosine of the angle between two
// vectors. Mismatched lengths score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
