package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const voyageBaseURL = "https://api.voyageai.com/v1"

// voyage speaks the OpenAI embeddings wire format.
var voyageDimensions = map[string]int{
	"voyage-3-large": 1024,
	"voyage-3":       1024,
	"voyage-3-lite":  512,
}

// voyageMaxBatch is the provider's per-request input limit.
const voyageMaxBatch = 128

// VoyageEmbedder calls the Voyage API through the OpenAI client.
type VoyageEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewVoyageEmbedder builds a Voyage-backed embedder. Unknown models
// assume the 1024-wide default.
func NewVoyageEmbedder(apiKey, model string) *VoyageEmbedder {
	if model == "" {
		model = DefaultConfig().VoyageModel
	}
	dim, ok := voyageDimensions[model]
	if !ok {
		dim = 1024
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(voyageBaseURL),
		option.WithRequestTimeout(30*time.Second),
	)

	return &VoyageEmbedder{
		client:    client,
		model:     model,
		dimension: dim,
	}
}

// Embed generates a single embedding.
func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in provider-sized chunks, preserving order.
func (e *VoyageEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += voyageMaxBatch {
		end := start + voyageMaxBatch
		if end > len(texts) {
			end = len(texts)
		}
		// Voyage scores drop on embedded newlines.
		chunk := make([]string, end-start)
		for i, text := range texts[start:end] {
			chunk[i] = strings.ReplaceAll(text, "\n", " ")
		}

		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: chunk,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("voyage embeddings: %w", err)
		}
		if len(resp.Data) != len(chunk) {
			return nil, fmt.Errorf("voyage returned %d embeddings for %d inputs", len(resp.Data), len(chunk))
		}

		for _, item := range resp.Data {
			vec := make([]float32, len(item.Embedding))
			for i, v := range item.Embedding {
				vec[i] = float32(v)
			}
			out = append(out, vec)
		}
	}

	return out, nil
}

// Dimension returns the model's vector width.
func (e *VoyageEmbedder) Dimension() int { return e.dimension }

// Name identifies the embedder for cache keys and health output.
func (e *VoyageEmbedder) Name() string { return "voyage/" + e.model }

// Close is a no-op; the HTTP client owns no resources.
func (e *VoyageEmbedder) Close() error { return nil }
