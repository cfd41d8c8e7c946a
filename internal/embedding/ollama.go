package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/aletheia-memory-sidecar/internal/jsonx"
)

var ollamaDimensions = map[string]int{
	"all-minilm":        384,
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
}

// OllamaEmbedder generates embeddings through a local Ollama server.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
	dimension  int
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// NewOllamaEmbedder builds an embedder against baseURL. Unknown models
// assume 384-wide vectors.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = DefaultConfig().OllamaURL
	}
	if model == "" {
		model = DefaultConfig().OllamaModel
	}
	dim, ok := ollamaDimensions[model]
	if !ok {
		dim = 384
	}

	return &OllamaEmbedder{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dimension:  dim,
	}
}

// Embed generates an L2-normalized embedding for text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := jsonx.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embeddings status %d: %s", resp.StatusCode, string(raw))
	}

	var result ollamaEmbedResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding")
	}

	embedding := make([]float32, len(result.Embedding))
	var sumSq float64
	for i, v := range result.Embedding {
		embedding[i] = float32(v)
		sumSq += v * v
	}

	norm := float32(math.Sqrt(sumSq))
	if norm > 1e-9 {
		for i := range embedding {
			embedding[i] /= norm
		}
	}

	return embedding, nil
}

// EmbedBatch embeds sequentially; the local API has no batch endpoint.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

// EnsureModel checks the model is present, pulling it if missing.
func (e *OllamaEmbedder) EnsureModel(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create tags request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("check models: %w", err)
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}

	for _, m := range tags.Models {
		if m.Name == e.model || m.Name == e.model+":latest" {
			return nil
		}
	}

	body, err := jsonx.Marshal(map[string]string{"name": e.model})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}
	pullReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pull request: %w", err)
	}
	pullReq.Header.Set("Content-Type", "application/json")

	pullResp, err := e.httpClient.Do(pullReq)
	if err != nil {
		return fmt.Errorf("pull model: %w", err)
	}
	defer pullResp.Body.Close()

	if pullResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(pullResp.Body)
		return fmt.Errorf("pull model status %d: %s", pullResp.StatusCode, string(raw))
	}

	// Drain the streaming pull progress.
	io.Copy(io.Discard, pullResp.Body)
	return nil
}

// Dimension returns the model's vector width.
func (e *OllamaEmbedder) Dimension() int { return e.dimension }

// Name identifies the embedder for cache keys and health output.
func (e *OllamaEmbedder) Name() string { return "ollama/" + e.model }

// Close is a no-op; the HTTP client owns no resources.
func (e *OllamaEmbedder) Close() error { return nil }
