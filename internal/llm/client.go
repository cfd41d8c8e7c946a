// Package llm detects and drives the extraction backend. Detection is
// three-tiered: Anthropic (OAuth token or API key), then a local
// Ollama model, then none. Tier three disables fact extraction but the
// sidecar keeps serving embedding-only ingestion.
package llm

import "context"

// Request is a single completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Client is the minimal completion surface the sidecar needs.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Model() string
	Close() error
}
