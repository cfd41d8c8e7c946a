// Package memory is the sidecar's core engine: ingestion with
// semantic dedup, the retrieval surfaces, and the evolution /
// consolidation lifecycle. It writes to the vector index and the
// property graph without a cross-store transaction; graph failures
// degrade the response and nightly maintenance reconciles.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/aletheia-memory-sidecar/internal/llm"
	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/store/vector"
)

// Similarity thresholds. The exact values drifted across revisions of
// the original service; these are the ones the API contracts assume.
const (
	// DedupThreshold elides an Add whose nearest neighbor scores
	// above it.
	DedupThreshold = 0.85
	// DirectDupThreshold elides an AddDirect the same way.
	DirectDupThreshold = 0.90
	// EvolutionThreshold triggers a merge proposal in CheckEvolution.
	EvolutionThreshold = 0.80
	// ConsolidateDefaultThreshold marks near-duplicates for removal.
	ConsolidateDefaultThreshold = 0.90
	// RetractMinScore bounds how loosely a retraction query may match.
	RetractMinScore = 0.75
)

const (
	// displayLength caps the display text stored alongside full text.
	displayLength = 500
	// batchChunk is the upsert chunk size for AddBatch.
	batchChunk = 100
)

// ErrEmptyText rejects blank ingestion input.
var ErrEmptyText = errors.New("empty")

// ErrVectorUnavailable surfaces vector index downtime as a 500.
var ErrVectorUnavailable = errors.New("vector store unavailable")

// VectorStore is the slice of the vector gateway the engine needs.
type VectorStore interface {
	Upsert(ctx context.Context, points []vector.Point) error
	Search(ctx context.Context, vec []float32, f vector.Filter, limit int) ([]vector.Hit, error)
	Scroll(ctx context.Context, f vector.Filter, limit int) ([]vector.Hit, error)
	Retrieve(ctx context.Context, ids []string) ([]vector.Hit, error)
	Delete(ctx context.Context, ids []string) error
	Count(ctx context.Context, f vector.Filter) (uint64, error)
	Available(ctx context.Context) bool
}

// GraphStore is the slice of the graph gateway the engine needs.
type GraphStore interface {
	Available(ctx context.Context) bool
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Write(ctx context.Context, stmts ...graph.Statement) error
	CanonicalEntities(ctx context.Context) ([]string, error)
	NormalizeRelationships(ctx context.Context) (int64, []graph.TypeRewrite, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider hands out the current completion client; nil when the
// detector landed on tier three.
type LLMProvider interface {
	Client() llm.Client
	ExtractionEnabled() bool
}

// TaskRunner submits fire-and-forget post-commit work.
type TaskRunner interface {
	Submit(name string, task func(ctx context.Context) error)
}

// EpisodeRecorder records episodes after agent-attributed ingests.
type EpisodeRecorder interface {
	RecordEpisode(ctx context.Context, content, agentID, sessionID, source string) error
}

// Auditor persists retraction records.
type Auditor interface {
	RecordRetraction(query, reason, userID string, cascade bool, ids, texts, graphRemoved []string)
}

// NameShortlister narrows the canonical-entity candidate set before
// the fuzzy ratio scan. The entity package's Bleve index implements
// it.
type NameShortlister interface {
	ReplaceAll(ctx context.Context, names []string) error
	Shortlist(ctx context.Context, term string, limit int) ([]string, error)
	Count() int
}

// AddResult is the response of the ingestion operations.
type AddResult struct {
	Deduplicated  bool     `json:"deduplicated,omitempty"`
	ExistingID    string   `json:"existing_id,omitempty"`
	Score         float64  `json:"score,omitempty"`
	Results       []string `json:"results"`
	Facts         []string `json:"facts,omitempty"`
	GraphDegraded bool     `json:"graph_degraded,omitempty"`
}

// Result is one retrieval hit after reweighting.
type Result struct {
	ID            string         `json:"id"`
	Text          string         `json:"text"`
	Score         float64        `json:"score"`
	CombinedScore float64        `json:"combined_score,omitempty"`
	Source        string         `json:"source,omitempty"`
	CreatedAt     string         `json:"created_at,omitempty"`
	Payload       map[string]any `json:"metadata,omitempty"`
}

// ContentHash is the dedup key: hex SHA-256 of the lowercased, trimmed
// text.
func ContentHash(text string) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func displayText(text string) string {
	if len(text) > displayLength {
		return text[:displayLength]
	}
	return text
}
