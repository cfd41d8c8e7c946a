// Package temporal tracks episodes and bi-temporal facts in the
// property graph. Facts carry two time axes (event and ingest) plus a
// validity interval; creating a fact closes any open fact for the same
// subject and predicate inside the same transaction, so at most one
// open fact per (subject, predicate) ever exists.
package temporal

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/entity"
	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/vocab"
)

// ErrUnavailable marks graph downtime. Handlers turn it into
// {ok:false, available:false} instead of a 5xx.
var ErrUnavailable = errors.New("graph unavailable")

// ErrBadRequest marks missing required inputs (HTTP 400).
var ErrBadRequest = errors.New("bad request")

const (
	// previewLength caps episode content previews.
	previewLength = 500
	// maxMentions caps MENTIONS edges per episode.
	maxMentions = 20
)

// Graph is the slice of the graph gateway the engine needs.
type Graph interface {
	Available(ctx context.Context) bool
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Write(ctx context.Context, stmts ...graph.Statement) error
}

// Engine is the temporal fact and episode store.
type Engine struct {
	graph  Graph
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine wires the engine to the graph gateway.
func NewEngine(g Graph, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		graph:  g,
		logger: logger.Named("temporal"),
		now:    time.Now,
	}
}

// Episode is a recorded interaction.
type Episode struct {
	ID             string   `json:"id"`
	ContentPreview string   `json:"content_preview"`
	AgentID        string   `json:"agent_id,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	Source         string   `json:"source,omitempty"`
	OccurredAt     string   `json:"occurred_at"`
	RecordedAt     string   `json:"recorded_at"`
	Mentions       []string `json:"mentions,omitempty"`
}

// Fact is one bi-temporal assertion.
type Fact struct {
	Subject            string  `json:"subject"`
	Predicate          string  `json:"predicate"`
	Object             string  `json:"object"`
	ValidFrom          string  `json:"valid_from"`
	ValidTo            *string `json:"valid_to"`
	OccurredAt         string  `json:"occurred_at"`
	RecordedAt         string  `json:"recorded_at"`
	Confidence         float64 `json:"confidence"`
	SourceEpisodeID    string  `json:"source_episode_id,omitempty"`
	InvalidationReason string  `json:"invalidation_reason,omitempty"`
	InvalidatedBy      string  `json:"invalidated_by,omitempty"`
}

// EpisodeRequest carries episode creation inputs.
type EpisodeRequest struct {
	Content    string
	AgentID    string
	SessionID  string
	Source     string
	OccurredAt string // ISO8601; empty means now
}

// FactRequest carries fact creation inputs.
type FactRequest struct {
	Subject         string
	Predicate       string
	Object          string
	OccurredAt      string // ISO8601; empty means now
	Confidence      float64
	SourceEpisodeID string
}

// newEpisodeID allocates an ep_<hex12> identifier.
func newEpisodeID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a time-derived id; collisions are guarded by
		// the unique constraint anyway.
		return fmt.Sprintf("ep_%012x", time.Now().UnixNano()&0xffffffffffff)
	}
	return "ep_" + hex.EncodeToString(buf)
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// RecordEpisode is the fire-and-forget hook the ingestion engine
// calls after an agent-attributed add.
func (e *Engine) RecordEpisode(ctx context.Context, content, agentID, sessionID, source string) error {
	_, err := e.CreateEpisode(ctx, EpisodeRequest{
		Content:   content,
		AgentID:   agentID,
		SessionID: sessionID,
		Source:    source,
	})
	return err
}

// CreateEpisode records an interaction and links it to the entities it
// mentions.
func (e *Engine) CreateEpisode(ctx context.Context, req EpisodeRequest) (*Episode, error) {
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content required", ErrBadRequest)
	}
	if !e.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	now := e.timestamp()
	occurred := req.OccurredAt
	if occurred == "" {
		occurred = now
	}
	preview := req.Content
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}

	mentions := make([]string, 0, maxMentions)
	for _, raw := range entity.Extract(req.Content, 0) {
		canonical, ok := vocab.ResolveEntity(raw, nil)
		if !ok {
			continue
		}
		mentions = append(mentions, canonical)
		if len(mentions) >= maxMentions {
			break
		}
	}

	ep := &Episode{
		ID:             newEpisodeID(),
		ContentPreview: preview,
		AgentID:        req.AgentID,
		SessionID:      req.SessionID,
		Source:         req.Source,
		OccurredAt:     occurred,
		RecordedAt:     now,
		Mentions:       mentions,
	}

	stmts := []graph.Statement{{
		Cypher: `CREATE (ep:Episode {
			id: $id, content_preview: $preview, agent_id: $agent_id,
			session_id: $session_id, source: $source,
			occurred_at: $occurred_at, recorded_at: $recorded_at})`,
		Params: map[string]any{
			"id": ep.ID, "preview": ep.ContentPreview,
			"agent_id": ep.AgentID, "session_id": ep.SessionID,
			"source": ep.Source, "occurred_at": ep.OccurredAt,
			"recorded_at": ep.RecordedAt,
		},
	}}
	if len(mentions) > 0 {
		stmts = append(stmts, graph.Statement{
			Cypher: `MATCH (ep:Episode {id: $id})
				UNWIND $names AS name
				MERGE (ent:Entity {name: name})
				MERGE (ep)-[:MENTIONS]->(ent)`,
			Params: map[string]any{"id": ep.ID, "names": mentions},
		})
	}

	if err := e.graph.Write(ctx, stmts...); err != nil {
		e.logger.Warn("Episode creation failed", zap.String("id", ep.ID), zap.Error(err))
		return nil, ErrUnavailable
	}
	return ep, nil
}

// CreateFact opens a new bi-temporal fact, closing any open fact for
// the same (subject, predicate) in the same transaction.
func (e *Engine) CreateFact(ctx context.Context, req FactRequest) (*Fact, error) {
	if req.Subject == "" || req.Predicate == "" || req.Object == "" {
		return nil, fmt.Errorf("%w: subject, predicate and object required", ErrBadRequest)
	}
	if !e.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	subject := vocab.NormalizeEntityName(req.Subject)
	object := vocab.NormalizeEntityName(req.Object)
	predicate := vocab.NormalizeType(req.Predicate)
	if subject == object {
		return nil, fmt.Errorf("%w: self-loop fact", ErrBadRequest)
	}

	now := e.timestamp()
	occurred := req.OccurredAt
	if occurred == "" {
		occurred = now
	}
	confidence := req.Confidence
	if confidence <= 0 {
		confidence = 0.9
	}

	fact := &Fact{
		Subject:         subject,
		Predicate:       predicate,
		Object:          object,
		ValidFrom:       now,
		OccurredAt:      occurred,
		RecordedAt:      now,
		Confidence:      confidence,
		SourceEpisodeID: req.SourceEpisodeID,
	}

	// Close-then-open must be one transaction so a reader never sees
	// two open facts for the same (subject, predicate).
	stmts := []graph.Statement{
		{
			Cypher: `MATCH (s:Entity {name: $subject})-[r:TEMPORAL_FACT]->()
				WHERE r.predicate = $predicate AND r.valid_to IS NULL
				SET r.valid_to = $now, r.invalidated_by = $object`,
			Params: map[string]any{
				"subject": subject, "predicate": predicate,
				"object": object, "now": now,
			},
		},
		{
			Cypher: `MERGE (s:Entity {name: $subject})
				MERGE (o:Entity {name: $object})
				CREATE (s)-[:TEMPORAL_FACT {
					predicate: $predicate, object: $object,
					valid_from: $now, valid_to: null,
					occurred_at: $occurred, recorded_at: $now,
					confidence: $confidence,
					source_episode_id: $episode}]->(o)`,
			Params: map[string]any{
				"subject": subject, "object": object,
				"predicate": predicate, "now": now,
				"occurred": occurred, "confidence": confidence,
				"episode": req.SourceEpisodeID,
			},
		},
	}
	if req.SourceEpisodeID != "" {
		stmts = append(stmts, graph.Statement{
			Cypher: `MATCH (ep:Episode {id: $episode}), (s:Entity {name: $subject})
				CREATE (ep)-[:PRODUCED]->(s)`,
			Params: map[string]any{"episode": req.SourceEpisodeID, "subject": subject},
		})
	}

	if err := e.graph.Write(ctx, stmts...); err != nil {
		e.logger.Warn("Fact creation failed",
			zap.String("subject", subject),
			zap.String("predicate", predicate),
			zap.Error(err))
		return nil, ErrUnavailable
	}
	return fact, nil
}

// Invalidate closes open facts matching (subject, predicate[, object]),
// recording the reason.
func (e *Engine) Invalidate(ctx context.Context, subject, predicate, object, reason string) (int64, error) {
	if subject == "" || predicate == "" {
		return 0, fmt.Errorf("%w: subject and predicate required", ErrBadRequest)
	}
	if !e.graph.Available(ctx) {
		return 0, ErrUnavailable
	}

	now := e.timestamp()
	cypher := `MATCH (s:Entity {name: $subject})-[r:TEMPORAL_FACT]->(o:Entity)
		WHERE r.predicate = $predicate AND r.valid_to IS NULL`
	params := map[string]any{
		"subject":   vocab.NormalizeEntityName(subject),
		"predicate": vocab.NormalizeType(predicate),
		"now":       now,
		"reason":    reason,
	}
	if object != "" {
		cypher += ` AND o.name = $object`
		params["object"] = vocab.NormalizeEntityName(object)
	}
	cypher += ` SET r.valid_to = $now, r.invalidation_reason = $reason
		RETURN count(r) AS closed`

	rows, err := e.graph.WriteRead(ctx, cypher, params)
	if err != nil {
		return 0, ErrUnavailable
	}
	var closed int64
	if len(rows) > 0 {
		closed, _ = rows[0]["closed"].(int64)
	}
	return closed, nil
}
