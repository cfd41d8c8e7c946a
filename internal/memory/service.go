package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/llm"
	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/store/vector"
	"github.com/aletheia-memory-sidecar/internal/vocab"
)

// Config tunes the engine.
type Config struct {
	// LinkGeneration enables the post-commit link task
	// (LINK_GENERATION_ENABLED).
	LinkGeneration bool
	// GraphWeight is g in the (1-g, g) merge of vector and
	// graph-expanded results.
	GraphWeight float64
	// SearchLimit is the default retrieval page size.
	SearchLimit int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LinkGeneration: false,
		GraphWeight:    0.3,
		SearchLimit:    10,
	}
}

// Service is the memory engine.
type Service struct {
	cfg      Config
	vectors  VectorStore
	graph    GraphStore
	embedder Embedder
	llm      LLMProvider
	tasks    TaskRunner
	episodes EpisodeRecorder
	auditor  Auditor
	logger   *zap.Logger

	// shortlist, when set, bounds fuzzy entity resolution against a
	// large canonical registry.
	shortlist NameShortlister

	recents *recentsCache
	now     func() time.Time
}

// NewService wires the engine. episodes and auditor may be nil; the
// corresponding features are skipped.
func NewService(cfg Config, vectors VectorStore, g GraphStore, embedder Embedder,
	llmProvider LLMProvider, tasks TaskRunner, episodes EpisodeRecorder,
	auditor Auditor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GraphWeight <= 0 || cfg.GraphWeight >= 1 {
		cfg.GraphWeight = DefaultConfig().GraphWeight
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultConfig().SearchLimit
	}
	return &Service{
		cfg:      cfg,
		vectors:  vectors,
		graph:    g,
		embedder: embedder,
		llm:      llmProvider,
		tasks:    tasks,
		episodes: episodes,
		auditor:  auditor,
		logger:   logger.Named("memory"),
		recents:  newRecentsCache(),
		now:      time.Now,
	}
}

const (
	// shortlistMinCanonicals is the registry size below which the
	// exhaustive ratio scan is cheaper than maintaining the index.
	shortlistMinCanonicals = 200
	shortlistLimit         = 25
)

// SetShortlist installs the canonical-name shortlist index.
func (s *Service) SetShortlist(ix NameShortlister) {
	s.shortlist = ix
}

// resolveCanonical maps a raw entity name to the canonical registry.
// With a shortlist wired and a large registry, the fuzzy scan only
// touches the index's candidates.
func (s *Service) resolveCanonical(ctx context.Context, raw string, canonicals []string) (string, bool) {
	if s.shortlist == nil || len(canonicals) < shortlistMinCanonicals {
		return vocab.ResolveEntity(raw, canonicals)
	}
	if s.shortlist.Count() != len(canonicals) {
		if err := s.shortlist.ReplaceAll(ctx, canonicals); err != nil {
			s.logger.Warn("Entity shortlist rebuild failed", zap.Error(err))
			return vocab.ResolveEntity(raw, canonicals)
		}
	}
	candidates, err := s.shortlist.Shortlist(ctx, vocab.NormalizeEntityName(raw), shortlistLimit)
	if err != nil {
		return vocab.ResolveEntity(raw, canonicals)
	}
	// An empty shortlist means the name is new; no exhaustive rescue.
	return vocab.ResolveEntity(raw, candidates)
}

// AddRequest carries ingestion inputs.
type AddRequest struct {
	Text      string
	UserID    string
	AgentID   string
	Source    string
	SessionID string
	// Confidence defaults to 0.9.
	Confidence float64
	// Metadata lands in the point payload under its own keys.
	Metadata map[string]any
}

// Add ingests a conversational fragment: semantic dedup first, then
// either raw storage (no LLM) or fact extraction with graph
// projection. Post-commit tasks run fire-and-forget.
func (s *Service) Add(ctx context.Context, req AddRequest) (*AddResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" || req.UserID == "" {
		return nil, ErrEmptyText
	}

	hash := ContentHash(text)
	if id, ok := s.recents.lookup(req.UserID, hash); ok {
		return &AddResult{Deduplicated: true, ExistingID: id, Score: 1.0, Results: []string{}}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	// Semantic dedup against the top-3 neighbors. A failing check
	// logs and proceeds; refusing the add would lose data.
	if hits, err := s.vectors.Search(ctx, queryVec, vector.Filter{UserID: req.UserID}, 3); err != nil {
		s.logger.Warn("Dedup check failed, proceeding with add", zap.Error(err))
	} else if len(hits) > 0 && float64(hits[0].Score) > DedupThreshold {
		return &AddResult{
			Deduplicated: true,
			ExistingID:   hits[0].ID,
			Score:        float64(hits[0].Score),
			Results:      []string{},
		}, nil
	}

	result := &AddResult{Results: []string{}}

	if !s.llm.ExtractionEnabled() {
		// Embedding-only mode stores the raw text.
		id, err := s.insertPoint(ctx, text, queryVec, hash, req, nil)
		if err != nil {
			return nil, err
		}
		result.Results = append(result.Results, id)
	} else {
		if err := s.addExtracted(ctx, text, queryVec, hash, req, result); err != nil {
			return nil, err
		}
	}

	s.postCommit(text, req)
	return result, nil
}

// addExtracted runs fact extraction, stores each fact as its own
// point, and projects relations into the graph.
func (s *Service) addExtracted(ctx context.Context, text string, queryVec []float32, hash string, req AddRequest, result *AddResult) error {
	client := s.llm.Client()

	facts, err := llm.ExtractFacts(ctx, client, text)
	if err != nil || len(facts) == 0 {
		if err != nil {
			s.logger.Warn("Fact extraction failed, storing raw text", zap.Error(err))
		}
		// Degraded extraction stores the fragment itself.
		id, insErr := s.insertPoint(ctx, text, queryVec, hash, req, nil)
		if insErr != nil {
			return insErr
		}
		result.Results = append(result.Results, id)
	} else {
		for _, fact := range facts {
			factHash := ContentHash(fact)
			if _, seen := s.recents.lookup(req.UserID, factHash); seen {
				continue
			}
			vec := queryVec
			if fact != text {
				if fv, err := s.embedder.Embed(ctx, fact); err == nil {
					vec = fv
				}
			}
			id, err := s.insertPoint(ctx, fact, vec, factHash, req, nil)
			if err != nil {
				s.logger.Warn("Fact insert failed", zap.Error(err))
				continue
			}
			result.Results = append(result.Results, id)
			result.Facts = append(result.Facts, fact)
		}
	}

	if err := s.projectRelations(ctx, client, text, req); err != nil {
		if graph.IsUnavailable(err) {
			result.GraphDegraded = true
		} else {
			s.logger.Warn("Relation projection failed", zap.Error(err))
		}
	}
	return nil
}

// relTypeIdent is the only identifier shape allowed into a MERGE
// pattern.
var relTypeIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// projectRelations extracts (source, type, target) triples and merges
// them into the graph. Self-loops and invalid entities are dropped.
func (s *Service) projectRelations(ctx context.Context, client llm.Client, text string, req AddRequest) error {
	relations, err := llm.ExtractRelations(ctx, client, text)
	if err != nil {
		s.logger.Warn("Relation extraction failed", zap.Error(err))
		return nil // LLM failure degrades to fewer edges, not an error
	}
	if len(relations) == 0 {
		return nil
	}

	stmts := make([]graph.Statement, 0, len(relations))
	for _, rel := range relations {
		source, ok := vocab.ResolveEntity(rel.Source, nil)
		if !ok {
			continue
		}
		target, ok := vocab.ResolveEntity(rel.Target, nil)
		if !ok || source == target {
			continue
		}
		relType := vocab.NormalizeType(rel.Type)
		if !relTypeIdent.MatchString(relType) {
			continue
		}
		stmts = append(stmts, graph.Statement{
			// Type is interpolated; relTypeIdent guards the identifier.
			Cypher: fmt.Sprintf(`
				MERGE (a:Entity {name: $source})
				MERGE (b:Entity {name: $target})
				MERGE (a)-[r:%s]->(b)
				ON CREATE SET r.confidence = $confidence,
					r.source = $prov, r.created_at = $now`, relType),
			Params: map[string]any{
				"source": source, "target": target,
				"confidence": confidenceOf(req.Confidence),
				"prov":       req.Source,
				"now":        s.now().UTC().Format(time.RFC3339),
			},
		})
	}
	if len(stmts) == 0 {
		return nil
	}
	return s.graph.Write(ctx, stmts...)
}

// insertPoint writes one memory point. extra merges into the payload.
func (s *Service) insertPoint(ctx context.Context, text string, vec []float32, hash string, req AddRequest, extra map[string]any) (string, error) {
	id := uuid.NewString()
	payload := map[string]any{
		"text":         displayText(text),
		"full_text":    text,
		"content_hash": hash,
		"user_id":      req.UserID,
		"source":       sourceOf(req.Source),
		"confidence":   confidenceOf(req.Confidence),
		"created_at":   s.now().UTC().Format(time.RFC3339),
	}
	if req.AgentID != "" {
		payload["agent_id"] = req.AgentID
	}
	if req.SessionID != "" {
		payload["session_id"] = req.SessionID
	}
	for k, v := range req.Metadata {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	for k, v := range extra {
		payload[k] = v
	}

	if err := s.vectors.Upsert(ctx, []vector.Point{{ID: id, Vector: vec, Payload: payload}}); err != nil {
		return "", err
	}
	s.recents.remember(req.UserID, hash, id)
	return id, nil
}

// postCommit launches the fire-and-forget tasks. They run strictly
// after the commit but are unordered among each other.
func (s *Service) postCommit(text string, req AddRequest) {
	if s.tasks == nil {
		return
	}
	if s.cfg.LinkGeneration {
		s.tasks.Submit("generate_links", func(ctx context.Context) error {
			return s.generateLinks(ctx, text, req)
		})
	}
	if req.AgentID != "" && s.episodes != nil {
		s.tasks.Submit("record_episode", func(ctx context.Context) error {
			return s.episodes.RecordEpisode(ctx, text, req.AgentID, req.SessionID, sourceOf(req.Source))
		})
	}
	s.tasks.Submit("normalize_relationships", func(ctx context.Context) error {
		_, _, err := s.graph.NormalizeRelationships(ctx)
		return err
	})
}

// generateLinks connects the new memory's entities to existing
// canonical entities.
func (s *Service) generateLinks(ctx context.Context, text string, req AddRequest) error {
	canonicals, err := s.graph.CanonicalEntities(ctx)
	if err != nil {
		return err
	}
	names := extractEntityNames(text, 10)

	stmts := make([]graph.Statement, 0, len(names))
	for _, raw := range names {
		canonical, ok := s.resolveCanonical(ctx, raw, canonicals)
		if !ok {
			continue
		}
		stmts = append(stmts, graph.Statement{
			Cypher: `MERGE (e:Entity {name: $name})
				ON CREATE SET e.created_at = $now`,
			Params: map[string]any{
				"name": canonical,
				"now":  s.now().UTC().Format(time.RFC3339),
			},
		})
	}
	if len(stmts) == 0 {
		return nil
	}
	return s.graph.Write(ctx, stmts...)
}

// AddDirect stores a pre-extracted fact, bypassing the LLM but
// keeping both dedup layers: exact content hash, then τ=0.90
// semantic.
func (s *Service) AddDirect(ctx context.Context, req AddRequest) (*AddResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" || req.UserID == "" {
		return nil, ErrEmptyText
	}

	hash := ContentHash(text)
	if id, ok := s.recents.lookup(req.UserID, hash); ok {
		return &AddResult{Deduplicated: true, ExistingID: id, Score: 1.0, Results: []string{}}, nil
	}
	if hits, err := s.vectors.Scroll(ctx, vector.Filter{UserID: req.UserID, Hash: hash}, 1); err == nil && len(hits) > 0 {
		return &AddResult{Deduplicated: true, ExistingID: hits[0].ID, Score: 1.0, Results: []string{}}, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if hits, err := s.vectors.Search(ctx, vec, vector.Filter{UserID: req.UserID}, 1); err == nil &&
		len(hits) > 0 && float64(hits[0].Score) >= DirectDupThreshold {
		return &AddResult{
			Deduplicated: true,
			ExistingID:   hits[0].ID,
			Score:        float64(hits[0].Score),
			Results:      []string{},
		}, nil
	}

	id, err := s.insertPoint(ctx, text, vec, hash, req, nil)
	if err != nil {
		return nil, err
	}
	return &AddResult{Results: []string{id}}, nil
}

// BatchResult summarizes AddBatch.
type BatchResult struct {
	Added   int      `json:"added"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
	IDs     []string `json:"ids"`
}

// AddBatch is the vectorized AddDirect: one batch embed, per-item
// dedup, chunked upserts.
func (s *Service) AddBatch(ctx context.Context, texts []string, req AddRequest) (*BatchResult, error) {
	if req.UserID == "" {
		return nil, ErrEmptyText
	}
	result := &BatchResult{Errors: []string{}}

	kept := make([]string, 0, len(texts))
	hashes := make([]string, 0, len(texts))
	for _, raw := range texts {
		text := strings.TrimSpace(raw)
		if text == "" {
			result.Skipped++
			continue
		}
		hash := ContentHash(text)
		if _, ok := s.recents.lookup(req.UserID, hash); ok {
			result.Skipped++
			continue
		}
		if hits, err := s.vectors.Scroll(ctx, vector.Filter{UserID: req.UserID, Hash: hash}, 1); err == nil && len(hits) > 0 {
			result.Skipped++
			continue
		}
		kept = append(kept, text)
		hashes = append(hashes, hash)
	}
	if len(kept) == 0 {
		return result, nil
	}

	vecs, err := s.embedder.EmbedBatch(ctx, kept)
	if err != nil {
		return nil, fmt.Errorf("batch embed: %w", err)
	}

	points := make([]vector.Point, 0, len(kept))
	for i, text := range kept {
		if hits, err := s.vectors.Search(ctx, vecs[i], vector.Filter{UserID: req.UserID}, 1); err == nil &&
			len(hits) > 0 && float64(hits[0].Score) >= DirectDupThreshold {
			result.Skipped++
			continue
		}
		id := uuid.NewString()
		points = append(points, vector.Point{
			ID:     id,
			Vector: vecs[i],
			Payload: map[string]any{
				"text":         displayText(text),
				"full_text":    text,
				"content_hash": hashes[i],
				"user_id":      req.UserID,
				"source":       sourceOf(req.Source),
				"confidence":   confidenceOf(req.Confidence),
				"created_at":   s.now().UTC().Format(time.RFC3339),
			},
		})
		result.IDs = append(result.IDs, id)
		s.recents.remember(req.UserID, hashes[i], id)
	}

	for start := 0; start < len(points); start += batchChunk {
		end := start + batchChunk
		if end > len(points) {
			end = len(points)
		}
		if err := s.vectors.Upsert(ctx, points[start:end]); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Added += end - start
	}
	return result, nil
}

// ImportFact is one structured triple for Import.
type ImportFact struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
	Domain     string  `json:"domain,omitempty"`
	Agent      string  `json:"agent,omitempty"`
}

// ImportResult summarizes Import.
type ImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// maxConsecutiveImportErrors aborts a structurally broken import.
const maxConsecutiveImportErrors = 10

// Import routes structured triples through Add as sentences.
func (s *Service) Import(ctx context.Context, facts []ImportFact, userID string) (*ImportResult, error) {
	if userID == "" {
		return nil, ErrEmptyText
	}
	result := &ImportResult{Errors: []string{}}
	consecutive := 0

	for _, fact := range facts {
		if fact.Subject == "" || fact.Object == "" {
			result.Skipped++
			continue
		}
		sentence := factSentence(fact)
		metadata := map[string]any{}
		if fact.Domain != "" {
			metadata["domain"] = fact.Domain
		}
		res, err := s.Add(ctx, AddRequest{
			Text:       sentence,
			UserID:     userID,
			AgentID:    fact.Agent,
			Source:     "import",
			Confidence: fact.Confidence,
			Metadata:   metadata,
		})
		if err != nil {
			consecutive++
			result.Errors = append(result.Errors, err.Error())
			if consecutive >= maxConsecutiveImportErrors {
				result.Errors = append(result.Errors, "aborted after repeated failures")
				break
			}
			continue
		}
		consecutive = 0
		if res.Deduplicated {
			result.Skipped++
		} else {
			result.Imported++
		}
	}
	return result, nil
}

// maxImportFileErrors aborts a broken JSONL import.
const maxImportFileErrors = 20

// ImportFile streams a JSONL file of {"text": ...} records through
// AddDirect.
func (s *Service) ImportFile(ctx context.Context, path, userID string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	result := &ImportResult{Errors: []string{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record struct {
			Text       string  `json:"text"`
			AgentID    string  `json:"agent_id"`
			Source     string  `json:"source"`
			Confidence float64 `json:"confidence"`
		}
		if err := unmarshalLine(line, &record); err != nil || record.Text == "" {
			result.Errors = append(result.Errors, "unparseable line")
			if len(result.Errors) >= maxImportFileErrors {
				result.Errors = append(result.Errors, "aborted after repeated failures")
				return result, nil
			}
			continue
		}
		res, err := s.AddDirect(ctx, AddRequest{
			Text: record.Text, UserID: userID, AgentID: record.AgentID,
			Source: record.Source, Confidence: record.Confidence,
		})
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			if len(result.Errors) >= maxImportFileErrors {
				result.Errors = append(result.Errors, "aborted after repeated failures")
				return result, nil
			}
			continue
		}
		if res.Deduplicated {
			result.Skipped++
		} else {
			result.Imported++
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("read import file: %w", err)
	}
	return result, nil
}

// List pages a user's memories out of the index.
func (s *Service) List(ctx context.Context, userID, agentID string, limit int) ([]Result, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	hits, err := s.vectors.Scroll(ctx, vector.Filter{UserID: userID, AgentID: agentID}, limit)
	if err != nil {
		return nil, err
	}
	return hitsToResults(hits), nil
}

// DeleteMemory removes one point by id.
func (s *Service) DeleteMemory(ctx context.Context, id string) error {
	s.recents.forget([]string{id})
	return s.vectors.Delete(ctx, []string{id})
}

// factSentence joins a triple into prose: predicate lowercased with
// underscores opened back up.
func factSentence(fact ImportFact) string {
	pred := strings.ReplaceAll(strings.ToLower(fact.Predicate), "_", " ")
	if pred == "" {
		pred = "relates to"
	}
	return fmt.Sprintf("%s %s %s", fact.Subject, pred, fact.Object)
}

func sourceOf(source string) string {
	if source == "" {
		return "conversation"
	}
	return source
}

func confidenceOf(confidence float64) float64 {
	if confidence <= 0 || confidence > 1 {
		return 0.9
	}
	return confidence
}
