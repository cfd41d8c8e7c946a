package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/llm"
	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/store/vector"
	"github.com/aletheia-memory-sidecar/internal/vocab"
)

// minMergedLength rejects degenerate LLM merge output.
const minMergedLength = 10

// consolidateScanLimit bounds one consolidation pass.
const consolidateScanLimit = 50

// EvolutionResult reports a CheckEvolution outcome.
type EvolutionResult struct {
	Evolved    bool    `json:"evolved"`
	OldID      string  `json:"old_id,omitempty"`
	NewID      string  `json:"new_id,omitempty"`
	MergedText string  `json:"merged_text,omitempty"`
	Score      float64 `json:"score,omitempty"`
}

// CheckEvolution decides whether new text supersedes an existing
// memory. Above the threshold the two are merged by the LLM, the old
// point is replaced, and lineage is recorded asynchronously.
func (s *Service) CheckEvolution(ctx context.Context, text, userID string) (*EvolutionResult, error) {
	text = strings.TrimSpace(text)
	if text == "" || userID == "" {
		return nil, ErrEmptyText
	}
	if !s.llm.ExtractionEnabled() {
		return &EvolutionResult{}, nil
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	hits, err := s.vectors.Search(ctx, vec, vector.Filter{UserID: userID}, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	if len(hits) == 0 || float64(hits[0].Score) <= EvolutionThreshold {
		return &EvolutionResult{}, nil
	}

	old := hits[0]
	oldText, _ := old.Payload["full_text"].(string)
	if oldText == "" {
		oldText, _ = old.Payload["text"].(string)
	}

	merged, err := llm.MergeMemories(ctx, s.llm.Client(), oldText, text)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	if len(merged) <= minMergedLength {
		s.logger.Warn("Merge output rejected", zap.Int("length", len(merged)))
		return &EvolutionResult{Score: float64(old.Score)}, nil
	}

	mergedVec, err := s.embedder.Embed(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("embed merged: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339)
	newID, err := s.insertPoint(ctx, merged, mergedVec, ContentHash(merged), AddRequest{
		UserID: userID,
		Source: "evolution",
	}, map[string]any{
		"evolved_from":        old.ID,
		"evolution_timestamp": now,
	})
	if err != nil {
		return nil, err
	}
	if err := s.vectors.Delete(ctx, []string{old.ID}); err != nil {
		s.logger.Warn("Old memory delete failed after evolution", zap.String("id", old.ID), zap.Error(err))
	}
	s.recents.forget([]string{old.ID})

	if s.tasks != nil {
		oldID := old.ID
		s.tasks.Submit("evolution_lineage", func(ctx context.Context) error {
			return s.graph.Write(ctx, graph.Statement{
				Cypher: `MERGE (a:Memory {id: $old})
					MERGE (b:Memory {id: $new})
					MERGE (a)-[r:EVOLVED_INTO]->(b)
					ON CREATE SET r.evolved_at = $now`,
				Params: map[string]any{"old": oldID, "new": newID, "now": now},
			})
		})
	}

	return &EvolutionResult{
		Evolved:    true,
		OldID:      old.ID,
		NewID:      newID,
		MergedText: merged,
		Score:      float64(old.Score),
	}, nil
}

// Reinforce bumps the access ledger for a memory. Callers reading a
// memory and finding it useful are the signal; search applies a boost
// of up to +0.02 per access later.
func (s *Service) Reinforce(ctx context.Context, memoryID string) error {
	if memoryID == "" {
		return ErrEmptyText
	}
	_, err := s.graph.WriteRead(ctx, `
		MERGE (m:MemoryAccess {memory_id: $id})
		ON CREATE SET m.access_count = 1, m.decay_count = 0,
			m.first_accessed = $now
		ON MATCH SET m.access_count = coalesce(m.access_count, 0) + 1
		SET m.last_accessed = $now
		RETURN m.access_count AS count`,
		map[string]any{"id": memoryID, "now": s.now().UTC().Format(time.RFC3339)})
	return err
}

// DecayResult reports a decay sweep.
type DecayResult struct {
	Eligible int      `json:"eligible"`
	Decayed  int      `json:"decayed"`
	DryRun   bool     `json:"dry_run"`
	Sample   []string `json:"sample,omitempty"`
}

// Decay increments decay_count on memories never present in the
// access ledger. It never deletes; search down-weights instead.
func (s *Service) Decay(ctx context.Context, userID string, dryRun bool) (*DecayResult, error) {
	if userID == "" {
		return nil, ErrEmptyText
	}
	hits, err := s.vectors.Scroll(ctx, vector.Filter{UserID: userID}, 1000)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}

	accessed := make(map[string]bool)
	rows, err := s.graph.Read(ctx, `
		MATCH (m:MemoryAccess)
		WHERE coalesce(m.access_count, 0) > 0
		RETURN m.memory_id AS id`, nil)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if id, _ := row["id"].(string); id != "" {
			accessed[id] = true
		}
	}

	result := &DecayResult{DryRun: dryRun}
	var eligible []string
	for _, h := range hits {
		if !accessed[h.ID] {
			eligible = append(eligible, h.ID)
		}
	}
	result.Eligible = len(eligible)

	if dryRun {
		n := len(eligible)
		if n > 10 {
			n = 10
		}
		result.Sample = eligible[:n]
		return result, nil
	}
	if len(eligible) == 0 {
		return result, nil
	}

	if _, err := s.graph.WriteRead(ctx, `
		UNWIND $ids AS id
		MERGE (m:MemoryAccess {memory_id: id})
		ON CREATE SET m.access_count = 0, m.decay_count = 1
		ON MATCH SET m.decay_count = coalesce(m.decay_count, 0) + 1
		RETURN count(m) AS n`,
		map[string]any{"ids": eligible}); err != nil {
		return nil, err
	}
	result.Decayed = len(eligible)
	return result, nil
}

// ConsolidatePair is one (kept, removed-or-flagged) duplicate pair.
type ConsolidatePair struct {
	SourceID    string  `json:"source_id"`
	DuplicateID string  `json:"duplicate_id"`
	Score       float64 `json:"score"`
}

// ConsolidateResult reports a consolidation pass.
type ConsolidateResult struct {
	Checked int               `json:"checked"`
	Merged  int               `json:"merged"`
	DryRun  bool              `json:"dry_run"`
	Pairs   []ConsolidatePair `json:"pairs"`
}

// Consolidate sweeps the first page of a user's memories for
// near-duplicates and removes the duplicate of each pair.
func (s *Service) Consolidate(ctx context.Context, userID string, threshold float64, dryRun bool) (*ConsolidateResult, error) {
	if userID == "" {
		return nil, ErrEmptyText
	}
	if threshold <= 0 || threshold > 1 {
		threshold = ConsolidateDefaultThreshold
	}

	hits, err := s.vectors.Scroll(ctx, vector.Filter{UserID: userID}, consolidateScanLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}

	result := &ConsolidateResult{DryRun: dryRun, Pairs: []ConsolidatePair{}}
	removed := make(map[string]bool)
	for _, h := range hits {
		if removed[h.ID] {
			continue
		}
		result.Checked++
		text, _ := h.Payload["full_text"].(string)
		if text == "" {
			continue
		}
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			continue
		}
		neighbors, err := s.vectors.Search(ctx, vec, vector.Filter{UserID: userID}, 2)
		if err != nil {
			continue
		}
		for _, nb := range neighbors {
			if nb.ID == h.ID || removed[nb.ID] || float64(nb.Score) < threshold {
				continue
			}
			pair := ConsolidatePair{SourceID: h.ID, DuplicateID: nb.ID, Score: float64(nb.Score)}
			result.Pairs = append(result.Pairs, pair)
			if dryRun {
				continue
			}
			if err := s.vectors.Delete(ctx, []string{nb.ID}); err != nil {
				s.logger.Warn("Consolidation delete failed", zap.String("id", nb.ID), zap.Error(err))
				continue
			}
			removed[nb.ID] = true
			s.recents.forget([]string{nb.ID})
			result.Merged++
		}
	}
	return result, nil
}

// Merge folds two explicit memories into one.
func (s *Service) Merge(ctx context.Context, idA, idB, userID string) (*EvolutionResult, error) {
	if idA == "" || idB == "" || idA == idB {
		return nil, ErrEmptyText
	}
	hits, err := s.vectors.Retrieve(ctx, []string{idA, idB})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	if len(hits) != 2 {
		return nil, fmt.Errorf("merge: expected 2 memories, found %d", len(hits))
	}

	textOf := func(h vector.Hit) string {
		t, _ := h.Payload["full_text"].(string)
		if t == "" {
			t, _ = h.Payload["text"].(string)
		}
		return t
	}
	textA, textB := textOf(hits[0]), textOf(hits[1])

	var merged string
	if s.llm.ExtractionEnabled() {
		merged, err = llm.MergeMemories(ctx, s.llm.Client(), textA, textB)
		if err != nil || len(merged) <= minMergedLength {
			merged = ""
		}
	}
	if merged == "" {
		merged = strings.TrimSpace(textA + ". " + textB)
	}

	vec, err := s.embedder.Embed(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("embed merged: %w", err)
	}
	newID, err := s.insertPoint(ctx, merged, vec, ContentHash(merged), AddRequest{
		UserID: userID,
		Source: "merge",
	}, map[string]any{
		"evolved_from":        idA + "," + idB,
		"evolution_timestamp": s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if err := s.vectors.Delete(ctx, []string{idA, idB}); err != nil {
		s.logger.Warn("Merge source delete failed", zap.Error(err))
	}
	s.recents.forget([]string{idA, idB})

	return &EvolutionResult{Evolved: true, OldID: idA, NewID: newID, MergedText: merged}, nil
}

// RetractResult reports a retraction.
type RetractResult struct {
	Retracted    int      `json:"retracted"`
	IDs          []string `json:"ids"`
	Texts        []string `json:"texts"`
	Neo4jCascade []string `json:"neo4j_cascade"`
	DryRun       bool     `json:"dry_run,omitempty"`
}

// Retract removes every memory matching the query above the minimum
// score, optionally cascading entity deletions into the graph, and
// appends an audit record.
func (s *Service) Retract(ctx context.Context, query, userID, reason string, cascade, dryRun bool) (*RetractResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || userID == "" {
		return nil, ErrEmptyText
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	hits, err := s.vectors.Search(ctx, vec, vector.Filter{UserID: userID}, 20)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}

	result := &RetractResult{IDs: []string{}, Texts: []string{}, Neo4jCascade: []string{}, DryRun: dryRun}
	for _, h := range hits {
		if float64(h.Score) <= RetractMinScore {
			continue
		}
		text, _ := h.Payload["full_text"].(string)
		if text == "" {
			text, _ = h.Payload["text"].(string)
		}
		result.IDs = append(result.IDs, h.ID)
		result.Texts = append(result.Texts, text)
	}
	if len(result.IDs) == 0 || dryRun {
		result.Retracted = len(result.IDs)
		return result, nil
	}

	if cascade {
		result.Neo4jCascade = s.cascadeEntities(ctx, result.Texts)
	}

	if err := s.vectors.Delete(ctx, result.IDs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	s.recents.forget(result.IDs)
	result.Retracted = len(result.IDs)

	if s.auditor != nil {
		s.auditor.RecordRetraction(query, reason, userID, cascade, result.IDs, result.Texts, result.Neo4jCascade)
	}
	return result, nil
}

// cascadeEntities detaches every entity mentioned by the retracted
// texts. Graph downtime degrades to an empty cascade.
func (s *Service) cascadeEntities(ctx context.Context, texts []string) []string {
	if !s.graph.Available(ctx) {
		return []string{}
	}
	seen := make(map[string]bool)
	removed := []string{}
	for _, text := range texts {
		for _, raw := range extractEntityNames(text, maxQueryEntities) {
			name := vocab.NormalizeEntityName(raw)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			rows, err := s.graph.WriteRead(ctx, `
				MATCH (e:Entity) WHERE toLower(e.name) = $name
				DETACH DELETE e
				RETURN count(e) AS n`,
				map[string]any{"name": name})
			if err != nil {
				s.logger.Warn("Cascade delete failed", zap.String("entity", name), zap.Error(err))
				continue
			}
			if len(rows) > 0 && int64Of(rows[0]["n"]) > 0 {
				removed = append(removed, name)
			}
		}
	}
	return removed
}

// EvolutionStats summarizes the lifecycle ledgers.
type EvolutionStats struct {
	Evolutions int64 `json:"evolutions"`
	Reinforced int64 `json:"reinforced"`
	Decayed    int64 `json:"decayed"`
	Available  bool  `json:"available"`
}

// Stats counts evolution lineage edges and the access ledger.
func (s *Service) Stats(ctx context.Context) (*EvolutionStats, error) {
	stats := &EvolutionStats{}
	if !s.graph.Available(ctx) {
		return stats, nil
	}
	rows, err := s.graph.Read(ctx, `
		OPTIONAL MATCH ()-[e:EVOLVED_INTO]->()
		WITH count(e) AS evolutions
		OPTIONAL MATCH (r:MemoryAccess) WHERE coalesce(r.access_count, 0) > 0
		WITH evolutions, count(r) AS reinforced
		OPTIONAL MATCH (d:MemoryAccess) WHERE coalesce(d.decay_count, 0) > 0
		RETURN evolutions, reinforced, count(d) AS decayed`, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		stats.Evolutions = int64Of(rows[0]["evolutions"])
		stats.Reinforced = int64Of(rows[0]["reinforced"])
		stats.Decayed = int64Of(rows[0]["decayed"])
	}
	stats.Available = true
	return stats, nil
}

// FactStats summarizes the corpus by source.
type FactStats struct {
	Total    uint64         `json:"total"`
	BySource map[string]int `json:"by_source"`
	ByDomain map[string]int `json:"by_domain,omitempty"`
}

// FactStatsFor counts a user's memories and samples the provenance
// breakdown from the first page.
func (s *Service) FactStatsFor(ctx context.Context, userID string) (*FactStats, error) {
	if userID == "" {
		return nil, ErrEmptyText
	}
	total, err := s.vectors.Count(ctx, vector.Filter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	stats := &FactStats{Total: total, BySource: map[string]int{}}

	hits, err := s.vectors.Scroll(ctx, vector.Filter{UserID: userID}, 500)
	if err != nil {
		return stats, nil
	}
	for _, h := range hits {
		if source, _ := h.Payload["source"].(string); source != "" {
			stats.BySource[source]++
		}
		if domain, _ := h.Payload["domain"].(string); domain != "" {
			if stats.ByDomain == nil {
				stats.ByDomain = map[string]int{}
			}
			stats.ByDomain[domain]++
		}
	}
	return stats, nil
}
