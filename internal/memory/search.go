package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aletheia-memory-sidecar/internal/entity"
	"github.com/aletheia-memory-sidecar/internal/jsonx"
	"github.com/aletheia-memory-sidecar/internal/llm"
	"github.com/aletheia-memory-sidecar/internal/store/vector"
)

const (
	// recencyBoost is the maximum recency bonus; it fades linearly to
	// zero over recencyWindow.
	recencyBoost  = 0.15
	recencyWindow = 24 * time.Hour

	// maxQueryEntities caps heuristic entity extraction on queries.
	maxQueryEntities = 10
	// maxNeighborsPerEntity caps graph expansion fan-out.
	maxNeighborsPerEntity = 10
	// maxSupplementNames caps the neighbor names appended to the
	// supplementary query.
	maxSupplementNames = 5
	// maxTraversalDepth bounds the variable-length pattern.
	maxTraversalDepth = 3

	// maxRewrites and maxParallelSearches bound SearchEnhanced.
	maxRewrites         = 2
	maxParallelSearches = 4
	// rewriteMinLen / rewriteMaxLen gate the LLM rewrite step.
	rewriteMinLen = 10
	rewriteMaxLen = 500
)

// SearchRequest carries retrieval inputs.
type SearchRequest struct {
	Query   string
	UserID  string
	AgentID string
	Limit   int
	// Domains whitelists payload domains when non-empty.
	Domains []string
}

// Search is plain vector retrieval with access-pattern reweighting:
// fresh memories get a recency boost, decayed-and-never-accessed ones
// a penalty, frequently accessed ones a small boost.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" || req.UserID == "" {
		return nil, ErrEmptyText
	}
	limit := req.Limit
	if limit <= 0 || limit > 100 {
		limit = s.cfg.SearchLimit
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	// Over-fetch so domain filtering and reweighting still fill the
	// page.
	hits, err := s.vectors.Search(ctx, vec, vector.Filter{UserID: req.UserID, AgentID: req.AgentID}, limit*2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}

	results := hitsToResults(hits)
	results = filterDomains(results, req.Domains)
	s.reweight(ctx, results)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// reweight fills CombinedScore from the raw score, recency and the
// MemoryAccess ledger. Graph downtime leaves scores unadjusted.
func (s *Service) reweight(ctx context.Context, results []Result) {
	now := s.now()
	access := s.accessCounts(ctx, results)

	for i := range results {
		score := results[i].Score
		if created, err := time.Parse(time.RFC3339, results[i].CreatedAt); err == nil {
			if age := now.Sub(created); age >= 0 && age < recencyWindow {
				score += recencyBoost * (1 - age.Hours()/recencyWindow.Hours())
			}
		}
		if a, ok := access[results[i].ID]; ok {
			if a.decays > 0 && a.accesses == 0 {
				penalty := float64(a.decays) * 0.02
				if penalty > 0.10 {
					penalty = 0.10
				}
				score -= penalty
			}
			if a.accesses > 2 {
				boost := float64(a.accesses) * 0.01
				if boost > 0.05 {
					boost = 0.05
				}
				score += boost
			}
		}
		results[i].CombinedScore = score
	}
}

type accessStat struct {
	accesses int64
	decays   int64
}

func (s *Service) accessCounts(ctx context.Context, results []Result) map[string]accessStat {
	if len(results) == 0 || !s.graph.Available(ctx) {
		return nil
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	rows, err := s.graph.Read(ctx, `
		MATCH (m:MemoryAccess) WHERE m.memory_id IN $ids
		RETURN m.memory_id AS id,
			coalesce(m.access_count, 0) AS accesses,
			coalesce(m.decay_count, 0) AS decays`,
		map[string]any{"ids": ids})
	if err != nil {
		s.logger.Debug("Access ledger lookup failed", zap.Error(err))
		return nil
	}
	out := make(map[string]accessStat, len(rows))
	for _, row := range rows {
		id, _ := row["id"].(string)
		out[id] = accessStat{accesses: int64Of(row["accesses"]), decays: int64Of(row["decays"])}
	}
	return out
}

// GraphEnhancedSearch expands query entities through the graph and
// merges a supplementary neighbor-augmented search into the primary
// one with weights (1-g, g).
func (s *Service) GraphEnhancedSearch(ctx context.Context, req SearchRequest, depth int) ([]Result, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > maxTraversalDepth {
		depth = maxTraversalDepth
	}

	primary, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	neighbors := s.neighborNames(ctx, req.Query, depth)
	if len(neighbors) == 0 {
		return primary, nil
	}
	if len(neighbors) > maxSupplementNames {
		neighbors = neighbors[:maxSupplementNames]
	}

	suppReq := req
	suppReq.Query = req.Query + " " + strings.Join(neighbors, " ")
	supplementary, err := s.Search(ctx, suppReq)
	if err != nil {
		s.logger.Warn("Supplementary search failed", zap.Error(err))
		return primary, nil
	}

	g := s.cfg.GraphWeight
	merged := make(map[string]Result, len(primary)+len(supplementary))
	for _, r := range primary {
		r.CombinedScore = (1 - g) * r.CombinedScore
		merged[r.ID] = r
	}
	for _, r := range supplementary {
		if existing, ok := merged[r.ID]; ok {
			existing.CombinedScore += g * r.CombinedScore
			merged[r.ID] = existing
		} else {
			r.CombinedScore = g * r.CombinedScore
			merged[r.ID] = r
		}
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// neighborNames pulls the graph neighborhood of the query's entities.
// The depth is spliced into the pattern; it is clamped above.
func (s *Service) neighborNames(ctx context.Context, query string, depth int) []string {
	if !s.graph.Available(ctx) {
		return nil
	}
	entities := extractEntityNames(query, maxQueryEntities)
	if len(entities) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var names []string
	cypher := fmt.Sprintf(`
		MATCH (e:Entity) WHERE toLower(e.name) CONTAINS $name
		MATCH (e)-[*1..%d]-(nb:Entity)
		WHERE nb <> e
		RETURN DISTINCT nb.name AS name LIMIT %d`, depth, maxNeighborsPerEntity)
	for _, ent := range entities {
		rows, err := s.graph.Read(ctx, cypher, map[string]any{"name": strings.ToLower(ent)})
		if err != nil {
			s.logger.Debug("Neighbor expansion failed", zap.String("entity", ent), zap.Error(err))
			continue
		}
		for _, row := range rows {
			if name, _ := row["name"].(string); name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// SearchEnhanced fans the query out: the original, an alias-resolved
// variant, and up to two LLM rewrites, searched in parallel and merged
// by id keeping the best score.
func (s *Service) SearchEnhanced(ctx context.Context, req SearchRequest) ([]Result, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" || req.UserID == "" {
		return nil, ErrEmptyText
	}

	queries := []string{query}
	if resolved := s.aliasResolvedQuery(ctx, query); resolved != "" && resolved != query {
		queries = append(queries, resolved)
	}
	if n := len(query); n >= rewriteMinLen && n <= rewriteMaxLen && s.llm.ExtractionEnabled() {
		rewrites, err := llm.RewriteQueries(ctx, s.llm.Client(), query, maxRewrites)
		if err != nil {
			s.logger.Debug("Query rewrite failed", zap.Error(err))
		}
		queries = append(queries, rewrites...)
	}
	if len(queries) > maxParallelSearches {
		queries = queries[:maxParallelSearches]
	}

	var mu sync.Mutex
	merged := make(map[string]Result)
	grp, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		grp.Go(func() error {
			sub := req
			sub.Query = q
			results, err := s.Search(gctx, sub)
			if err != nil {
				// One failing variant must not sink the fan-out.
				s.logger.Debug("Search variant failed", zap.String("query", q), zap.Error(err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				if existing, ok := merged[r.ID]; !ok || r.CombinedScore > existing.CombinedScore {
					merged[r.ID] = r
				}
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CombinedScore > out[j].CombinedScore
	})
	limit := req.Limit
	if limit <= 0 {
		limit = s.cfg.SearchLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// aliasResolvedQuery swaps query entities for their graph canonicals.
func (s *Service) aliasResolvedQuery(ctx context.Context, query string) string {
	if !s.graph.Available(ctx) {
		return ""
	}
	canonicals, err := s.graph.CanonicalEntities(ctx)
	if err != nil || len(canonicals) == 0 {
		return ""
	}

	resolved := query
	changed := false
	for _, ent := range extractEntityNames(query, maxQueryEntities) {
		canonical, ok := s.resolveCanonical(ctx, ent, canonicals)
		if !ok || strings.EqualFold(canonical, ent) {
			continue
		}
		resolved = strings.ReplaceAll(resolved, ent, canonical)
		changed = true
	}
	if !changed {
		return ""
	}
	return resolved
}

// GraphSearch retrieves only memories whose provenance is the graph
// projection path.
func (s *Service) GraphSearch(ctx context.Context, req SearchRequest) ([]Result, error) {
	results, err := s.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	filtered := results[:0]
	for _, r := range results {
		if r.Source == "graph" {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func filterDomains(results []Result, domains []string) []Result {
	if len(domains) == 0 {
		return results
	}
	allowed := make(map[string]bool, len(domains))
	for _, d := range domains {
		allowed[strings.ToLower(d)] = true
	}
	filtered := results[:0]
	for _, r := range results {
		domain, _ := r.Payload["domain"].(string)
		// An unset domain passes any whitelist.
		if domain == "" || allowed[strings.ToLower(domain)] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func hitsToResults(hits []vector.Hit) []Result {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		text, _ := h.Payload["full_text"].(string)
		if text == "" {
			text, _ = h.Payload["text"].(string)
		}
		source, _ := h.Payload["source"].(string)
		createdAt, _ := h.Payload["created_at"].(string)
		results = append(results, Result{
			ID:            h.ID,
			Text:          text,
			Score:         float64(h.Score),
			CombinedScore: float64(h.Score),
			Source:        source,
			CreatedAt:     createdAt,
			Payload:       h.Payload,
		})
	}
	return results
}

// extractEntityNames is the heuristic extraction shared with episode
// linking and retraction.
func extractEntityNames(text string, max int) []string {
	return entity.Extract(text, max)
}

func unmarshalLine(line string, v any) error {
	return jsonx.UnmarshalFromString(line, v)
}

func int64Of(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
