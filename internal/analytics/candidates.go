package analytics

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Candidate is a precomputed discovery seed.
type Candidate struct {
	EntityA     string  `json:"entity_a"`
	EntityB     string  `json:"entity_b"`
	Type        string  `json:"type"` // cross_community_bridge | high_betweenness_hub
	BridgeScore float64 `json:"bridge_score"`
	CommunityA  int     `json:"community_a"`
	CommunityB  int     `json:"community_b"`
	GeneratedAt string  `json:"generated_at"`
}

const (
	candidateBridge = "cross_community_bridge"
	candidateHub    = "high_betweenness_hub"
)

// GenerateCandidates precomputes cross-community bridges and
// high-betweenness hubs, storing them as DiscoveryCandidate nodes and
// purging the previous generation.
func (s *Service) GenerateCandidates(ctx context.Context) ([]Candidate, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	p, err := loadProjection(ctx, s.graph)
	if err != nil {
		return nil, ErrUnavailable
	}
	p.Louvain()

	generatedAt := s.now().UTC().Format(time.RFC3339)
	var candidates []Candidate

	// Bridges: edges whose endpoints live in different non-negative
	// communities; cheap endpoints score higher.
	seen := map[[2]int]bool{}
	for _, e := range p.edges {
		ca, cb := p.CommunityOf(e.From), p.CommunityOf(e.To)
		if ca < 0 || cb < 0 || ca == cb {
			continue
		}
		key := [2]int{e.From, e.To}
		if e.From > e.To {
			key = [2]int{e.To, e.From}
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		minDeg := p.Degree(e.From)
		if d := p.Degree(e.To); d < minDeg {
			minDeg = d
		}
		candidates = append(candidates, Candidate{
			EntityA:     p.Name(e.From),
			EntityB:     p.Name(e.To),
			Type:        candidateBridge,
			BridgeScore: 1.0 / float64(1+minDeg),
			CommunityA:  ca,
			CommunityB:  cb,
			GeneratedAt: generatedAt,
		})
	}

	// Hubs: betweenness top 10.
	bc := p.Betweenness()
	maxBC := 0.0
	for _, v := range bc {
		if v > maxBC {
			maxBC = v
		}
	}
	if maxBC > 0 {
		for _, i := range topBy(bc, 10) {
			if bc[i] == 0 {
				continue
			}
			candidates = append(candidates, Candidate{
				EntityA:     p.Name(i),
				Type:        candidateHub,
				BridgeScore: bc[i] / maxBC,
				CommunityA:  p.CommunityOf(i),
				CommunityB:  -1,
				GeneratedAt: generatedAt,
			})
		}
	}

	sort.Slice(candidates, func(a, b int) bool {
		return candidates[a].BridgeScore > candidates[b].BridgeScore
	})

	if err := s.storeCandidates(ctx, candidates, generatedAt); err != nil {
		s.logger.Warn("Failed to store discovery candidates", zap.Error(err))
	}
	s.logger.Info("Generated discovery candidates", zap.Int("count", len(candidates)))
	return candidates, nil
}

func (s *Service) storeCandidates(ctx context.Context, candidates []Candidate, generatedAt string) error {
	rows := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		rows = append(rows, map[string]any{
			"entity_a": c.EntityA, "entity_b": c.EntityB, "type": c.Type,
			"bridge_score": c.BridgeScore, "community_a": c.CommunityA,
			"community_b": c.CommunityB, "generated_at": c.GeneratedAt,
		})
	}

	if _, err := s.graph.WriteRead(ctx, `
		UNWIND $rows AS row
		MERGE (c:DiscoveryCandidate {entity_a: row.entity_a, entity_b: row.entity_b, type: row.type})
		SET c.bridge_score = row.bridge_score,
		    c.community_a = row.community_a,
		    c.community_b = row.community_b,
		    c.generated_at = row.generated_at
		RETURN count(c) AS stored`,
		map[string]any{"rows": rows}); err != nil {
		return err
	}

	// Purge candidates from previous generations.
	_, err := s.graph.WriteRead(ctx, `
		MATCH (c:DiscoveryCandidate)
		WHERE c.generated_at < $generated_at
		DELETE c
		RETURN count(c) AS purged`,
		map[string]any{"generated_at": generatedAt})
	return err
}

// Candidates reads the stored candidates back, best first.
func (s *Service) Candidates(ctx context.Context, limit int) ([]Candidate, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := s.graph.Read(ctx, `
		MATCH (c:DiscoveryCandidate)
		RETURN c.entity_a AS entity_a, c.entity_b AS entity_b,
		       c.type AS type, c.bridge_score AS bridge_score,
		       c.community_a AS community_a, c.community_b AS community_b,
		       c.generated_at AS generated_at
		ORDER BY c.bridge_score DESC LIMIT $limit`,
		map[string]any{"limit": limit})
	if err != nil {
		return nil, ErrUnavailable
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		c := Candidate{
			EntityA:     stringOf(row["entity_a"]),
			EntityB:     stringOf(row["entity_b"]),
			Type:        stringOf(row["type"]),
			GeneratedAt: stringOf(row["generated_at"]),
			CommunityA:  intOf(row["community_a"]),
			CommunityB:  intOf(row["community_b"]),
		}
		if v, ok := row["bridge_score"].(float64); ok {
			c.BridgeScore = v
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// DiscoveryStats summarizes the candidate pool.
func (s *Service) DiscoveryStats(ctx context.Context) (map[string]any, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}
	rows, err := s.graph.Read(ctx, `
		MATCH (c:DiscoveryCandidate)
		RETURN c.type AS type, count(c) AS count, max(c.generated_at) AS latest`, nil)
	if err != nil {
		return nil, ErrUnavailable
	}
	byType := map[string]any{}
	latest := ""
	var total int64
	for _, row := range rows {
		t := stringOf(row["type"])
		if c, ok := row["count"].(int64); ok {
			byType[t] = c
			total += c
		}
		if l := stringOf(row["latest"]); l > latest {
			latest = l
		}
	}
	return map[string]any{
		"total": total, "by_type": byType, "latest_generation": latest,
	}, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func intOf(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return -1
	}
}
