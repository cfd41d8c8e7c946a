package graph

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/vocab"
)

// canonicalTTL is how long the canonical entity list is trusted before
// re-reading it from the graph.
const canonicalTTL = 5 * time.Minute

// CanonicalEntities returns every Entity name in the graph, cached for
// five minutes. Resolution uses it as the fuzzy-match universe.
func (g *Gateway) CanonicalEntities(ctx context.Context) ([]string, error) {
	g.canonMu.Lock()
	if time.Since(g.canonFetched) < canonicalTTL && g.canonNames != nil {
		names := g.canonNames
		g.canonMu.Unlock()
		return names, nil
	}
	g.canonMu.Unlock()

	rows, err := g.Read(ctx, `MATCH (n:Entity) RETURN n.name AS name`, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}

	g.canonMu.Lock()
	g.canonNames = names
	g.canonFetched = time.Now()
	g.canonMu.Unlock()
	return names, nil
}

// InvalidateCanonicals drops the cached name list. Called after merges
// so the next resolution sees the post-merge universe.
func (g *Gateway) InvalidateCanonicals() {
	g.canonMu.Lock()
	g.canonNames = nil
	g.canonFetched = time.Time{}
	g.canonMu.Unlock()
}

// relTypePattern is the only shape a relationship type identifier may
// take when spliced into Cypher. Types are never parameterizable, so
// anything else is refused outright.
var relTypePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// TypeRewrite records one normalization performed by
// NormalizeRelationships.
type TypeRewrite struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int64  `json:"count"`
}

// NormalizeRelationships rewrites every edge whose type falls outside
// the controlled vocabulary to its normalized form, preserving
// properties. TEMPORAL_FACT, MENTIONS and the other structural edge
// kinds are left alone.
func (g *Gateway) NormalizeRelationships(ctx context.Context) (int64, []TypeRewrite, error) {
	rows, err := g.Read(ctx, `MATCH (:Entity)-[r]->(:Entity) RETURN DISTINCT type(r) AS t`, nil)
	if err != nil {
		return 0, nil, err
	}

	structural := map[string]bool{
		"TEMPORAL_FACT": true, "MENTIONS": true, "PRODUCED": true,
		"HAS_FORESIGHT": true, "EVOLVED_INTO": true,
	}

	var total int64
	var rewrites []TypeRewrite
	for _, row := range rows {
		from, _ := row["t"].(string)
		if from == "" || structural[from] || vocab.Types[from] {
			continue
		}
		to := vocab.NormalizeType(from)
		if to == from {
			continue
		}
		if !relTypePattern.MatchString(from) || !relTypePattern.MatchString(to) {
			g.logger.Warn("Skipping unsafe relationship type", zap.String("type", from))
			continue
		}

		count, err := g.rewriteType(ctx, from, to)
		if err != nil {
			return total, rewrites, err
		}
		if count > 0 {
			total += count
			rewrites = append(rewrites, TypeRewrite{From: from, To: to, Count: count})
			g.logger.Info("Normalized relationship type",
				zap.String("from", from),
				zap.String("to", to),
				zap.Int64("count", count))
		}
	}
	return total, rewrites, nil
}

// rewriteType copies every edge of one type to the target type and
// deletes the original. MERGE keeps (source, type, target) unique when
// a normalized edge already exists.
func (g *Gateway) rewriteType(ctx context.Context, from, to string) (int64, error) {
	cypher := fmt.Sprintf(`
		MATCH (a:Entity)-[r:%s]->(b:Entity)
		MERGE (a)-[n:%s]->(b)
		ON CREATE SET n = properties(r)
		DELETE r
		RETURN count(*) AS rewritten`, from, to)

	rows, err := g.Read(ctx, `MATCH (:Entity)-[r:`+from+`]->(:Entity) RETURN count(r) AS c`, nil)
	if err != nil {
		return 0, err
	}
	var count int64
	if len(rows) > 0 {
		count, _ = rows[0]["c"].(int64)
	}
	if count == 0 {
		return 0, nil
	}
	if err := g.Write(ctx, Statement{Cypher: cypher}); err != nil {
		return 0, err
	}
	return count, nil
}

// MergeDuplicates groups entities by normalized name, re-points every
// relationship at the survivor and removes the duplicates. Returns the
// number of nodes merged away.
func (g *Gateway) MergeDuplicates(ctx context.Context) (int64, error) {
	rows, err := g.Read(ctx, `MATCH (n:Entity) RETURN n.name AS name`, nil)
	if err != nil {
		return 0, err
	}

	groups := make(map[string][]string)
	for _, row := range rows {
		name, _ := row["name"].(string)
		if name == "" {
			continue
		}
		key := vocab.NormalizeEntityName(name)
		groups[key] = append(groups[key], name)
	}

	var merged int64
	for canonical, members := range groups {
		if len(members) < 2 {
			continue
		}
		// Survivor is the one already carrying the canonical form when
		// present, else the first member.
		survivor := members[0]
		for _, m := range members {
			if m == canonical {
				survivor = m
				break
			}
		}
		for _, m := range members {
			if m == survivor {
				continue
			}
			err := g.Write(ctx,
				Statement{
					Cypher: `
						MATCH (dup:Entity {name: $dup}), (keep:Entity {name: $keep})
						OPTIONAL MATCH (dup)-[r]->(other)
						WHERE other <> keep
						FOREACH (_ IN CASE WHEN r IS NULL THEN [] ELSE [1] END |
							MERGE (keep)-[:RELATES_TO]->(other))
						WITH dup, keep
						OPTIONAL MATCH (other)-[r]->(dup)
						WHERE other <> keep
						FOREACH (_ IN CASE WHEN r IS NULL THEN [] ELSE [1] END |
							MERGE (other)-[:RELATES_TO]->(keep))
						WITH dup
						DETACH DELETE dup`,
					Params: map[string]any{"dup": m, "keep": survivor},
				})
			if err != nil {
				return merged, err
			}
			merged++
		}
	}
	if merged > 0 {
		g.InvalidateCanonicals()
	}
	return merged, nil
}

// CleanupOrphans deletes degree-zero entities in batches of 500.
func (g *Gateway) CleanupOrphans(ctx context.Context) (int64, error) {
	rows, err := g.WriteRead(ctx, `
		MATCH (n:Entity)
		WHERE NOT (n)--()
		WITH n LIMIT 500
		DETACH DELETE n
		RETURN count(*) AS removed`, nil)
	if err != nil {
		return 0, err
	}
	var removed int64
	if len(rows) > 0 {
		removed, _ = rows[0]["removed"].(int64)
	}
	if removed > 0 {
		g.InvalidateCanonicals()
		g.logger.Info("Removed orphaned entities", zap.Int64("count", removed))
	}
	return removed, nil
}

// Stats returns node/edge totals for /graph_stats.
func (g *Gateway) Stats(ctx context.Context) (map[string]any, error) {
	rows, err := g.Read(ctx, `
		MATCH (n:Entity)
		OPTIONAL MATCH (:Entity)-[r]->(:Entity)
		RETURN count(DISTINCT n) AS entities, count(DISTINCT r) AS relationships`, nil)
	if err != nil {
		return nil, err
	}
	stats := map[string]any{"entities": int64(0), "relationships": int64(0)}
	if len(rows) > 0 {
		stats["entities"] = rows[0]["entities"]
		stats["relationships"] = rows[0]["relationships"]
	}

	typeRows, err := g.Read(ctx, `
		MATCH (:Entity)-[r]->(:Entity)
		RETURN type(r) AS t, count(r) AS c
		ORDER BY c DESC LIMIT 20`, nil)
	if err == nil {
		byType := make(map[string]any, len(typeRows))
		for _, row := range typeRows {
			if t, ok := row["t"].(string); ok {
				byType[t] = row["c"]
			}
		}
		stats["relationship_types"] = byType
	}
	return stats, nil
}
