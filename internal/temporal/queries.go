package temporal

import (
	"context"
	"fmt"

	"github.com/aletheia-memory-sidecar/internal/vocab"
)

// ChangeSet is the Since result: what was learned, what stopped being
// true and what happened, all after a cut-off.
type ChangeSet struct {
	NewFacts         []Fact    `json:"new_facts"`
	InvalidatedFacts []Fact    `json:"invalidated_facts"`
	Episodes         []Episode `json:"episodes"`
}

// EntityHistory is the WhatChanged result for one entity.
type EntityHistory struct {
	Entity     string    `json:"entity"`
	Active     []Fact    `json:"active"`
	Historical []Fact    `json:"historical"`
	Episodes   []Episode `json:"episodes"`
}

// Since returns facts recorded, facts invalidated and episodes
// recorded at or after the cut-off.
func (e *Engine) Since(ctx context.Context, since, entityName, agentID string) (*ChangeSet, error) {
	if since == "" {
		return nil, fmt.Errorf("%w: since required", ErrBadRequest)
	}
	if !e.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	params := map[string]any{"since": since}
	entityClause := ""
	if entityName != "" {
		entityClause = ` AND (s.name = $entity OR o.name = $entity)`
		params["entity"] = vocab.NormalizeEntityName(entityName)
	}

	newRows, err := e.graph.Read(ctx, `
		MATCH (s:Entity)-[r:TEMPORAL_FACT]->(o:Entity)
		WHERE r.recorded_at >= $since`+entityClause+`
		RETURN s.name AS subject, r AS rel, o.name AS object
		ORDER BY r.recorded_at DESC LIMIT 100`, params)
	if err != nil {
		return nil, ErrUnavailable
	}

	invalidRows, err := e.graph.Read(ctx, `
		MATCH (s:Entity)-[r:TEMPORAL_FACT]->(o:Entity)
		WHERE r.valid_to IS NOT NULL AND r.valid_to >= $since`+entityClause+`
		RETURN s.name AS subject, r AS rel, o.name AS object
		ORDER BY r.valid_to DESC LIMIT 100`, params)
	if err != nil {
		return nil, ErrUnavailable
	}

	epParams := map[string]any{"since": since}
	epClause := ""
	if agentID != "" {
		epClause = ` AND ep.agent_id = $agent_id`
		epParams["agent_id"] = agentID
	}
	epRows, err := e.graph.Read(ctx, `
		MATCH (ep:Episode)
		WHERE ep.recorded_at >= $since`+epClause+`
		RETURN ep ORDER BY ep.recorded_at DESC LIMIT 50`, epParams)
	if err != nil {
		return nil, ErrUnavailable
	}

	return &ChangeSet{
		NewFacts:         factsFromRows(newRows),
		InvalidatedFacts: factsFromRows(invalidRows),
		Episodes:         episodesFromRows(epRows),
	}, nil
}

// WhatChanged returns the full fact history of an entity in a window,
// split into active and historical, plus the episodes mentioning it.
func (e *Engine) WhatChanged(ctx context.Context, entityName, since, until string) (*EntityHistory, error) {
	if entityName == "" {
		return nil, fmt.Errorf("%w: entity required", ErrBadRequest)
	}
	if !e.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	name := vocab.NormalizeEntityName(entityName)
	params := map[string]any{"entity": name}
	window := ""
	if since != "" {
		window += ` AND r.recorded_at >= $since`
		params["since"] = since
	}
	if until != "" {
		window += ` AND r.recorded_at <= $until`
		params["until"] = until
	}

	rows, err := e.graph.Read(ctx, `
		MATCH (s:Entity)-[r:TEMPORAL_FACT]->(o:Entity)
		WHERE (s.name = $entity OR o.name = $entity)`+window+`
		RETURN s.name AS subject, r AS rel, o.name AS object
		ORDER BY r.recorded_at DESC LIMIT 200`, params)
	if err != nil {
		return nil, ErrUnavailable
	}

	history := &EntityHistory{Entity: name, Active: []Fact{}, Historical: []Fact{}}
	for _, fact := range factsFromRows(rows) {
		if fact.ValidTo == nil {
			history.Active = append(history.Active, fact)
		} else {
			history.Historical = append(history.Historical, fact)
		}
	}

	epRows, err := e.graph.Read(ctx, `
		MATCH (ep:Episode)-[:MENTIONS]->(ent:Entity {name: $entity})
		RETURN ep ORDER BY ep.recorded_at DESC LIMIT 20`,
		map[string]any{"entity": name})
	if err != nil {
		return nil, ErrUnavailable
	}
	history.Episodes = episodesFromRows(epRows)
	return history, nil
}

// AtTime returns the facts valid at a point in time: valid_from <= t
// and (valid_to is null or valid_to > t).
func (e *Engine) AtTime(ctx context.Context, timestamp, entityName string) ([]Fact, error) {
	if timestamp == "" {
		return nil, fmt.Errorf("%w: timestamp required", ErrBadRequest)
	}
	if !e.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	params := map[string]any{"t": timestamp}
	entityClause := ""
	if entityName != "" {
		entityClause = ` AND (s.name = $entity OR o.name = $entity)`
		params["entity"] = vocab.NormalizeEntityName(entityName)
	}

	rows, err := e.graph.Read(ctx, `
		MATCH (s:Entity)-[r:TEMPORAL_FACT]->(o:Entity)
		WHERE r.valid_from <= $t
		  AND (r.valid_to IS NULL OR r.valid_to > $t)`+entityClause+`
		RETURN s.name AS subject, r AS rel, o.name AS object
		ORDER BY r.valid_from DESC LIMIT 200`, params)
	if err != nil {
		return nil, ErrUnavailable
	}
	return factsFromRows(rows), nil
}

// Episodes lists recent episodes, optionally for one agent.
func (e *Engine) Episodes(ctx context.Context, agentID string, limit int) ([]Episode, error) {
	if !e.graph.Available(ctx) {
		return nil, ErrUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	params := map[string]any{"limit": limit}
	clause := ""
	if agentID != "" {
		clause = ` WHERE ep.agent_id = $agent_id`
		params["agent_id"] = agentID
	}
	rows, err := e.graph.Read(ctx, `
		MATCH (ep:Episode)`+clause+`
		RETURN ep ORDER BY ep.recorded_at DESC LIMIT $limit`, params)
	if err != nil {
		return nil, ErrUnavailable
	}
	return episodesFromRows(rows), nil
}

// Stats summarizes the temporal store.
func (e *Engine) Stats(ctx context.Context) (map[string]any, error) {
	if !e.graph.Available(ctx) {
		return nil, ErrUnavailable
	}

	rows, err := e.graph.Read(ctx, `
		OPTIONAL MATCH (ep:Episode)
		WITH count(ep) AS episodes
		OPTIONAL MATCH ()-[r:TEMPORAL_FACT]->()
		WITH episodes,
			count(CASE WHEN r.valid_to IS NULL THEN 1 END) AS active,
			count(CASE WHEN r.valid_to IS NOT NULL THEN 1 END) AS historical
		OPTIONAL MATCH ()-[m:MENTIONS]->()
		RETURN episodes, active, historical, count(m) AS mentions`, nil)
	if err != nil {
		return nil, ErrUnavailable
	}

	stats := map[string]any{
		"episodes": int64(0), "active_facts": int64(0),
		"historical_facts": int64(0), "mentions": int64(0),
	}
	if len(rows) > 0 {
		stats["episodes"] = rows[0]["episodes"]
		stats["active_facts"] = rows[0]["active"]
		stats["historical_facts"] = rows[0]["historical"]
		stats["mentions"] = rows[0]["mentions"]
	}

	recent, err := e.graph.Read(ctx, `
		MATCH (ep:Episode)
		RETURN ep ORDER BY ep.recorded_at DESC LIMIT 5`, nil)
	if err == nil {
		stats["recent_episodes"] = episodesFromRows(recent)
	}

	top, err := e.graph.Read(ctx, `
		MATCH (:Episode)-[:MENTIONS]->(ent:Entity)
		RETURN ent.name AS name, count(*) AS mentions
		ORDER BY mentions DESC LIMIT 10`, nil)
	if err == nil {
		topMentioned := make([]map[string]any, 0, len(top))
		for _, row := range top {
			topMentioned = append(topMentioned, map[string]any{
				"name": row["name"], "mentions": row["mentions"],
			})
		}
		stats["top_mentioned"] = topMentioned
	}
	return stats, nil
}

// factsFromRows decodes subject/rel/object rows. The rel column may be
// a driver relationship value or a plain property map (tests).
func factsFromRows(rows []map[string]any) []Fact {
	facts := make([]Fact, 0, len(rows))
	for _, row := range rows {
		props := relProps(row["rel"])
		if props == nil {
			continue
		}
		fact := Fact{
			Subject:    stringProp(row, "subject"),
			Object:     stringProp(row, "object"),
			Predicate:  stringOf(props["predicate"]),
			ValidFrom:  stringOf(props["valid_from"]),
			OccurredAt: stringOf(props["occurred_at"]),
			RecordedAt: stringOf(props["recorded_at"]),
		}
		if fact.Object == "" {
			fact.Object = stringOf(props["object"])
		}
		if v := stringOf(props["valid_to"]); v != "" {
			fact.ValidTo = &v
		}
		if c, ok := props["confidence"].(float64); ok {
			fact.Confidence = c
		}
		fact.SourceEpisodeID = stringOf(props["source_episode_id"])
		fact.InvalidationReason = stringOf(props["invalidation_reason"])
		fact.InvalidatedBy = stringOf(props["invalidated_by"])
		facts = append(facts, fact)
	}
	return facts
}

func episodesFromRows(rows []map[string]any) []Episode {
	episodes := make([]Episode, 0, len(rows))
	for _, row := range rows {
		props := nodeProps(row["ep"])
		if props == nil {
			continue
		}
		episodes = append(episodes, Episode{
			ID:             stringOf(props["id"]),
			ContentPreview: stringOf(props["content_preview"]),
			AgentID:        stringOf(props["agent_id"]),
			SessionID:      stringOf(props["session_id"]),
			Source:         stringOf(props["source"]),
			OccurredAt:     stringOf(props["occurred_at"]),
			RecordedAt:     stringOf(props["recorded_at"]),
		})
	}
	return episodes
}

func stringProp(row map[string]any, key string) string {
	s, _ := row[key].(string)
	return s
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}
