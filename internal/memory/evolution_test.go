package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aletheia-memory-sidecar/internal/store/vector"
)

func TestCheckEvolutionMergesAndReplaces(t *testing.T) {
	fx := newFixture(t, true)
	fx.vectors.points["old"] = vector.Point{ID: "old", Payload: map[string]any{
		"full_text": "Alice works at Initech", "user_id": "u1",
	}}
	fx.vectors.queueHits(vector.Hit{ID: "old", Score: 0.88, Payload: map[string]any{
		"full_text": "Alice works at Initech",
	}})

	res, err := fx.svc.CheckEvolution(context.Background(), "Alice was promoted to staff engineer at Initech", "u1")
	require.NoError(t, err)
	require.True(t, res.Evolved)
	assert.Equal(t, "old", res.OldID)
	assert.NotEmpty(t, res.NewID)
	assert.Equal(t, "Alice now works at Initech as a staff engineer.", res.MergedText)

	// Old point gone, evolved one carries lineage metadata.
	assert.Contains(t, fx.vectors.deleted, "old")
	evolved := fx.vectors.points[res.NewID]
	assert.Equal(t, "old", evolved.Payload["evolved_from"])
	assert.Equal(t, "evolution", evolved.Payload["source"])
	assert.NotEmpty(t, evolved.Payload["evolution_timestamp"])

	// Lineage edge recorded asynchronously.
	assert.Contains(t, fx.tasks.names, "evolution_lineage")
	var lineage bool
	for _, batch := range fx.graph.writes {
		for _, stmt := range batch {
			if strings.Contains(stmt.Cypher, "EVOLVED_INTO") {
				lineage = true
				assert.Equal(t, "old", stmt.Params["old"])
				assert.Equal(t, res.NewID, stmt.Params["new"])
			}
		}
	}
	assert.True(t, lineage)
}

func TestCheckEvolutionBelowThreshold(t *testing.T) {
	fx := newFixture(t, true)
	fx.vectors.queueHits(vector.Hit{ID: "old", Score: 0.60})

	res, err := fx.svc.CheckEvolution(context.Background(), "Alice got a new keyboard", "u1")
	require.NoError(t, err)
	assert.False(t, res.Evolved)
	assert.Empty(t, fx.vectors.deleted)
}

func TestCheckEvolutionDisabledWithoutLLM(t *testing.T) {
	fx := newFixture(t, false)
	res, err := fx.svc.CheckEvolution(context.Background(), "anything at all here", "u1")
	require.NoError(t, err)
	assert.False(t, res.Evolved)
}

func TestReinforceTouchesLedger(t *testing.T) {
	fx := newFixture(t, false)
	require.NoError(t, fx.svc.Reinforce(context.Background(), "m1"))

	require.NotEmpty(t, fx.graph.writes)
	stmt := fx.graph.writes[0][0]
	assert.Contains(t, stmt.Cypher, "MERGE (m:MemoryAccess")
	assert.Contains(t, stmt.Cypher, "access_count")
	assert.Equal(t, "m1", stmt.Params["id"])
}

func TestDecayDryRunSamples(t *testing.T) {
	fx := newFixture(t, false)
	for _, id := range []string{"a", "b", "c"} {
		fx.vectors.points[id] = vector.Point{ID: id, Payload: map[string]any{"user_id": "u1"}}
	}
	// "a" has been accessed; only b and c are eligible.
	fx.graph.reads["MemoryAccess"] = []map[string]any{{"id": "a"}}

	res, err := fx.svc.Decay(context.Background(), "u1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Eligible)
	assert.Zero(t, res.Decayed)
	assert.True(t, res.DryRun)
	assert.Len(t, res.Sample, 2)
	assert.NotContains(t, res.Sample, "a")
}

func TestDecayIncrementsEligible(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.points["b"] = vector.Point{ID: "b", Payload: map[string]any{"user_id": "u1"}}

	res, err := fx.svc.Decay(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Decayed)

	var bumped bool
	for _, batch := range fx.graph.writes {
		for _, stmt := range batch {
			if strings.Contains(stmt.Cypher, "decay_count") {
				bumped = true
			}
		}
	}
	assert.True(t, bumped, "decay_count merged")
}

func TestConsolidateRemovesDuplicate(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.points["a"] = vector.Point{ID: "a", Payload: map[string]any{
		"user_id": "u1", "full_text": "Bob drives a 4Runner",
	}}
	fx.vectors.points["b"] = vector.Point{ID: "b", Payload: map[string]any{
		"user_id": "u1", "full_text": "Bob owns a 2024 4Runner",
	}}
	// Whichever memory is scanned first, its neighbor page holds both;
	// the same-id hit is skipped and the other lands above threshold.
	fx.vectors.queueHits(
		vector.Hit{ID: "a", Score: 0.95},
		vector.Hit{ID: "b", Score: 0.95},
	)

	res, err := fx.svc.Consolidate(context.Background(), "u1", 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	require.Len(t, res.Pairs, 1)
	assert.Len(t, fx.vectors.points, 1)
}

func TestConsolidateDryRunKeepsEverything(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.points["a"] = vector.Point{ID: "a", Payload: map[string]any{
		"user_id": "u1", "full_text": "Bob drives a 4Runner",
	}}
	fx.vectors.points["b"] = vector.Point{ID: "b", Payload: map[string]any{
		"user_id": "u1", "full_text": "Bob owns a 2024 4Runner",
	}}
	fx.vectors.queueHits(
		vector.Hit{ID: "a", Score: 0.95},
		vector.Hit{ID: "b", Score: 0.95},
	)
	fx.vectors.queueHits(
		vector.Hit{ID: "a", Score: 0.95},
		vector.Hit{ID: "b", Score: 0.95},
	)

	res, err := fx.svc.Consolidate(context.Background(), "u1", 0, true)
	require.NoError(t, err)
	assert.Zero(t, res.Merged)
	assert.NotEmpty(t, res.Pairs)
	assert.Len(t, fx.vectors.points, 2)
}

func TestMergeExplicitPair(t *testing.T) {
	fx := newFixture(t, true)
	fx.vectors.points["a"] = vector.Point{ID: "a", Payload: map[string]any{
		"user_id": "u1", "full_text": "Alice works at Initech",
	}}
	fx.vectors.points["b"] = vector.Point{ID: "b", Payload: map[string]any{
		"user_id": "u1", "full_text": "Alice is a staff engineer",
	}}

	res, err := fx.svc.Merge(context.Background(), "a", "b", "u1")
	require.NoError(t, err)
	require.True(t, res.Evolved)
	assert.Contains(t, fx.vectors.deleted, "a")
	assert.Contains(t, fx.vectors.deleted, "b")

	merged := fx.vectors.points[res.NewID]
	assert.Equal(t, "merge", merged.Payload["source"])
	assert.Equal(t, "a,b", merged.Payload["evolved_from"])
}

func TestMergeMissingMemory(t *testing.T) {
	fx := newFixture(t, true)
	fx.vectors.points["a"] = vector.Point{ID: "a", Payload: map[string]any{"full_text": "x"}}
	_, err := fx.svc.Merge(context.Background(), "a", "gone", "u1")
	assert.Error(t, err)
}

func TestRetractFiltersAndCascades(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.points["m1"] = vector.Point{ID: "m1", Payload: map[string]any{"user_id": "u1"}}
	fx.vectors.queueHits(
		vector.Hit{ID: "m1", Score: 0.90, Payload: map[string]any{"full_text": "Alice works at Initech"}},
		vector.Hit{ID: "m2", Score: 0.50, Payload: map[string]any{"full_text": "unrelated"}},
	)
	fx.graph.reads["DETACH DELETE"] = []map[string]any{{"n": int64(1)}}

	res, err := fx.svc.Retract(context.Background(), "where alice works", "u1", "stale employer", true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retracted)
	assert.Equal(t, []string{"m1"}, res.IDs)
	assert.NotEmpty(t, res.Neo4jCascade)
	assert.Contains(t, fx.vectors.deleted, "m1")

	assert.Equal(t, 1, fx.auditor.records)
	assert.Equal(t, []string{"m1"}, fx.auditor.lastIDs)
}

func TestRetractDryRun(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.queueHits(vector.Hit{ID: "m1", Score: 0.90, Payload: map[string]any{"full_text": "x"}})

	res, err := fx.svc.Retract(context.Background(), "some query", "u1", "", false, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retracted)
	assert.Empty(t, fx.vectors.deleted)
	assert.Zero(t, fx.auditor.records)
}

func TestEvolutionStats(t *testing.T) {
	fx := newFixture(t, false)
	fx.graph.reads["EVOLVED_INTO"] = []map[string]any{
		{"evolutions": int64(3), "reinforced": int64(2), "decayed": int64(1)},
	}

	stats, err := fx.svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Evolutions)
	assert.Equal(t, int64(2), stats.Reinforced)
	assert.Equal(t, int64(1), stats.Decayed)
	assert.True(t, stats.Available)
}

func TestFactStats(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.points["a"] = vector.Point{ID: "a", Payload: map[string]any{
		"user_id": "u1", "source": "conversation",
	}}
	fx.vectors.points["b"] = vector.Point{ID: "b", Payload: map[string]any{
		"user_id": "u1", "source": "import", "domain": "work",
	}}

	stats, err := fx.svc.FactStatsFor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, 1, stats.BySource["conversation"])
	assert.Equal(t, 1, stats.BySource["import"])
	assert.Equal(t, 1, stats.ByDomain["work"])
}
