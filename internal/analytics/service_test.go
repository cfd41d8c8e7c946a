package analytics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeGraph serves a fixed edge list as the projection source and
// records write-backs.
type fakeGraph struct {
	nodes  []string
	edges  [][3]string // from, type, to
	down   bool
	writes []map[string]any
	stored map[string][]map[string]any
}

func (f *fakeGraph) Available(ctx context.Context) bool { return !f.down }

func (f *fakeGraph) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	switch {
	case strings.Contains(cypher, "RETURN n.name"):
		rows := make([]map[string]any, 0, len(f.nodes))
		for _, n := range f.nodes {
			rows = append(rows, map[string]any{"name": n})
		}
		return rows, nil
	case strings.Contains(cypher, "type(r) AS type"):
		rows := make([]map[string]any, 0, len(f.edges))
		for _, e := range f.edges {
			rows = append(rows, map[string]any{"from": e[0], "type": e[1], "to": e[2]})
		}
		return rows, nil
	case strings.Contains(cypher, "DiscoveryCandidate"):
		return f.stored["candidates"], nil
	}
	return nil, nil
}

func (f *fakeGraph) WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.writes = append(f.writes, map[string]any{"cypher": cypher, "params": params})
	return nil, nil
}

// seededGraph builds the S4 shape: a Rust cluster and a Neuroscience
// cluster connected through a long chain, so the far cluster sits in a
// different community.
func seededGraph() *fakeGraph {
	f := &fakeGraph{}
	add := func(from, to string) {
		f.edges = append(f.edges, [3]string{from, "RELATES_TO", to})
	}
	// Rust community.
	add("rust", "cargo")
	add("rust", "tokio")
	add("cargo", "tokio")
	// Neuroscience community.
	add("neuroscience", "synapse")
	add("neuroscience", "cortex")
	add("synapse", "cortex")
	// Chain between them.
	add("tokio", "systems programming")
	add("systems programming", "cognition")
	add("cognition", "synapse")
	for _, e := range f.edges {
		f.nodes = appendUnique(f.nodes, e[0])
		f.nodes = appendUnique(f.nodes, e[2])
	}
	return f
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func newService(t *testing.T, fg *fakeGraph) *Service {
	s := NewService(fg, nil, zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC) }
	return s
}

func TestAnalyze(t *testing.T) {
	fg := seededGraph()
	s := newService(t, fg)

	res, err := s.Analyze(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, len(fg.nodes), res.Nodes)
	assert.GreaterOrEqual(t, res.Communities, 2)
	assert.NotEmpty(t, res.TopEntities)
	assert.True(t, res.StoredScores)
	require.NotEmpty(t, fg.writes, "scores written back")
	assert.Contains(t, fg.writes[0]["cypher"], "UNWIND")
}

func TestAnalyzeUnavailable(t *testing.T) {
	s := newService(t, &fakeGraph{down: true})
	_, err := s.Analyze(context.Background(), false)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDiscoverCrossCommunity(t *testing.T) {
	s := newService(t, seededGraph())

	results, err := s.Discover(context.Background(), "Rust", 0.6, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	// The winner lives outside Rust's community and its serendipity is
	// novelty-dominated.
	assert.Greater(t, top.Serendipity, top.Relevance)

	// Far-cluster nodes must appear somewhere in the results.
	var foundFar bool
	for _, r := range results {
		if r.Entity == "neuroscience" || r.Entity == "cortex" || r.Entity == "synapse" {
			foundFar = true
		}
	}
	assert.True(t, foundFar, "cross-community entities surfaced")
}

func TestDiscoverUnknownTopic(t *testing.T) {
	s := newService(t, seededGraph())
	results, err := s.Discover(context.Background(), "zzzzqqq", 0.5, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExplorePathsWithTarget(t *testing.T) {
	s := newService(t, seededGraph())

	paths, err := s.ExplorePaths(context.Background(), "rust", "neuroscience", 6, 5)
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	assert.Equal(t, "shortest", paths[0].Kind)
	assert.Equal(t, "rust", paths[0].Nodes[0])
	assert.Equal(t, "neuroscience", paths[0].Nodes[len(paths[0].Nodes)-1])
	assert.Len(t, paths[0].Relationships, paths[0].Length)
	assert.GreaterOrEqual(t, len(paths[0].CommunitiesTraversed), 2)
}

func TestExplorePathsOutward(t *testing.T) {
	s := newService(t, seededGraph())

	paths, err := s.ExplorePaths(context.Background(), "rust", "", 3, 5)
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		assert.Equal(t, "exploration", p.Kind)
		assert.Equal(t, "rust", p.Nodes[0])
	}
}

func TestGenerateCandidatesFindsBridge(t *testing.T) {
	fg := seededGraph()
	s := newService(t, fg)

	candidates, err := s.GenerateCandidates(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	var bridges, hubs int
	for _, c := range candidates {
		switch c.Type {
		case candidateBridge:
			bridges++
			assert.NotEqual(t, c.CommunityA, c.CommunityB)
			assert.Greater(t, c.BridgeScore, 0.0)
		case candidateHub:
			hubs++
		}
	}
	assert.Greater(t, bridges, 0)
	assert.Greater(t, hubs, 0)
	assert.NotEmpty(t, fg.writes, "candidates persisted")
}

func TestGraphExportModes(t *testing.T) {
	s := newService(t, seededGraph())

	top, err := s.GraphExport(context.Background(), "top", 3, 0)
	require.NoError(t, err)
	assert.Len(t, top.Nodes, 3)

	all, err := s.GraphExport(context.Background(), "all", 100, 0)
	require.NoError(t, err)
	assert.Len(t, all.Nodes, 8)
	assert.Len(t, all.Edges, 9)

	_, err = s.GraphExport(context.Background(), "bogus", 10, 0)
	assert.Error(t, err)
}
