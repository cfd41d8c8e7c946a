package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aletheia-memory-sidecar/internal/llm"
	"github.com/aletheia-memory-sidecar/internal/store/graph"
	"github.com/aletheia-memory-sidecar/internal/store/vector"
)

// fakeVectors is an in-memory vector store keyed by point id. Search
// results are scripted per call via the hits queue.
type fakeVectors struct {
	mu      sync.Mutex
	points  map[string]vector.Point
	hits    [][]vector.Hit // popped per Search call
	deleted []string
	down    bool
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{points: map[string]vector.Point{}}
}

func (f *fakeVectors) queueHits(hits ...vector.Hit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, hits)
}

func (f *fakeVectors) Upsert(ctx context.Context, points []vector.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("qdrant down")
	}
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func (f *fakeVectors) Search(ctx context.Context, vec []float32, filt vector.Filter, limit int) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("qdrant down")
	}
	if len(f.hits) == 0 {
		return nil, nil
	}
	out := f.hits[0]
	f.hits = f.hits[1:]
	return out, nil
}

func (f *fakeVectors) Scroll(ctx context.Context, filt vector.Filter, limit int) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vector.Hit
	for id, p := range f.points {
		if filt.Hash != "" {
			if h, _ := p.Payload["content_hash"].(string); h != filt.Hash {
				continue
			}
		}
		if filt.UserID != "" {
			if u, _ := p.Payload["user_id"].(string); u != filt.UserID {
				continue
			}
		}
		out = append(out, vector.Hit{ID: id, Payload: p.Payload})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeVectors) Retrieve(ctx context.Context, ids []string) ([]vector.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []vector.Hit
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			out = append(out, vector.Hit{ID: id, Payload: p.Payload})
		}
	}
	return out, nil
}

func (f *fakeVectors) Delete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.points, id)
		f.deleted = append(f.deleted, id)
	}
	return nil
}

func (f *fakeVectors) Count(ctx context.Context, filt vector.Filter) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points)), nil
}

func (f *fakeVectors) Available(ctx context.Context) bool { return !f.down }

// fakeGraphStore records writes and serves scripted read rows keyed by
// a cypher substring.
type fakeGraphStore struct {
	mu       sync.Mutex
	down     bool
	writes   [][]graph.Statement
	writeErr error
	reads    map[string][]map[string]any
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{reads: map[string][]map[string]any{}}
}

func (f *fakeGraphStore) Available(ctx context.Context) bool { return !f.down }

func (f *fakeGraphStore) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("neo4j connection refused")
	}
	for key, rows := range f.reads {
		if strings.Contains(cypher, key) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeGraphStore) WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	f.writes = append(f.writes, []graph.Statement{{Cypher: cypher, Params: params}})
	f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("neo4j connection refused")
	}
	return f.Read(ctx, cypher, params)
}

func (f *fakeGraphStore) Write(ctx context.Context, stmts ...graph.Statement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("neo4j connection refused")
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, stmts)
	return nil
}

func (f *fakeGraphStore) CanonicalEntities(ctx context.Context) ([]string, error) {
	return []string{"kubernetes", "alice"}, nil
}

func (f *fakeGraphStore) NormalizeRelationships(ctx context.Context) (int64, []graph.TypeRewrite, error) {
	return 0, nil, nil
}

// fakeEmbedder returns a constant vector.
type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// fakeClient answers Complete with canned responses per system-prompt
// substring.
type fakeClient struct {
	responses map[string]string
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (string, error) {
	for key, resp := range f.responses {
		if strings.Contains(req.System, key) {
			return resp, nil
		}
	}
	return "{}", nil
}

func (f *fakeClient) Model() string { return "fake" }
func (f *fakeClient) Close() error  { return nil }

type fakeProvider struct {
	client  llm.Client
	enabled bool
}

func (f *fakeProvider) Client() llm.Client      { return f.client }
func (f *fakeProvider) ExtractionEnabled() bool { return f.enabled }

// syncTasks runs submitted tasks inline so tests observe side effects.
type syncTasks struct {
	mu    sync.Mutex
	names []string
}

func (t *syncTasks) Submit(name string, task func(ctx context.Context) error) {
	t.mu.Lock()
	t.names = append(t.names, name)
	t.mu.Unlock()
	_ = task(context.Background())
}

type fakeAuditor struct {
	mu      sync.Mutex
	records int
	lastIDs []string
}

func (a *fakeAuditor) RecordRetraction(query, reason, userID string, cascade bool, ids, texts, graphRemoved []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records++
	a.lastIDs = ids
}

type fixture struct {
	svc     *Service
	vectors *fakeVectors
	graph   *fakeGraphStore
	tasks   *syncTasks
	auditor *fakeAuditor
	llm     *fakeProvider
}

func newFixture(t *testing.T, extraction bool) *fixture {
	fv := newFakeVectors()
	fg := newFakeGraphStore()
	tasks := &syncTasks{}
	auditor := &fakeAuditor{}
	provider := &fakeProvider{
		enabled: extraction,
		client: &fakeClient{responses: map[string]string{
			"durable personal facts": `{"facts": ["Alice works at Initech"]}`,
			"relationship types":     `{"relations": [{"source": "Alice", "relationship": "WORKS_AT", "target": "Initech"}]}`,
			"merge an existing":      "Alice now works at Initech as a staff engineer.",
			"alternative phrasings":  `{"queries": ["where does alice work"]}`,
		}},
	}
	svc := NewService(DefaultConfig(), fv, fg, &fakeEmbedder{}, provider, tasks, nil, auditor, zaptest.NewLogger(t))
	svc.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return &fixture{svc: svc, vectors: fv, graph: fg, tasks: tasks, auditor: auditor, llm: provider}
}

func TestAddStoresRawTextWithoutExtraction(t *testing.T) {
	fx := newFixture(t, false)

	res, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice moved to Berlin", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.False(t, res.Deduplicated)

	p := fx.vectors.points[res.Results[0]]
	assert.Equal(t, "Alice moved to Berlin", p.Payload["full_text"])
	assert.Equal(t, "u1", p.Payload["user_id"])
	assert.Equal(t, "conversation", p.Payload["source"])
	assert.Equal(t, 0.9, p.Payload["confidence"])
	assert.Equal(t, ContentHash("Alice moved to Berlin"), p.Payload["content_hash"])
}

func TestAddIdempotentOnResend(t *testing.T) {
	fx := newFixture(t, false)
	req := AddRequest{Text: "Alice moved to Berlin", UserID: "u1"}

	first, err := fx.svc.Add(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	// The exact same text comes back: the recents ring catches it
	// before any vector round trip.
	second, err := fx.svc.Add(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Results[0], second.ExistingID)
	assert.Equal(t, 1.0, second.Score)
	assert.Len(t, fx.vectors.points, 1)
}

func TestAddSemanticDedup(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.queueHits(vector.Hit{ID: "existing", Score: 0.92})

	res, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice relocated to Berlin", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Equal(t, "existing", res.ExistingID)
	assert.InDelta(t, 0.92, res.Score, 1e-6)
	assert.Empty(t, fx.vectors.points)
}

func TestAddBelowThresholdInserts(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.queueHits(vector.Hit{ID: "existing", Score: 0.70})

	res, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice visited Berlin once", UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	require.Len(t, res.Results, 1)
}

func TestAddExtractionPath(t *testing.T) {
	fx := newFixture(t, true)

	res, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice told me she works at Initech now", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, []string{"Alice works at Initech"}, res.Facts)
	assert.False(t, res.GraphDegraded)

	// The WORKS_AT edge was merged.
	var merged bool
	for _, batch := range fx.graph.writes {
		for _, stmt := range batch {
			if strings.Contains(stmt.Cypher, "WORKS_AT") {
				merged = true
				assert.Equal(t, "alice", stmt.Params["source"])
				assert.Equal(t, "initech", stmt.Params["target"])
			}
		}
	}
	assert.True(t, merged, "relation projected into graph")
}

func TestAddGraphDownDegrades(t *testing.T) {
	fx := newFixture(t, true)
	fx.graph.down = true

	res, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice told me she works at Initech now", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.GraphDegraded)
	assert.NotEmpty(t, res.Results, "vector write still lands")
}

func TestAddPostCommitTasks(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice moved to Berlin", UserID: "u1", AgentID: "main"})
	require.NoError(t, err)
	assert.Contains(t, fx.tasks.names, "normalize_relationships")
	// No episode recorder wired in this fixture.
	assert.NotContains(t, fx.tasks.names, "generate_links", "link generation off by default")
}

func TestAddRejectsEmpty(t *testing.T) {
	fx := newFixture(t, false)
	_, err := fx.svc.Add(context.Background(), AddRequest{Text: "   ", UserID: "u1"})
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = fx.svc.Add(context.Background(), AddRequest{Text: "hello", UserID: ""})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestAddDirectHashReject(t *testing.T) {
	fx := newFixture(t, false)

	first, err := fx.svc.AddDirect(context.Background(), AddRequest{Text: "Bob owns a 2024 4Runner", UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	// Clear the recents ring so the scroll-based hash check does the
	// work.
	fx.svc.recents = newRecentsCache()

	second, err := fx.svc.AddDirect(context.Background(), AddRequest{Text: "Bob owns a 2024 4Runner", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Results[0], second.ExistingID)
}

func TestAddDirectSemanticReject(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.queueHits(vector.Hit{ID: "near", Score: 0.93})

	res, err := fx.svc.AddDirect(context.Background(), AddRequest{Text: "Bob drives a 4Runner", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Deduplicated)
	assert.Equal(t, "near", res.ExistingID)
}

func TestAddDirectBelowDirectThresholdInserts(t *testing.T) {
	fx := newFixture(t, false)
	// 0.87 clears the Add threshold but not the AddDirect one.
	fx.vectors.queueHits(vector.Hit{ID: "near", Score: 0.87})

	res, err := fx.svc.AddDirect(context.Background(), AddRequest{Text: "Bob drives a 4Runner", UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, res.Deduplicated)
	require.Len(t, res.Results, 1)
}

func TestAddBatch(t *testing.T) {
	fx := newFixture(t, false)

	res, err := fx.svc.AddBatch(context.Background(), []string{
		"Bob owns a 4Runner",
		"",
		"Bob lives in Austin",
	}, AddRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.IDs, 2)
	assert.Len(t, fx.vectors.points, 2)
}

func TestImportJoinsTriples(t *testing.T) {
	fx := newFixture(t, false)

	res, err := fx.svc.Import(context.Background(), []ImportFact{
		{Subject: "Alice", Predicate: "WORKS_AT", Object: "Initech", Confidence: 0.95},
		{Subject: "", Predicate: "OWNS", Object: "car"},
	}, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	assert.Equal(t, 1, res.Skipped)

	var stored vector.Point
	for _, p := range fx.vectors.points {
		stored = p
	}
	assert.Equal(t, "Alice works at Initech", stored.Payload["full_text"])
	assert.Equal(t, "import", stored.Payload["source"])
	assert.Equal(t, 0.95, stored.Payload["confidence"])
}

func TestImportAbortsAfterConsecutiveErrors(t *testing.T) {
	fx := newFixture(t, false)
	fx.vectors.down = true

	facts := make([]ImportFact, 15)
	for i := range facts {
		facts[i] = ImportFact{Subject: fmt.Sprintf("s%d", i), Predicate: "RELATES_TO", Object: fmt.Sprintf("o%d", i)}
	}
	res, err := fx.svc.Import(context.Background(), facts, "u1")
	require.NoError(t, err)
	assert.Zero(t, res.Imported)
	// 10 consecutive failures plus the abort marker.
	assert.Len(t, res.Errors, maxConsecutiveImportErrors+1)
}

func TestDeleteMemoryForgetsRecents(t *testing.T) {
	fx := newFixture(t, false)

	res, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice moved to Berlin", UserID: "u1"})
	require.NoError(t, err)
	id := res.Results[0]

	require.NoError(t, fx.svc.DeleteMemory(context.Background(), id))

	// Re-adding the same text must not dedup against the deleted id.
	again, err := fx.svc.Add(context.Background(), AddRequest{Text: "Alice moved to Berlin", UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, again.Deduplicated)
}

func TestImportFileJSONL(t *testing.T) {
	fx := newFixture(t, false)
	path := filepath.Join(t.TempDir(), "memories.jsonl")
	lines := strings.Join([]string{
		`{"text": "Bob owns a 4Runner", "source": "backup"}`,
		`not json at all`,
		`{"text": "Bob lives in Austin"}`,
		``,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	res, err := fx.svc.ImportFile(context.Background(), path, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Len(t, res.Errors, 1)
	assert.Len(t, fx.vectors.points, 2)
}

// fakeShortlister returns a canned candidate list and records
// rebuilds.
type fakeShortlister struct {
	candidates []string
	count      int
	rebuilds   int
}

func (f *fakeShortlister) ReplaceAll(ctx context.Context, names []string) error {
	f.rebuilds++
	f.count = len(names)
	return nil
}

func (f *fakeShortlister) Shortlist(ctx context.Context, term string, limit int) ([]string, error) {
	return f.candidates, nil
}

func (f *fakeShortlister) Count() int { return f.count }

func TestResolveCanonicalUsesShortlist(t *testing.T) {
	fx := newFixture(t, false)

	canonicals := make([]string, shortlistMinCanonicals)
	for i := range canonicals {
		canonicals[i] = fmt.Sprintf("filler %d", i)
	}
	canonicals[0] = "acme corporation"

	sl := &fakeShortlister{candidates: []string{"acme corporation"}}
	fx.svc.SetShortlist(sl)

	resolved, ok := fx.svc.resolveCanonical(context.Background(), "Acme Corporation", canonicals)
	require.True(t, ok)
	assert.Equal(t, "acme corporation", resolved)
	assert.Equal(t, 1, sl.rebuilds)

	// The index is only rebuilt when the registry size changes.
	_, _ = fx.svc.resolveCanonical(context.Background(), "Acme Corporation", canonicals)
	assert.Equal(t, 1, sl.rebuilds)
}

func TestResolveCanonicalSmallRegistrySkipsShortlist(t *testing.T) {
	fx := newFixture(t, false)
	sl := &fakeShortlister{}
	fx.svc.SetShortlist(sl)

	resolved, ok := fx.svc.resolveCanonical(context.Background(), "Acme Corporation", []string{"acme corporation"})
	require.True(t, ok)
	assert.Equal(t, "acme corporation", resolved)
	assert.Zero(t, sl.rebuilds)
}

func TestContentHashNormalizes(t *testing.T) {
	assert.Equal(t, ContentHash("  Hello World  "), ContentHash("hello world"))
	assert.NotEqual(t, ContentHash("hello"), ContentHash("world"))
}
