package foresight

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aletheia-memory-sidecar/internal/store/graph"
)

type fakeGraph struct {
	down   bool
	writes []graph.Statement
	// reads maps a cypher substring to canned rows.
	reads map[string][]map[string]any
}

func (f *fakeGraph) Available(ctx context.Context) bool { return !f.down }

func (f *fakeGraph) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	if f.down {
		return nil, errors.New("neo4j connection refused")
	}
	for key, rows := range f.reads {
		if strings.Contains(cypher, key) {
			return rows, nil
		}
	}
	return nil, nil
}

func (f *fakeGraph) WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	return f.Read(ctx, cypher, params)
}

func (f *fakeGraph) Write(ctx context.Context, stmts ...graph.Statement) error {
	if f.down {
		return errors.New("neo4j connection refused")
	}
	f.writes = append(f.writes, stmts...)
	return nil
}

func testStore(t *testing.T, g *fakeGraph) *Store {
	s := NewStore(g, zaptest.NewLogger(t))
	s.now = func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestAddDefaultsAndNormalizes(t *testing.T) {
	g := &fakeGraph{}
	s := testStore(t, g)

	out, err := s.Add(context.Background(), Signal{Entity: "The Acme Corp", Signal: "contract renewal due"})
	require.NoError(t, err)

	assert.Equal(t, "acme corp", out.Entity)
	assert.Equal(t, "2026-08-26T12:00:00Z", out.Activation)
	assert.Equal(t, 5.0, out.Weight)

	require.Len(t, g.writes, 1)
	assert.Contains(t, g.writes[0].Cypher, "HAS_FORESIGHT")
	assert.Nil(t, g.writes[0].Params["expiry"])
}

func TestAddValidation(t *testing.T) {
	s := testStore(t, &fakeGraph{})

	_, err := s.Add(context.Background(), Signal{Entity: "", Signal: "x"})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = s.Add(context.Background(), Signal{Entity: "a", Signal: "x", Weight: 11})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestAddGraphDown(t *testing.T) {
	s := testStore(t, &fakeGraph{down: true})
	_, err := s.Add(context.Background(), Signal{Entity: "a", Signal: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestActiveOrdersByWeight(t *testing.T) {
	g := &fakeGraph{reads: map[string][]map[string]any{
		"HAS_FORESIGHT": {
			{"entity": "acme", "signal": "renewal", "activation": "2026-08-01T00:00:00Z", "weight": 8.0},
			{"entity": "bob", "signal": "birthday", "activation": "2026-08-20T00:00:00Z", "expiry": "2026-09-01T00:00:00Z", "weight": 3.0},
		},
	}}
	s := testStore(t, g)

	signals, err := s.Active(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, "acme", signals[0].Entity)
	assert.Equal(t, 8.0, signals[0].Weight)
	assert.Equal(t, "2026-09-01T00:00:00Z", signals[1].Expiry)
}

func TestDecayCounts(t *testing.T) {
	g := &fakeGraph{reads: map[string][]map[string]any{
		"SET f.weight": {{"decayed": int64(4)}},
		"DELETE r, f":  {{"removed": int64(1)}},
	}}
	s := testStore(t, g)

	decayed, removed, err := s.Decay(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), decayed)
	assert.Equal(t, int64(1), removed)
}

func TestDecayGraphDown(t *testing.T) {
	s := testStore(t, &fakeGraph{down: true})
	_, _, err := s.Decay(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
