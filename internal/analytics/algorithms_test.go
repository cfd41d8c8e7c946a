package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds a -> b -> c ... as a projection.
func chain(names ...string) *Projection {
	p := NewProjection()
	for i := 0; i+1 < len(names); i++ {
		p.AddEdge(names[i], names[i+1], "RELATES_TO")
	}
	return p
}

func TestPageRankSumsToOne(t *testing.T) {
	p := NewProjection()
	p.AddEdge("a", "b", "KNOWS")
	p.AddEdge("b", "c", "KNOWS")
	p.AddEdge("c", "a", "KNOWS")
	p.AddEdge("d", "a", "KNOWS")

	ranks := p.PageRank()
	sum := 0.0
	for _, r := range ranks {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 1e-6)

	// "a" receives two in-links, "d" none.
	ia, _ := p.Lookup("a")
	id, _ := p.Lookup("d")
	assert.Greater(t, ranks[ia], ranks[id])
}

func TestPageRankEmptyGraph(t *testing.T) {
	assert.Nil(t, NewProjection().PageRank())
}

func TestSelfLoopIgnored(t *testing.T) {
	p := NewProjection()
	p.AddEdge("a", "a", "KNOWS")
	assert.Empty(t, p.edges)
}

func TestLouvainSeparatesCliques(t *testing.T) {
	p := NewProjection()
	// Two triangles joined by one bridge edge.
	p.AddEdge("a1", "a2", "KNOWS")
	p.AddEdge("a2", "a3", "KNOWS")
	p.AddEdge("a3", "a1", "KNOWS")
	p.AddEdge("b1", "b2", "KNOWS")
	p.AddEdge("b2", "b3", "KNOWS")
	p.AddEdge("b3", "b1", "KNOWS")
	p.AddEdge("a1", "b1", "RELATES_TO")
	p.AddNode("isolated")

	communities := p.Louvain()

	get := func(name string) int {
		i, ok := p.Lookup(name)
		require.True(t, ok)
		return communities[i]
	}
	assert.Equal(t, get("a1"), get("a2"))
	assert.Equal(t, get("a2"), get("a3"))
	assert.Equal(t, get("b1"), get("b2"))
	assert.Equal(t, get("b2"), get("b3"))
	assert.NotEqual(t, get("a1"), get("b1"))
	assert.Equal(t, -1, get("isolated"))
}

func TestLouvainDeterministic(t *testing.T) {
	build := func() *Projection {
		p := NewProjection()
		p.AddEdge("x", "y", "KNOWS")
		p.AddEdge("y", "z", "KNOWS")
		p.AddEdge("z", "x", "KNOWS")
		p.AddEdge("u", "v", "KNOWS")
		p.AddEdge("v", "w", "KNOWS")
		p.AddEdge("w", "u", "KNOWS")
		p.AddEdge("x", "u", "RELATES_TO")
		return p
	}
	assert.Equal(t, build().Louvain(), build().Louvain())
}

func TestBetweennessMiddleOfChain(t *testing.T) {
	p := chain("a", "b", "c", "d", "e")
	bc := p.Betweenness()

	ic, _ := p.Lookup("c")
	ia, _ := p.Lookup("a")
	assert.Greater(t, bc[ic], bc[ia])
	assert.Zero(t, bc[ia], "endpoints carry no betweenness")
}

func TestJaccardPairs(t *testing.T) {
	p := NewProjection()
	// twin1 and twin2 share all three neighbors.
	for _, nb := range []string{"n1", "n2", "n3"} {
		p.AddEdge("twin1", nb, "KNOWS")
		p.AddEdge("twin2", nb, "KNOWS")
	}
	p.AddEdge("other", "n1", "KNOWS")

	pairs := p.JaccardPairs(0.8, 200)
	require.Len(t, pairs, 1)
	assert.Equal(t, "twin1", p.Name(pairs[0][0]))
	assert.Equal(t, "twin2", p.Name(pairs[0][1]))
}

func TestAllShortestPaths(t *testing.T) {
	p := NewProjection()
	// Diamond: a-b-d and a-c-d.
	p.AddEdge("a", "b", "KNOWS")
	p.AddEdge("a", "c", "KNOWS")
	p.AddEdge("b", "d", "KNOWS")
	p.AddEdge("c", "d", "KNOWS")

	ia, _ := p.Lookup("a")
	id, _ := p.Lookup("d")
	paths := allShortestPaths(p, ia, id, 4, 10)
	require.Len(t, paths, 2)
	for _, path := range paths {
		assert.Len(t, path, 3)
		assert.Equal(t, ia, path[0])
		assert.Equal(t, id, path[len(path)-1])
	}
}

func TestDistancesFrom(t *testing.T) {
	p := chain("a", "b", "c")
	p.AddNode("island")

	ia, _ := p.Lookup("a")
	dist := p.distancesFrom([]int{ia})

	ic, _ := p.Lookup("c")
	island, _ := p.Lookup("island")
	assert.Equal(t, 2, dist[ic])
	assert.Equal(t, -1, dist[island])
}
