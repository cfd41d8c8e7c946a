// Package analytics runs graph analysis over an in-memory projection
// of the property graph: PageRank, Louvain communities, Jaccard dedup
// candidates, serendipitous discovery and path exploration. The
// projection is rebuilt from the graph on every invocation; results
// optionally flow back as node properties so retrieval can weight by
// them.
package analytics

import (
	"context"
	"sort"
)

// Projection is a snapshot of the entity graph.
type Projection struct {
	names []string
	index map[string]int

	out [][]int // directed adjacency
	und [][]int // undirected, deduplicated

	edges []Edge

	pagerank  []float64
	community []int
}

// Edge is one directed relationship in the projection.
type Edge struct {
	From int
	To   int
	Type string
}

// NewProjection builds an empty projection.
func NewProjection() *Projection {
	return &Projection{index: make(map[string]int)}
}

// AddNode registers a node and returns its index.
func (p *Projection) AddNode(name string) int {
	if i, ok := p.index[name]; ok {
		return i
	}
	i := len(p.names)
	p.index[name] = i
	p.names = append(p.names, name)
	p.out = append(p.out, nil)
	p.und = append(p.und, nil)
	return i
}

// AddEdge registers a directed edge, ignoring self-loops.
func (p *Projection) AddEdge(from, to, relType string) {
	f := p.AddNode(from)
	t := p.AddNode(to)
	if f == t {
		return
	}
	p.edges = append(p.edges, Edge{From: f, To: t, Type: relType})
	p.out[f] = append(p.out[f], t)
	if !containsInt(p.und[f], t) {
		p.und[f] = append(p.und[f], t)
	}
	if !containsInt(p.und[t], f) {
		p.und[t] = append(p.und[t], f)
	}
}

// Size returns the node count.
func (p *Projection) Size() int { return len(p.names) }

// Name returns the node name at index i.
func (p *Projection) Name(i int) string { return p.names[i] }

// Lookup returns the index of a node name.
func (p *Projection) Lookup(name string) (int, bool) {
	i, ok := p.index[name]
	return i, ok
}

// Degree returns the undirected degree of node i.
func (p *Projection) Degree(i int) int { return len(p.und[i]) }

// Neighbors returns the undirected neighbors of node i.
func (p *Projection) Neighbors(i int) []int { return p.und[i] }

// PageRankOf returns the stored score, 0 before Analyze.
func (p *Projection) PageRankOf(i int) float64 {
	if p.pagerank == nil {
		return 0
	}
	return p.pagerank[i]
}

// CommunityOf returns the stored community, -1 before Analyze.
func (p *Projection) CommunityOf(i int) int {
	if p.community == nil {
		return -1
	}
	return p.community[i]
}

// distancesFrom runs a BFS over the undirected projection from a set
// of sources, returning hop counts (-1 for unreachable).
func (p *Projection) distancesFrom(sources []int) []int {
	dist := make([]int, p.Size())
	for i := range dist {
		dist[i] = -1
	}
	queue := make([]int, 0, len(sources))
	for _, s := range sources {
		if dist[s] == -1 {
			dist[s] = 0
			queue = append(queue, s)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range p.und[cur] {
			if dist[nb] == -1 {
				dist[nb] = dist[cur] + 1
				queue = append(queue, nb)
			}
		}
	}
	return dist
}

// Graph is the gateway slice analytics needs; the same shape the
// temporal engine uses.
type Graph interface {
	Available(ctx context.Context) bool
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	WriteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// loadProjection rebuilds the projection from the property graph.
func loadProjection(ctx context.Context, g Graph) (*Projection, error) {
	p := NewProjection()

	nodeRows, err := g.Read(ctx, `MATCH (n:Entity) RETURN n.name AS name`, nil)
	if err != nil {
		return nil, err
	}
	for _, row := range nodeRows {
		if name, ok := row["name"].(string); ok && name != "" {
			p.AddNode(name)
		}
	}

	edgeRows, err := g.Read(ctx, `
		MATCH (a:Entity)-[r]->(b:Entity)
		WHERE NOT type(r) IN ['MENTIONS', 'PRODUCED', 'HAS_FORESIGHT']
		RETURN a.name AS from, type(r) AS type, b.name AS to`, nil)
	if err != nil {
		return nil, err
	}
	for _, row := range edgeRows {
		from, _ := row["from"].(string)
		to, _ := row["to"].(string)
		relType, _ := row["type"].(string)
		if from == "" || to == "" {
			continue
		}
		p.AddEdge(from, to, relType)
	}
	return p, nil
}

// topBy returns the indexes of the k largest scores, descending.
func topBy(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	return idx
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
