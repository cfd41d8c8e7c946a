package analytics

import (
	"context"
	"fmt"
)

// ExportNode is one node in a graph export.
type ExportNode struct {
	Name      string  `json:"name"`
	PageRank  float64 `json:"pagerank"`
	Community int     `json:"community"`
}

// ExportEdge is one edge in a graph export.
type ExportEdge struct {
	From string `json:"from"`
	Type string `json:"type"`
	To   string `json:"to"`
}

// Export is the /graph/export payload.
type Export struct {
	Mode  string       `json:"mode"`
	Nodes []ExportNode `json:"nodes"`
	Edges []ExportEdge `json:"edges"`
}

// GraphExport renders a slice of the graph: the top-ranked nodes, one
// community, or everything (capped).
func (s *Service) GraphExport(ctx context.Context, mode string, limit, community int) (*Export, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}
	if limit <= 0 || limit > 2000 {
		limit = 100
	}

	p, err := loadProjection(ctx, s.graph)
	if err != nil {
		return nil, ErrUnavailable
	}
	ranks := p.PageRank()
	p.Louvain()

	keep := map[int]bool{}
	switch mode {
	case "top", "":
		mode = "top"
		for _, i := range topBy(ranks, limit) {
			keep[i] = true
		}
	case "community":
		for i := 0; i < p.Size(); i++ {
			if p.CommunityOf(i) == community {
				keep[i] = true
			}
		}
	case "all":
		for i := 0; i < p.Size() && i < limit; i++ {
			keep[i] = true
		}
	default:
		return nil, fmt.Errorf("unknown export mode %q", mode)
	}

	export := &Export{Mode: mode, Nodes: []ExportNode{}, Edges: []ExportEdge{}}
	for i := range keep {
		export.Nodes = append(export.Nodes, ExportNode{
			Name:      p.Name(i),
			PageRank:  p.PageRankOf(i),
			Community: p.CommunityOf(i),
		})
	}
	for _, e := range p.edges {
		if keep[e.From] && keep[e.To] {
			export.Edges = append(export.Edges, ExportEdge{
				From: p.Name(e.From), Type: e.Type, To: p.Name(e.To),
			})
		}
	}
	return export, nil
}
