package analytics

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aletheia-memory-sidecar/internal/llm"
)

// ErrUnavailable marks graph downtime.
var ErrUnavailable = errors.New("graph unavailable")

const (
	// jaccardThreshold marks neighbor-set overlap high enough to call
	// two entities duplicates.
	jaccardThreshold = 0.8
	// jaccardMaxNodes bounds the pairwise comparison.
	jaccardMaxNodes = 200
	// writeBackBatch is the UNWIND batch size for score write-back.
	writeBackBatch = 500

	// defaultNoveltyWeight balances relevance against novelty in
	// discovery.
	defaultNoveltyWeight = 0.5
	// minSerendipity filters discovery results.
	minSerendipity = 0.1
)

// Service runs the analytics suite.
type Service struct {
	graph  Graph
	llm    func() llm.Client // nil-returning when no backend
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires analytics to the graph. llmClient may return nil;
// discovery then skips annotation.
func NewService(g Graph, llmClient func() llm.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if llmClient == nil {
		llmClient = func() llm.Client { return nil }
	}
	return &Service{graph: g, llm: llmClient, logger: logger.Named("analytics"), now: time.Now}
}

// AnalyzeResult summarizes one analysis pass.
type AnalyzeResult struct {
	Nodes           int            `json:"nodes"`
	Edges           int            `json:"edges"`
	Communities     int            `json:"communities"`
	TopEntities     []ScoredEntity `json:"top_entities"`
	DedupCandidates [][2]string    `json:"dedup_candidates,omitempty"`
	CommunitySizes  map[string]int `json:"community_sizes"`
	StoredScores    bool           `json:"stored_scores"`
}

// ScoredEntity pairs a name with its PageRank and community.
type ScoredEntity struct {
	Name      string  `json:"name"`
	PageRank  float64 `json:"pagerank"`
	Community int     `json:"community"`
}

// Analyze rebuilds the projection, runs PageRank and Louvain, surfaces
// Jaccard dedup candidates, and optionally writes scores back.
func (s *Service) Analyze(ctx context.Context, storeScores bool) (*AnalyzeResult, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}
	start := s.now()

	p, err := loadProjection(ctx, s.graph)
	if err != nil {
		return nil, ErrUnavailable
	}

	ranks := p.PageRank()
	communities := p.Louvain()

	result := &AnalyzeResult{
		Nodes:          p.Size(),
		Edges:          len(p.edges),
		CommunitySizes: make(map[string]int),
	}

	seen := make(map[int]bool)
	for _, c := range communities {
		if c >= 0 {
			result.CommunitySizes[fmt.Sprintf("%d", c)]++
			if !seen[c] {
				seen[c] = true
				result.Communities++
			}
		}
	}

	for _, i := range topBy(ranks, 10) {
		result.TopEntities = append(result.TopEntities, ScoredEntity{
			Name:      p.Name(i),
			PageRank:  ranks[i],
			Community: communities[i],
		})
	}

	for _, pair := range p.JaccardPairs(jaccardThreshold, jaccardMaxNodes) {
		result.DedupCandidates = append(result.DedupCandidates,
			[2]string{p.Name(pair[0]), p.Name(pair[1])})
	}

	if storeScores {
		if err := s.writeBackScores(ctx, p); err != nil {
			s.logger.Warn("Score write-back failed", zap.Error(err))
		} else {
			result.StoredScores = true
		}
	}

	s.logger.Info("Graph analysis complete",
		zap.Int("nodes", result.Nodes),
		zap.Int("edges", result.Edges),
		zap.Int("communities", result.Communities),
		zap.Duration("duration", s.now().Sub(start)))
	return result, nil
}

// writeBackScores persists pagerank and community properties in UNWIND
// batches.
func (s *Service) writeBackScores(ctx context.Context, p *Projection) error {
	type row struct {
		Name      string  `json:"name"`
		PageRank  float64 `json:"pagerank"`
		Community int     `json:"community"`
	}
	rows := make([]map[string]any, 0, p.Size())
	for i := 0; i < p.Size(); i++ {
		rows = append(rows, map[string]any{
			"name":      p.Name(i),
			"pagerank":  p.PageRankOf(i),
			"community": p.CommunityOf(i),
		})
	}

	for start := 0; start < len(rows); start += writeBackBatch {
		end := start + writeBackBatch
		if end > len(rows) {
			end = len(rows)
		}
		_, err := s.graph.WriteRead(ctx, `
			UNWIND $rows AS row
			MATCH (n:Entity {name: row.name})
			SET n.pagerank = row.pagerank, n.community = row.community
			RETURN count(n) AS updated`,
			map[string]any{"rows": rows[start:end]})
		if err != nil {
			return err
		}
	}
	return nil
}

// Discovery is one serendipitous find.
type Discovery struct {
	Entity      string   `json:"entity"`
	Serendipity float64  `json:"serendipity"`
	Relevance   float64  `json:"relevance"`
	Novelty     float64  `json:"novelty"`
	Community   int      `json:"community"`
	Distance    int      `json:"distance"`
	Neighbors   []string `json:"neighbors,omitempty"`
	Insight     string   `json:"insight,omitempty"`
}

// Discover finds entities related to the topic but living far from its
// communities. serendipity = (1-w)*relevance + w*novelty.
func (s *Service) Discover(ctx context.Context, topic string, noveltyWeight float64, maxResults int) ([]Discovery, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}
	if noveltyWeight <= 0 || noveltyWeight > 1 {
		noveltyWeight = defaultNoveltyWeight
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	p, err := loadProjection(ctx, s.graph)
	if err != nil {
		return nil, ErrUnavailable
	}
	if p.Size() == 0 {
		return []Discovery{}, nil
	}
	p.PageRank()
	p.Louvain()

	home := s.homeNodes(p, topic)
	if len(home) == 0 {
		return []Discovery{}, nil
	}

	homeCommunities := map[int]bool{}
	for _, h := range home {
		homeCommunities[p.CommunityOf(h)] = true
	}
	if len(homeCommunities) == 0 {
		homeCommunities[-1] = true
	}

	maxRank := 0.0
	for i := 0; i < p.Size(); i++ {
		if r := p.PageRankOf(i); r > maxRank {
			maxRank = r
		}
	}
	if maxRank == 0 {
		maxRank = 1
	}

	dist := p.distancesFrom(home)
	homeSet := map[int]bool{}
	for _, h := range home {
		homeSet[h] = true
	}

	results := make([]Discovery, 0, 32)
	for i := 0; i < p.Size(); i++ {
		if homeSet[i] || dist[i] <= 0 {
			continue
		}
		relevance := 1.0 / float64(1+dist[i])

		community := p.CommunityOf(i)
		crossCommunity := 0.3
		if community >= 0 && !homeCommunities[community] {
			crossCommunity = 1.0
		}
		obscurity := 1.0 - p.PageRankOf(i)/maxRank
		novelty := 0.6*crossCommunity + 0.4*obscurity
		serendipity := (1-noveltyWeight)*relevance + noveltyWeight*novelty

		if serendipity <= minSerendipity || relevance <= 0 {
			continue
		}

		d := Discovery{
			Entity:      p.Name(i),
			Serendipity: serendipity,
			Relevance:   relevance,
			Novelty:     novelty,
			Community:   community,
			Distance:    dist[i],
		}
		for _, nb := range p.Neighbors(i) {
			d.Neighbors = append(d.Neighbors, p.Name(nb))
			if len(d.Neighbors) >= 5 {
				break
			}
		}
		results = append(results, d)
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Serendipity > results[b].Serendipity
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	s.annotate(ctx, topic, results)
	return results, nil
}

// homeNodes locates the topic in the projection: case-insensitive
// substring first, shared-token overlap as fallback.
func (s *Service) homeNodes(p *Projection, topic string) []int {
	needle := strings.ToLower(strings.TrimSpace(topic))
	if needle == "" {
		return nil
	}

	var home []int
	for i := 0; i < p.Size(); i++ {
		name := strings.ToLower(p.Name(i))
		if strings.Contains(name, needle) || strings.Contains(needle, name) {
			home = append(home, i)
		}
	}
	if len(home) > 0 {
		return home
	}

	// Fallback: any shared token.
	tokens := strings.Fields(needle)
	for i := 0; i < p.Size(); i++ {
		name := strings.ToLower(p.Name(i))
		for _, tok := range tokens {
			if len(tok) > 2 && strings.Contains(name, tok) {
				home = append(home, i)
				break
			}
		}
	}
	return home
}

// annotate asks the LLM for a one-line insight on the top results.
// Failure or absence of a backend simply leaves Insight empty.
func (s *Service) annotate(ctx context.Context, topic string, results []Discovery) {
	client := s.llm()
	if client == nil || len(results) == 0 {
		return
	}
	top := results
	if len(top) > 5 {
		top = top[:5]
	}
	for i := range top {
		prompt := fmt.Sprintf(
			"In one sentence, what non-obvious connection might %q have to %q? Answer with the sentence only.",
			top[i].Entity, topic)
		annCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		out, err := client.Complete(annCtx, llm.Request{
			Prompt: prompt, MaxTokens: 512, Temperature: 0.7,
		})
		cancel()
		if err != nil {
			s.logger.Debug("Discovery annotation failed", zap.Error(err))
			return
		}
		results[i].Insight = strings.TrimSpace(out)
	}
}

// Path is one explored route through the graph.
type Path struct {
	Nodes                []string `json:"nodes"`
	Relationships        []string `json:"relationships"`
	Length               int      `json:"length"`
	Kind                 string   `json:"kind"` // shortest | detour | exploration
	CommunitiesTraversed []int    `json:"communities_traversed"`
}

// ExplorePaths finds routes from source to target (all shortest plus
// one random detour), or ranks reachable nodes by
// cross_community * distance when no target is given.
func (s *Service) ExplorePaths(ctx context.Context, source, target string, maxDepth, maxPaths int) ([]Path, error) {
	if !s.graph.Available(ctx) {
		return nil, ErrUnavailable
	}
	if maxDepth <= 0 || maxDepth > 8 {
		maxDepth = 4
	}
	if maxPaths <= 0 || maxPaths > 20 {
		maxPaths = 5
	}

	p, err := loadProjection(ctx, s.graph)
	if err != nil {
		return nil, ErrUnavailable
	}
	p.Louvain()

	src, ok := p.Lookup(strings.ToLower(strings.TrimSpace(source)))
	if !ok {
		return []Path{}, nil
	}

	if target != "" {
		dst, ok := p.Lookup(strings.ToLower(strings.TrimSpace(target)))
		if !ok {
			return []Path{}, nil
		}
		return s.pathsBetween(p, src, dst, maxDepth, maxPaths), nil
	}
	return s.explore(p, src, maxDepth, maxPaths), nil
}

// pathsBetween collects all shortest paths plus one random longer
// simple path labeled detour.
func (s *Service) pathsBetween(p *Projection, src, dst, maxDepth, maxPaths int) []Path {
	shortest := allShortestPaths(p, src, dst, maxDepth, maxPaths)
	paths := make([]Path, 0, len(shortest)+1)
	for _, nodes := range shortest {
		paths = append(paths, s.renderPath(p, nodes, "shortest"))
	}

	shortestLen := 0
	if len(shortest) > 0 {
		shortestLen = len(shortest[0]) - 1
	}
	rng := rand.New(rand.NewSource(s.now().UnixNano()))
	if detour := randomSimplePath(p, src, dst, maxDepth, shortestLen, rng); detour != nil {
		paths = append(paths, s.renderPath(p, detour, "detour"))
	}
	return paths
}

// explore ranks reachable nodes by cross_community * distance.
func (s *Service) explore(p *Projection, src, maxDepth, maxPaths int) []Path {
	dist := p.distancesFrom([]int{src})
	srcCommunity := p.CommunityOf(src)

	type candidate struct {
		node  int
		score float64
	}
	var candidates []candidate
	for i := 0; i < p.Size(); i++ {
		if i == src || dist[i] <= 0 || dist[i] > maxDepth {
			continue
		}
		cross := 0.3
		if c := p.CommunityOf(i); c >= 0 && c != srcCommunity {
			cross = 1.0
		}
		candidates = append(candidates, candidate{node: i, score: cross * float64(dist[i])})
	}
	sort.Slice(candidates, func(a, b int) bool { return candidates[a].score > candidates[b].score })
	if len(candidates) > maxPaths {
		candidates = candidates[:maxPaths]
	}

	paths := make([]Path, 0, len(candidates))
	for _, c := range candidates {
		if nodes := onePathTo(p, src, c.node, dist); nodes != nil {
			paths = append(paths, s.renderPath(p, nodes, "exploration"))
		}
	}
	return paths
}

func (s *Service) renderPath(p *Projection, nodes []int, kind string) Path {
	path := Path{Kind: kind, Length: len(nodes) - 1}
	seenComm := map[int]bool{}
	for _, n := range nodes {
		path.Nodes = append(path.Nodes, p.Name(n))
		if c := p.CommunityOf(n); c >= 0 && !seenComm[c] {
			seenComm[c] = true
			path.CommunitiesTraversed = append(path.CommunitiesTraversed, c)
		}
	}
	for i := 0; i+1 < len(nodes); i++ {
		path.Relationships = append(path.Relationships, edgeLabel(p, nodes[i], nodes[i+1]))
	}
	return path
}

// edgeLabel finds a relationship type between two adjacent nodes in
// either direction.
func edgeLabel(p *Projection, a, b int) string {
	for _, e := range p.edges {
		if (e.From == a && e.To == b) || (e.From == b && e.To == a) {
			return e.Type
		}
	}
	return "RELATES_TO"
}
