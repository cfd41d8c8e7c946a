package analytics

import (
	"math"
	"math/rand"
)

const (
	pageRankAlpha   = 0.85
	pageRankMaxIter = 100
	pageRankTol     = 1e-6

	// louvainSeed fixes tie-breaking order so community ids are stable
	// across runs on the same graph.
	louvainSeed = 42
)

// PageRank computes scores over the directed projection with uniform
// teleport, handling dangling nodes by spreading their mass.
func (p *Projection) PageRank() []float64 {
	n := p.Size()
	if n == 0 {
		return nil
	}

	rank := make([]float64, n)
	next := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	for iter := 0; iter < pageRankMaxIter; iter++ {
		base := (1 - pageRankAlpha) / float64(n)

		dangling := 0.0
		for i := 0; i < n; i++ {
			if len(p.out[i]) == 0 {
				dangling += rank[i]
			}
		}
		share := pageRankAlpha * dangling / float64(n)

		for i := range next {
			next[i] = base + share
		}
		for i := 0; i < n; i++ {
			if out := p.out[i]; len(out) > 0 {
				contrib := pageRankAlpha * rank[i] / float64(len(out))
				for _, t := range out {
					next[t] += contrib
				}
			}
		}

		delta := 0.0
		for i := range rank {
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		if delta < pageRankTol {
			break
		}
	}

	p.pagerank = rank
	return rank
}

// Louvain assigns communities by modularity optimization on the
// undirected projection. Isolated nodes get community -1.
func (p *Projection) Louvain() []int {
	n := p.Size()
	community := make([]int, n)
	if n == 0 {
		p.community = community
		return community
	}

	// Working graph: starts as the projection, collapses into
	// super-nodes after each level.
	adj := make([]map[int]float64, n)
	for i := 0; i < n; i++ {
		adj[i] = make(map[int]float64, len(p.und[i]))
		for _, nb := range p.und[i] {
			adj[i][nb] += 1
		}
	}
	// membership[i] = index of original node i in the working graph.
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}

	rng := rand.New(rand.NewSource(louvainSeed))

	for level := 0; level < 10; level++ {
		labels, improved := louvainLevel(adj, rng)
		if !improved && level > 0 {
			break
		}
		// Compact labels.
		compact := make(map[int]int)
		for _, l := range labels {
			if _, ok := compact[l]; !ok {
				compact[l] = len(compact)
			}
		}
		for i := range membership {
			membership[i] = compact[labels[membership[i]]]
		}
		if !improved {
			break
		}
		// Aggregate.
		agg := make([]map[int]float64, len(compact))
		for i := range agg {
			agg[i] = make(map[int]float64)
		}
		for i, nbs := range adj {
			ci := compact[labels[i]]
			for j, w := range nbs {
				cj := compact[labels[j]]
				if ci != cj {
					agg[ci][cj] += w
				}
			}
		}
		if len(agg) == len(adj) {
			break
		}
		adj = agg
	}

	// Isolated nodes are community -1; the rest keep compact ids.
	next := 0
	remap := make(map[int]int)
	for i := 0; i < n; i++ {
		if len(p.und[i]) == 0 {
			community[i] = -1
			continue
		}
		c := membership[i]
		if _, ok := remap[c]; !ok {
			remap[c] = next
			next++
		}
		community[i] = remap[c]
	}
	p.community = community
	return community
}

// louvainLevel runs one local-moving pass, returning labels and
// whether any node moved.
func louvainLevel(adj []map[int]float64, rng *rand.Rand) ([]int, bool) {
	n := len(adj)
	labels := make([]int, n)
	degree := make([]float64, n)
	var total float64
	for i := range adj {
		labels[i] = i
		for _, w := range adj[i] {
			degree[i] += w
		}
		total += degree[i]
	}
	if total == 0 {
		return labels, false
	}

	commDegree := make([]float64, n)
	copy(commDegree, degree)

	order := rng.Perm(n)
	improvedAny := false
	for pass := 0; pass < 10; pass++ {
		moved := false
		for _, i := range order {
			if len(adj[i]) == 0 {
				continue
			}
			// Weight from i into each neighboring community.
			weights := make(map[int]float64)
			for j, w := range adj[i] {
				weights[labels[j]] += w
			}

			current := labels[i]
			commDegree[current] -= degree[i]

			best := current
			bestGain := weights[current] - commDegree[current]*degree[i]/total
			for c, w := range weights {
				gain := w - commDegree[c]*degree[i]/total
				if gain > bestGain+1e-12 {
					bestGain = gain
					best = c
				}
			}

			commDegree[best] += degree[i]
			if best != current {
				labels[i] = best
				moved = true
				improvedAny = true
			}
		}
		if !moved {
			break
		}
	}
	return labels, improvedAny
}

// Betweenness computes unweighted betweenness centrality with Brandes'
// algorithm on the undirected projection.
func (p *Projection) Betweenness() []float64 {
	n := p.Size()
	bc := make([]float64, n)

	for s := 0; s < n; s++ {
		stack := make([]int, 0, n)
		preds := make([][]int, n)
		sigma := make([]float64, n)
		dist := make([]int, n)
		for i := range dist {
			dist[i] = -1
		}
		sigma[s] = 1
		dist[s] = 0

		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range p.und[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		delta := make([]float64, n)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				bc[w] += delta[w]
			}
		}
	}

	// Undirected: each pair counted twice.
	for i := range bc {
		bc[i] /= 2
	}
	return bc
}

// JaccardPairs returns node pairs whose undirected neighbor sets
// overlap above the threshold. Only the first maxNodes nodes are
// considered to bound the quadratic cost.
func (p *Projection) JaccardPairs(threshold float64, maxNodes int) [][2]int {
	n := p.Size()
	if n > maxNodes {
		n = maxNodes
	}

	sets := make([]map[int]bool, n)
	for i := 0; i < n; i++ {
		sets[i] = make(map[int]bool, len(p.und[i]))
		for _, nb := range p.und[i] {
			sets[i][nb] = true
		}
	}

	var pairs [][2]int
	for i := 0; i < n; i++ {
		if len(sets[i]) == 0 {
			continue
		}
		for j := i + 1; j < n; j++ {
			if len(sets[j]) == 0 {
				continue
			}
			inter := 0
			for nb := range sets[i] {
				if sets[j][nb] {
					inter++
				}
			}
			union := len(sets[i]) + len(sets[j]) - inter
			if union > 0 && float64(inter)/float64(union) > threshold {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}
