package analytics

import "math/rand"

// allShortestPaths enumerates every shortest path from src to dst up
// to maxDepth hops, capped at maxPaths.
func allShortestPaths(p *Projection, src, dst, maxDepth, maxPaths int) [][]int {
	// BFS building predecessor lists.
	dist := make([]int, p.Size())
	for i := range dist {
		dist[i] = -1
	}
	preds := make([][]int, p.Size())
	dist[src] = 0
	queue := []int{src}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if dist[v] >= maxDepth {
			continue
		}
		for _, w := range p.und[v] {
			if dist[w] == -1 {
				dist[w] = dist[v] + 1
				queue = append(queue, w)
			}
			if dist[w] == dist[v]+1 {
				preds[w] = append(preds[w], v)
			}
		}
	}
	if dist[dst] == -1 {
		return nil
	}

	// Unwind predecessors depth-first.
	var paths [][]int
	var build func(node int, suffix []int)
	build = func(node int, suffix []int) {
		if len(paths) >= maxPaths {
			return
		}
		path := append([]int{node}, suffix...)
		if node == src {
			paths = append(paths, path)
			return
		}
		for _, pr := range preds[node] {
			build(pr, path)
		}
	}
	build(dst, nil)
	return paths
}

// randomSimplePath walks randomly from src toward dst without
// revisiting nodes, accepting only paths strictly longer than
// shortestLen and at most maxDepth hops. A handful of attempts is
// enough; nil means no detour was found.
func randomSimplePath(p *Projection, src, dst, maxDepth, shortestLen int, rng *rand.Rand) []int {
	for attempt := 0; attempt < 10; attempt++ {
		visited := map[int]bool{src: true}
		path := []int{src}
		cur := src
		for len(path)-1 < maxDepth {
			nbs := p.und[cur]
			if len(nbs) == 0 {
				break
			}
			next := -1
			for _, i := range rng.Perm(len(nbs)) {
				if !visited[nbs[i]] {
					next = nbs[i]
					break
				}
			}
			if next == -1 {
				break
			}
			visited[next] = true
			path = append(path, next)
			cur = next
			if cur == dst {
				if len(path)-1 > shortestLen {
					return path
				}
				break
			}
		}
	}
	return nil
}

// onePathTo reconstructs a single shortest path using precomputed BFS
// distances from the source.
func onePathTo(p *Projection, src, dst int, dist []int) []int {
	if dist[dst] <= 0 {
		return nil
	}
	path := []int{dst}
	cur := dst
	for cur != src {
		found := false
		for _, nb := range p.und[cur] {
			if dist[nb] == dist[cur]-1 {
				path = append([]int{nb}, path...)
				cur = nb
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	return path
}
