package flowsolver

import "container/heap"

// mcmfResult is the outcome of a min-cost max-flow computation.
type mcmfResult struct {
	Flow       float64
	Cost       float64
	Iterations int
}

// successiveShortestPath computes the min-cost flow from source to sink,
// up to requiredFlow units, using Dijkstra with Johnson's reduced costs
// and reusable node potentials (grounded on the teacher's SSP
// implementation in min_cost_flow.go, generalised to dense int vertices).
//
// Johnson's potentials require an initial Bellman-Ford pass to seed valid
// potentials when the graph has negative-cost edges (as every reverse
// edge does); subsequent iterations only ever add non-negative reduced
// costs, so Dijkstra stays correct.
func successiveShortestPath(g *residualGraph, source, sink int, requiredFlow float64) mcmfResult {
	potential := bellmanFordPotentials(g, source)

	var totalFlow, totalCost float64
	var iterations int

	for totalFlow < requiredFlow-epsilon {
		dist, parentEdge := dijkstraReduced(g, source, potential)
		if dist[sink] == infinity {
			break // sink unreachable: max flow reached
		}

		for v := 0; v < g.numVertices; v++ {
			if dist[v] < infinity {
				potential[v] += dist[v]
			}
		}

		bottleneck := requiredFlow - totalFlow
		for v := sink; v != source; {
			e := parentEdge[v]
			if g.edges[e].capacity < bottleneck {
				bottleneck = g.edges[e].capacity
			}
			v = reverseTarget(g, e)
		}
		if bottleneck <= epsilon {
			break
		}

		for v := sink; v != source; {
			e := parentEdge[v]
			g.pushFlow(e, bottleneck)
			pathCost := g.edges[e].cost
			totalCost += pathCost * bottleneck
			v = reverseTarget(g, e)
		}

		totalFlow += bottleneck
		iterations++
	}

	return mcmfResult{Flow: totalFlow, Cost: totalCost, Iterations: iterations}
}

// reverseTarget returns the vertex the reverse of edge e points at, i.e.
// the predecessor vertex on the augmenting path that used e.
func reverseTarget(g *residualGraph, e int) int {
	return g.edges[reverseOf(e)].to
}

// bellmanFordPotentials seeds Johnson's potentials from source, tolerating
// the negative-cost reverse edges present before any flow has been pushed
// (all of which start at zero capacity and so contribute no usable path,
// but must still be present for correctness of the relaxation).
func bellmanFordPotentials(g *residualGraph, source int) []float64 {
	dist := make([]float64, g.numVertices)
	for i := range dist {
		dist[i] = infinity
	}
	dist[source] = 0

	for i := 0; i < g.numVertices-1; i++ {
		changed := false
		for u := 0; u < g.numVertices; u++ {
			if dist[u] == infinity {
				continue
			}
			for _, e := range g.adjacency[u] {
				if !g.hasResidualCapacity(e) {
					continue
				}
				v := g.edges[e].to
				nd := dist[u] + g.edges[e].cost
				if nd < dist[v]-epsilon {
					dist[v] = nd
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	for i, d := range dist {
		if d == infinity {
			dist[i] = 0
		}
	}
	return dist
}

type heapItem struct {
	vertex int
	dist   float64
}

type distHeap []heapItem

func (h distHeap) Len() int            { return len(h) }
func (h distHeap) Less(i, j int) bool   { return h[i].dist < h[j].dist }
func (h distHeap) Swap(i, j int)        { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *distHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// dijkstraReduced runs Dijkstra using reduced costs cost(u,v) + potential[u]
// - potential[v], which are non-negative whenever potential is a valid
// Johnson potential for the current residual graph.
func dijkstraReduced(g *residualGraph, source int, potential []float64) (dist []float64, parentEdge []int) {
	dist = make([]float64, g.numVertices)
	parentEdge = make([]int, g.numVertices)
	visited := make([]bool, g.numVertices)
	for i := range dist {
		dist[i] = infinity
		parentEdge[i] = -1
	}
	dist[source] = 0

	pq := &distHeap{{vertex: source, dist: 0}}
	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		u := item.vertex
		if visited[u] {
			continue
		}
		visited[u] = true

		for _, e := range g.adjacency[u] {
			if !g.hasResidualCapacity(e) {
				continue
			}
			v := g.edges[e].to
			reduced := g.edges[e].cost + potential[u] - potential[v]
			if reduced < -epsilon {
				// A valid Johnson potential should make every residual
				// edge's reduced cost non-negative; clamp defensively so
				// floating point noise cannot make Dijkstra's invariant
				// unsound.
				reduced = 0
			}
			nd := dist[u] + reduced
			if nd < dist[v]-epsilon {
				dist[v] = nd
				parentEdge[v] = e
				heap.Push(pq, heapItem{vertex: v, dist: nd})
			}
		}
	}
	return dist, parentEdge
}

var _ heap.Interface = (*distHeap)(nil)
