// Package graph provides the ordering graph used to sort extensions.
//
// Nodes are identified by string IDs and remember their declaration index.
// An edge u -> v means u must come before v. Edges that would close a cycle
// are rejected at insertion time, so the graph is always acyclic and a
// topological order always exists.
package graph

import (
	"container/heap"
	"fmt"
	"sync"
)

// Graph is a declaration-ordered DAG.
type Graph struct {
	mu sync.RWMutex

	ids   []string       // declaration order
	index map[string]int // id -> declaration index
	succ  [][]int        // adjacency list: index -> successors
	pred  [][]int        // reverse adjacency: index -> predecessors

	// Cache for performance
	sorted      []string
	sortedDirty bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		index:       make(map[string]int),
		sortedDirty: true,
	}
}

// AddNode appends a node. Its declaration index is the number of nodes
// added before it.
func (g *Graph) AddNode(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.index[id]; exists {
		return DuplicateNodeError{ID: id}
	}

	g.index[id] = len(g.ids)
	g.ids = append(g.ids, id)
	g.succ = append(g.succ, nil)
	g.pred = append(g.pred, nil)
	g.sortedDirty = true

	return nil
}

// AddEdge records that from must precede to.
//
// If the edge would close a cycle it is not added and a CycleError
// describing the existing path from to back to from is returned.
func (g *Graph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.index[from]
	if !ok {
		return UnknownNodeError{ID: from}
	}
	t, ok := g.index[to]
	if !ok {
		return UnknownNodeError{ID: to}
	}

	if f == t {
		return CycleError{From: from, To: to, Path: []string{from}}
	}

	for _, s := range g.succ[f] {
		if s == t {
			return nil
		}
	}

	if path := g.pathLocked(t, f); path != nil {
		return CycleError{From: from, To: to, Path: path}
	}

	g.succ[f] = append(g.succ[f], t)
	g.pred[t] = append(g.pred[t], f)
	g.sortedDirty = true

	return nil
}

// Reaches reports whether a path from -> ... -> to exists.
func (g *Graph) Reaches(from, to string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.index[from]
	if !ok {
		return false
	}
	t, ok := g.index[to]
	if !ok {
		return false
	}

	return g.pathLocked(f, t) != nil
}

// pathLocked returns the IDs on a path from -> to, or nil if there is none.
func (g *Graph) pathLocked(from, to int) []string {
	if from == to {
		return []string{g.ids[from]}
	}

	parent := make(map[int]int)
	parent[from] = -1
	queue := []int{from}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, next := range g.succ[current] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = current

			if next == to {
				var rev []string
				for p := next; p != -1; p = parent[p] {
					rev = append(rev, g.ids[p])
				}
				path := make([]string, len(rev))
				for i := range rev {
					path[i] = rev[len(rev)-1-i]
				}
				return path
			}

			queue = append(queue, next)
		}
	}

	return nil
}

// TopologicalSort returns every node in an order that satisfies all edges.
// Among nodes that are free at the same time the lowest declaration index
// comes first, so an edge-less graph sorts in declaration order.
func (g *Graph) TopologicalSort() []string {
	g.mu.RLock()
	if !g.sortedDirty && g.sorted != nil {
		result := make([]string, len(g.sorted))
		copy(result, g.sorted)
		g.mu.RUnlock()
		return result
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Kahn's algorithm with a min-heap on declaration index.
	inDegree := make([]int, len(g.ids))
	for i := range g.ids {
		inDegree[i] = len(g.pred[i])
	}

	ready := &indexHeap{}
	for i, d := range inDegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	result := make([]string, 0, len(g.ids))
	for ready.Len() > 0 {
		current := heap.Pop(ready).(int)
		result = append(result, g.ids[current])

		for _, next := range g.succ[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}

	g.sorted = result
	g.sortedDirty = false

	out := make([]string, len(result))
	copy(out, result)
	return out
}

// Successors returns the nodes that must come after id.
func (g *Graph) Successors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[id]
	if !ok {
		return nil
	}

	out := make([]string, 0, len(g.succ[i]))
	for _, s := range g.succ[i] {
		out = append(out, g.ids[s])
	}
	return out
}

// HasNode checks if a node exists in the graph.
func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.index[id]
	return ok
}

// Size returns the number of nodes in the graph.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.ids)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, s := range g.succ {
		n += len(s)
	}
	return n
}

// String returns a short description of the graph.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph{nodes:%d, edges:%d}", g.Size(), g.EdgeCount())
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x any) {
	*h = append(*h, x.(int))
}

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
