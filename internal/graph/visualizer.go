package graph

import (
	"fmt"
	"io"
	"strings"
)

// Visualizer renders an ordering graph for diagnostics.
type Visualizer struct {
	graph *Graph

	// Labels optionally replaces node IDs in the output.
	Labels map[string]string
}

// NewVisualizer creates a new graph visualizer
func NewVisualizer(graph *Graph) *Visualizer {
	return &Visualizer{graph: graph}
}

// WriteDOT writes the graph in Graphviz DOT format. Nodes are emitted in
// resolved order so the rendering reads top to bottom.
func (v *Visualizer) WriteDOT(w io.Writer) error {
	order := v.graph.TopologicalSort()

	var b strings.Builder
	b.WriteString("digraph order {\n")
	b.WriteString("  rankdir=TB;\n")
	b.WriteString("  node [shape=box];\n")

	for _, id := range order {
		b.WriteString(fmt.Sprintf("  %q [label=%q];\n", id, v.label(id)))
	}

	for _, id := range order {
		for _, next := range v.graph.Successors(id) {
			b.WriteString(fmt.Sprintf("  %q -> %q;\n", id, next))
		}
	}

	b.WriteString("}\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteText writes the resolved order as a numbered list.
func (v *Visualizer) WriteText(w io.Writer) error {
	var b strings.Builder
	for i, id := range v.graph.TopologicalSort() {
		b.WriteString(fmt.Sprintf("%3d. %s", i+1, v.label(id)))
		if next := v.graph.Successors(id); len(next) > 0 {
			b.WriteString(" -> ")
			b.WriteString(strings.Join(next, ", "))
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (v *Visualizer) label(id string) string {
	if l, ok := v.Labels[id]; ok && l != "" {
		return l
	}
	return id
}
