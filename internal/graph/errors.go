package graph

import (
	"fmt"
	"strings"
)

// CycleError is returned when an edge would close a cycle. Path is the
// existing chain To -> ... -> From that the new edge would loop back over.
type CycleError struct {
	From string
	To   string
	Path []string
}

func (e CycleError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("ordering %q before %q would create a cycle:\n\n", e.From, e.To))

	if len(e.Path) <= 1 {
		b.WriteString(fmt.Sprintf("    %s\n", e.From))
		b.WriteString("      ↓\n")
		b.WriteString(fmt.Sprintf("    %s (cycle)\n", e.From))
		return b.String()
	}

	for i, id := range e.Path {
		b.WriteString(fmt.Sprintf("    %s\n", id))
		if i < len(e.Path)-1 {
			b.WriteString("      ↓\n")
		}
	}
	b.WriteString("      ↓\n")
	b.WriteString(fmt.Sprintf("    %s (cycle)\n", e.Path[0]))

	return b.String()
}

// DuplicateNodeError is returned when a node ID is added twice.
type DuplicateNodeError struct {
	ID string
}

func (e DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %q already exists", e.ID)
}

// UnknownNodeError is returned when an edge references a missing node.
type UnknownNodeError struct {
	ID string
}

func (e UnknownNodeError) Error() string {
	return fmt.Sprintf("node %q does not exist", e.ID)
}
