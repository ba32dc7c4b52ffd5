// Package disposer implements the ownership forest used to cascade teardown.
//
// Every Node may own children. Disposing a node first disposes its children
// in reverse registration order, then runs the node's own teardown exactly
// once. State only ever moves Active -> Disposing -> Disposed.
package disposer

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// State is the ownership state of a Node.
type State int32

const (
	// Active nodes accept children and have not started teardown.
	Active State = iota

	// Disposing nodes are tearing down their children or themselves.
	Disposing

	// Disposed nodes have completed teardown.
	Disposed
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Disposing:
		return "Disposing"
	case Disposed:
		return "Disposed"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// linkMu serializes parent/child linking so the ancestor walk in Register
// sees a stable chain. Child lists themselves are guarded per node.
var linkMu sync.Mutex

// Node is an opaque handle in the disposal tree.
type Node struct {
	name     string
	teardown func() error

	state atomic.Int32

	mu       sync.Mutex
	children []*Node

	// guarded by linkMu
	parent *Node

	done chan struct{}
}

// New creates an active, unattached node. teardown may be nil.
func New(name string, teardown func() error) *Node {
	return &Node{
		name:     name,
		teardown: teardown,
		done:     make(chan struct{}),
	}
}

// Name returns the diagnostic name of the node.
func (n *Node) Name() string {
	if n == nil {
		return "<nil>"
	}
	return n.name
}

// State returns the current state of the node.
func (n *Node) State() State {
	return State(n.state.Load())
}

// IsDisposed reports whether teardown has started or completed.
func (n *Node) IsDisposed() bool {
	return n.State() != Active
}

// Done returns a channel closed once the node reaches Disposed.
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Parent returns the owning node, or nil for a root.
func (n *Node) Parent() *Node {
	linkMu.Lock()
	defer linkMu.Unlock()
	return n.parent
}

// Children returns a snapshot of the node's children in registration order.
func (n *Node) Children() []*Node {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// Register attaches child under parent.
//
// It fails with AlreadyDisposedError when either node is no longer active,
// with ErrDisposalCycle when child is parent or one of its ancestors, and
// with ErrAlreadyParented when child already has an owner.
func Register(parent, child *Node) error {
	if parent == nil || child == nil {
		return ErrNilNode
	}

	linkMu.Lock()
	defer linkMu.Unlock()

	for p := parent; p != nil; p = p.parent {
		if p == child {
			return ErrDisposalCycle
		}
	}

	if child.parent != nil {
		return ErrAlreadyParented
	}

	if st := child.State(); st != Active {
		return AlreadyDisposedError{Name: child.name, State: st}
	}

	parent.mu.Lock()
	if st := parent.State(); st != Active {
		parent.mu.Unlock()
		return AlreadyDisposedError{Name: parent.name, State: st}
	}
	parent.children = append(parent.children, child)
	parent.mu.Unlock()

	child.parent = parent
	return nil
}

// Dispose tears down n and everything it owns.
//
// Calling Dispose on a node that is already disposing or disposed is a
// no-op. Teardown failures never stop the cascade; they are collected and
// returned as a single DisposalError once every descendant was visited.
func Dispose(n *Node) error {
	if n == nil {
		return nil
	}

	var errs []error
	n.dispose(&errs)

	if len(errs) > 0 {
		return DisposalError{Name: n.name, Errors: errs}
	}

	return nil
}

func (n *Node) dispose(errs *[]error) {
	n.mu.Lock()
	if n.State() != Active {
		n.mu.Unlock()
		return
	}
	n.state.Store(int32(Disposing))
	n.mu.Unlock()

	// Children are popped one at a time so a child that detaches itself
	// concurrently is never visited twice.
	for {
		n.mu.Lock()
		last := len(n.children) - 1
		if last < 0 {
			n.mu.Unlock()
			break
		}
		child := n.children[last]
		n.children[last] = nil
		n.children = n.children[:last]
		n.mu.Unlock()

		child.dispose(errs)
	}

	if err := n.runTeardown(); err != nil {
		*errs = append(*errs, err)
	}

	n.mu.Lock()
	n.state.Store(int32(Disposed))
	n.teardown = nil
	n.mu.Unlock()

	close(n.done)
	n.detach()
}

func (n *Node) runTeardown() (err error) {
	if n.teardown == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = TeardownError{Name: n.name, Panic: r, Stack: debug.Stack()}
		}
	}()

	if cause := n.teardown(); cause != nil {
		return TeardownError{Name: n.name, Cause: cause}
	}

	return nil
}

// detach removes a disposed node from its owner's child list.
func (n *Node) detach() {
	linkMu.Lock()
	parent := n.parent
	linkMu.Unlock()

	if parent == nil {
		return
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	for i, c := range parent.children {
		if c == n {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			return
		}
	}
}

// String returns a string representation of the node.
func (n *Node) String() string {
	return fmt.Sprintf("Node{%s, %s}", n.name, n.State())
}
