package kernel

import (
	"github.com/plugkit/kernel/internal/disposer"
)

// Disposable is implemented by instances that own resources. A container
// closes every Disposable instance it constructed when it is disposed.
//
// Example:
//
//	type DatabaseConnection struct {
//	    conn *sql.DB
//	}
//
//	func (dc *DatabaseConnection) Close() error {
//	    return dc.conn.Close()
//	}
type Disposable interface {
	Close() error
}

// Node is a handle in the disposal tree. Disposing a node disposes its
// children in reverse registration order and then runs its own teardown.
type Node = disposer.Node

// State is the disposal state of a Node.
type State = disposer.State

// Disposal states.
const (
	Active    = disposer.Active
	Disposing = disposer.Disposing
	Disposed  = disposer.Disposed
)

// NewNode creates an unattached node. teardown may be nil; name is used in
// errors and logs.
func NewNode(name string, teardown func() error) *Node {
	return disposer.New(name, teardown)
}

// Register makes parent the owner of child. It fails when parent is
// disposing or disposed, when child already has an owner, or when child is
// parent or one of its ancestors.
func Register(parent, child *Node) error {
	return disposer.Register(parent, child)
}

// Dispose disposes n and everything it owns. Calling it on a node that is
// already disposing or disposed is a no-op.
func Dispose(n *Node) error {
	return disposer.Dispose(n)
}

// IsNodeDisposed reports whether n is disposing or disposed.
func IsNodeDisposed(n *Node) bool {
	return n.IsDisposed()
}

// NewDisposable creates a node with the given teardown and registers it
// under parent in one step.
func NewDisposable(parent *Node, name string, teardown func() error) (*Node, error) {
	n := disposer.New(name, teardown)
	if err := disposer.Register(parent, n); err != nil {
		return nil, err
	}
	return n, nil
}

// teardownFor returns the teardown of a constructed instance: the explicit
// one from the binding, else Close if the instance is Disposable.
func teardownFor(v any, explicit func(any) error) func() error {
	if explicit != nil {
		return func() error { return explicit(v) }
	}
	if d, ok := v.(Disposable); ok {
		return d.Close
	}
	return nil
}
