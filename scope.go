package kernel

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/plugkit/kernel/internal/disposer"
	"go.uber.org/zap"
)

// Scope is one level of the process -> workspace -> module hierarchy. It
// owns a container chained to its parent's container and a disposal root
// registered under its parent's root, so a scope never outlives its parent.
type Scope struct {
	id     string
	name   string
	level  Level
	parent *Scope
	kernel *Kernel

	container *Container
	node      *Node
	last      *Node

	data userData

	mu       sync.Mutex
	children []*Scope
}

func newScope(k *Kernel, parent *Scope, name string, level Level) (*Scope, error) {
	s := &Scope{
		id:     uuid.NewString(),
		name:   name,
		level:  level,
		parent: parent,
		kernel: k,
	}

	s.node = disposer.New("scope:"+name, s.disposed)

	var parentContainer *Container
	if parent != nil {
		parentContainer = parent.container
		if err := disposer.Register(parent.node, s.node); err != nil {
			return nil, err
		}
	}

	// Registered first, so disposed after everything else the scope owns.
	s.last = disposer.New(name+":last", nil)
	if err := disposer.Register(s.node, s.last); err != nil {
		return nil, err
	}

	s.container = newContainer(name, level.String(), parentContainer, s.node, k.env)

	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}

	k.env.metrics.ScopeOpened(level.String())
	k.env.logger.Debug("scope opened",
		zap.String("scope", name),
		zap.String("id", s.id),
		zap.Stringer("level", level),
	)

	return s, nil
}

// disposed is the teardown of the scope root; it runs after everything the
// scope owns is gone.
func (s *Scope) disposed() error {
	if s.parent != nil {
		s.parent.mu.Lock()
		for i, c := range s.parent.children {
			if c == s {
				s.parent.children = append(s.parent.children[:i], s.parent.children[i+1:]...)
				break
			}
		}
		s.parent.mu.Unlock()
	}

	s.kernel.forgetScope(s)
	s.kernel.env.metrics.ScopeClosed(s.level.String())
	s.kernel.env.logger.Debug("scope disposed",
		zap.String("scope", s.name),
		zap.String("id", s.id),
		zap.Stringer("level", s.level),
	)
	return nil
}

func (s *Scope) bindingContainer() *Container { return s.container }

func (s *Scope) resolution() *resolution { return s.container.resolution() }

func (s *Scope) extensionRegistry() *Registry { return s.kernel.registry }

func (s *Scope) userData() *userData { return &s.data }

// ID returns the unique identifier of the scope.
func (s *Scope) ID() string { return s.id }

// Name returns the scope name.
func (s *Scope) Name() string { return s.name }

// Level returns the tier of the scope.
func (s *Scope) Level() Level { return s.level }

// Parent returns the parent scope, nil for the process scope.
func (s *Scope) Parent() *Scope { return s.parent }

// Kernel returns the kernel that created the scope.
func (s *Scope) Kernel() *Kernel { return s.kernel }

// Container returns the scope's container.
func (s *Scope) Container() *Container { return s.container }

// Node returns the disposal root of the scope. Register resources under it
// to tie their lifetime to the scope.
func (s *Scope) Node() *Node { return s.node }

// LastDisposable returns a node that is torn down after every other child
// of the scope.
func (s *Scope) LastDisposable() *Node { return s.last }

// State returns the disposal state of the scope.
func (s *Scope) State() State { return s.node.State() }

// IsDisposed reports whether the scope is disposing or disposed.
func (s *Scope) IsDisposed() bool { return s.node.IsDisposed() }

// Children returns the live child scopes in creation order.
func (s *Scope) Children() []*Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Scope, len(s.children))
	copy(out, s.children)
	return out
}

// CreateChild creates a child scope one level below s.
func (s *Scope) CreateChild(name string) (*Scope, error) {
	return s.kernel.CreateScope(s, name)
}

// Close notifies scope listeners, then disposes the scope and everything it
// owns, child scopes first. Closing a disposed scope is a no-op.
func (s *Scope) Close() error {
	if s.IsDisposed() {
		return nil
	}

	s.notifyClosing(s.kernel.scopeListeners())

	err := disposer.Dispose(s.node)
	s.kernel.env.metrics.RecordTeardown(err)
	if err != nil {
		s.kernel.env.logger.Error("scope teardown failed",
			zap.String("scope", s.name),
			zap.Error(err),
		)
	}
	return err
}

func (s *Scope) notifyClosing(listeners []ScopeListener) {
	for _, c := range s.Children() {
		c.notifyClosing(listeners)
	}
	for _, l := range listeners {
		s.kernel.safeNotify("closing", s, func() { l.ScopeClosing(s) })
	}
}

func (s *Scope) String() string {
	return fmt.Sprintf("%s scope %s", s.level, s.name)
}

// ScopeListener observes scope creation and disposal. Listeners are
// contributed to ScopeListenerPoint like any other extension.
type ScopeListener interface {
	// ScopeOpened is called after a child scope is created and its plugin
	// services are bound.
	ScopeOpened(s *Scope)

	// ScopeClosing is called before a scope starts disposing.
	ScopeClosing(s *Scope)
}

// ScopeListenerPoint is the extension point for ScopeListener.
var ScopeListenerPoint = NewKey[ScopeListener]("kernel.scopeListener")

// ScopeListenerFuncs adapts functions to ScopeListener. Nil fields are
// skipped.
type ScopeListenerFuncs struct {
	Opened  func(*Scope)
	Closing func(*Scope)
}

func (f ScopeListenerFuncs) ScopeOpened(s *Scope) {
	if f.Opened != nil {
		f.Opened(s)
	}
}

func (f ScopeListenerFuncs) ScopeClosing(s *Scope) {
	if f.Closing != nil {
		f.Closing(s)
	}
}

// scopeContextKey is the key for storing the current scope in context.
type scopeContextKey struct{}

// WithScope returns a context carrying s.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

// FromContext gets the scope stored by WithScope.
func FromContext(ctx context.Context) (*Scope, error) {
	s, ok := ctx.Value(scopeContextKey{}).(*Scope)
	if !ok || s == nil {
		return nil, ErrScopeNotInContext
	}

	if s.IsDisposed() {
		return nil, AlreadyDisposedError{Name: s.name, State: s.State()}
	}

	return s, nil
}
