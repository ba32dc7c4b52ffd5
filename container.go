package kernel

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/plugkit/kernel/internal/disposer"
	"github.com/plugkit/kernel/internal/metrics"
	"go.uber.org/zap"
)

// DefaultMaxResolutionDepth bounds nested producer calls unless configured.
const DefaultMaxResolutionDepth = 100

// environment is shared by every container of a kernel.
type environment struct {
	logger   *zap.Logger
	metrics  *metrics.Collector
	maxDepth int
	registry *Registry
}

func defaultEnvironment() *environment {
	return &environment{
		logger:   zap.NewNop(),
		maxDepth: DefaultMaxResolutionDepth,
	}
}

// Container maps keys to producers and caches singleton instances. A
// container falls back to its parent for keys it does not bind, and may
// shadow a parent binding with its own.
type Container struct {
	id     string
	name   string
	level  string
	parent *Container
	node   *Node
	env    *environment

	mu       sync.RWMutex
	bindings map[uuid.UUID]*binding
	seq      int
}

// Binder is anything that owns a container: *Container and *Scope.
type Binder interface {
	bindingContainer() *Container
}

var (
	_ Binder = (*Container)(nil)
	_ Binder = (*Scope)(nil)
	_ Binder = (*Kernel)(nil)
)

// NewContainer creates a standalone container. With a non-nil parent the
// new container resolves unbound keys through parent and is disposed with
// it.
func NewContainer(parent *Container, name string) (*Container, error) {
	env := defaultEnvironment()
	if parent != nil {
		env = parent.env
	}

	c := newContainer(name, "container", parent, disposer.New("container:"+name, nil), env)
	if parent != nil {
		if err := disposer.Register(parent.node, c.node); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newContainer(name, level string, parent *Container, node *Node, env *environment) *Container {
	return &Container{
		id:       uuid.NewString(),
		name:     name,
		level:    level,
		parent:   parent,
		node:     node,
		env:      env,
		bindings: make(map[uuid.UUID]*binding),
	}
}

func (c *Container) bindingContainer() *Container { return c }

func (c *Container) resolution() *resolution {
	return &resolution{c: c, ch: &chain{}}
}

// ID returns the unique identifier of the container.
func (c *Container) ID() string { return c.id }

// Name returns the diagnostic name of the container.
func (c *Container) Name() string { return c.name }

// Parent returns the fallback container, or nil.
func (c *Container) Parent() *Container { return c.parent }

// Node returns the disposal node owning every instance of the container.
func (c *Container) Node() *Node { return c.node }

// IsDisposed reports whether the container is disposing or disposed.
func (c *Container) IsDisposed() bool { return c.node.IsDisposed() }

// Close disposes the container and every instance it owns.
func (c *Container) Close() error {
	return disposer.Dispose(c.node)
}

func (c *Container) disposedError() error {
	return AlreadyDisposedError{Name: c.name, State: c.node.State()}
}

// Bind registers producer under key with the given cardinality. A key can be
// bound once per container; binding a key that a parent container binds
// shadows the parent binding for this container and its children.
//
// Example:
//
//	err := kernel.Bind(scope, ClockKey, func(r kernel.Resolver) (Clock, error) {
//	    return NewSystemClock(), nil
//	}, kernel.Singleton)
func Bind[T any](b Binder, key Key[T], producer Producer[T], cardinality Cardinality, opts ...BindOption) error {
	if key.IsZero() {
		return ErrKeyZero
	}
	if producer == nil {
		return ErrProducerNil
	}
	if !cardinality.IsValid() {
		return CardinalityError{Value: cardinality}
	}

	return b.bindingContainer().add(newBinding(key, producer, cardinality, opts))
}

// BindInstance binds an existing value as a singleton. The value is treated
// like a constructed instance: if it is Disposable the container closes it
// on disposal unless WithoutTeardown is given.
func BindInstance[T any](b Binder, key Key[T], value T, opts ...BindOption) error {
	return Bind(b, key, func(Resolver) (T, error) { return value, nil }, Singleton, opts...)
}

// Unbind removes the local binding of key. A constructed disposable
// singleton of the binding is disposed.
func Unbind[T any](b Binder, key Key[T]) error {
	if key.IsZero() {
		return ErrKeyZero
	}
	return b.bindingContainer().remove(key.ref())
}

// IsBound reports whether key resolves from b, locally or through a parent.
func IsBound[T any](b Binder, key Key[T]) bool {
	c := b.bindingContainer()
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		_, ok := cur.bindings[key.id]
		cur.mu.RUnlock()
		if ok {
			return true
		}
	}
	return false
}

// Preload constructs every NotLazySingleton bound locally, in bind order.
func Preload(b Binder) error {
	c := b.bindingContainer()
	if c.IsDisposed() {
		return c.disposedError()
	}

	c.mu.RLock()
	eager := make([]*binding, 0, len(c.bindings))
	for _, bd := range c.bindings {
		if bd.cardinality == NotLazySingleton {
			eager = append(eager, bd)
		}
	}
	c.mu.RUnlock()

	slices.SortFunc(eager, func(a, b *binding) int { return a.seq - b.seq })

	for _, bd := range eager {
		if _, err := c.instantiate(&chain{}, bd); err != nil {
			return err
		}
	}
	return nil
}

func (c *Container) add(b *binding) error {
	if c.IsDisposed() {
		return c.disposedError()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.bindings[b.key.id]; exists {
		return DuplicateBindingError{Key: b.key.name, Container: c.name}
	}

	c.seq++
	b.seq = c.seq
	c.bindings[b.key.id] = b
	return nil
}

func (c *Container) remove(k keyRef) error {
	c.mu.Lock()
	b, ok := c.bindings[k.id]
	if ok {
		delete(c.bindings, k.id)
	}
	c.mu.Unlock()

	if !ok {
		return UnresolvedKeyError{Key: k.name, Container: c.name}
	}

	b.slot.lock.mu.Lock()
	n := b.slot.node
	b.slot.lock.mu.Unlock()
	if n == nil {
		return nil
	}

	if err := disposer.Dispose(n); err != nil {
		c.env.logger.Error("teardown of unbound instance failed",
			zap.String("key", k.name),
			zap.String("container", c.name),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// lookup finds the binding of k starting at c, returning the container that
// declares it.
func (c *Container) lookup(k keyRef, ch *chain) (*binding, *Container, error) {
	if c.IsDisposed() {
		return nil, nil, c.disposedError()
	}

	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		b := cur.bindings[k.id]
		cur.mu.RUnlock()
		if b != nil {
			return b, cur, nil
		}
	}

	return nil, nil, UnresolvedKeyError{Key: k.name, Container: c.name, Path: ch.path()}
}

// peek returns a constructed singleton without constructing. The first
// container in the chain that binds k decides.
func (c *Container) peek(k keyRef) (any, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		b := cur.bindings[k.id]
		cur.mu.RUnlock()
		if b != nil {
			return b.slot.load()
		}
	}
	return nil, false
}

// instantiate returns the instance of b, constructing it if needed. c is the
// container that declares b.
func (c *Container) instantiate(ch *chain, b *binding) (any, error) {
	if path, cyclic := ch.cycleTo(b.key); cyclic {
		return nil, CircularDependencyError{Path: path}
	}

	if b.cardinality == Transient {
		v, _, err := c.construct(ch, b)
		return v, err
	}

	s := &b.slot
	if v, ok := s.load(); ok {
		return v, nil
	}

	if !ch.acquire(&s.lock) {
		return nil, CircularDependencyError{Path: append(ch.path(), b.key.name)}
	}
	defer ch.release(&s.lock)

	if v, ok := s.load(); ok {
		return v, nil
	}

	v, n, err := c.construct(ch, b)
	if err != nil {
		return nil, err
	}

	s.value = v
	s.node = n
	s.done.Store(true)
	return v, nil
}

// construct runs the producer of b on behalf of c and registers the
// instance for teardown when it has one.
func (c *Container) construct(ch *chain, b *binding) (any, *Node, error) {
	if limit := c.env.maxDepth; limit > 0 && len(ch.stack) >= limit {
		return nil, nil, MaxDepthError{Key: b.key.name, Limit: limit, Path: ch.path()}
	}

	ch.push(b.key)
	start := time.Now()
	v, err := b.call(&resolution{c: c, ch: ch})
	ch.pop()

	c.env.metrics.RecordConstruction(b.cardinality.String(), time.Since(start), err)

	if err != nil {
		c.env.logger.Warn("construction failed",
			zap.String("key", b.key.name),
			zap.String("container", c.name),
			zap.Stringer("cardinality", b.cardinality),
			zap.Error(err),
		)
		return nil, nil, err
	}

	teardown := b.teardownFor(v)
	if teardown == nil {
		if c.IsDisposed() {
			return nil, nil, c.disposedError()
		}
		return v, nil, nil
	}

	n := disposer.New(b.key.name, teardown)
	if err := disposer.Register(c.node, n); err != nil {
		// The container started disposing while the producer ran.
		if terr := teardown(); terr != nil {
			c.env.logger.Error("teardown of late instance failed",
				zap.String("key", b.key.name),
				zap.String("container", c.name),
				zap.Error(terr),
			)
		}
		return nil, nil, c.disposedError()
	}

	return v, n, nil
}

// BindingInfo describes one binding for diagnostics.
type BindingInfo struct {
	Key         string      `json:"key"`
	Cardinality Cardinality `json:"cardinality"`
	Created     bool        `json:"created"`
}

// Bindings returns the local bindings of c in bind order.
func (c *Container) Bindings() []BindingInfo {
	c.mu.RLock()
	bs := make([]*binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		bs = append(bs, b)
	}
	c.mu.RUnlock()

	slices.SortFunc(bs, func(a, b *binding) int { return a.seq - b.seq })

	out := make([]BindingInfo, len(bs))
	for i, b := range bs {
		out[i] = BindingInfo{
			Key:         b.key.name,
			Cardinality: b.cardinality,
			Created:     b.slot.done.Load(),
		}
	}
	return out
}

// preload constructs the local NotLazySingleton bindings among keys.
func (c *Container) preload(keys []keyRef) error {
	for _, k := range keys {
		c.mu.RLock()
		b := c.bindings[k.id]
		c.mu.RUnlock()

		if b == nil || b.cardinality != NotLazySingleton {
			continue
		}
		if _, err := c.instantiate(&chain{}, b); err != nil {
			return err
		}
	}
	return nil
}
