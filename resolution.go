package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Resolver resolves keys and extension points. It is implemented by
// *Container, *Scope and *Kernel, and producers receive one that carries the
// current resolution chain so cycles are reported instead of deadlocking.
type Resolver interface {
	ExtensionHost
	resolution() *resolution
}

var (
	_ Resolver = (*Container)(nil)
	_ Resolver = (*Scope)(nil)
	_ Resolver = (*Kernel)(nil)
	_ Resolver = (*resolution)(nil)
)

// chain is one logical resolution: a top-level Get and every nested Get
// made by the producers it triggers.
type chain struct {
	stack []keyRef

	// waitingOn is the lock this chain is blocked on, if any.
	waitingOn atomic.Pointer[ownedMutex]
}

// ownedMutex is a mutex that publishes the chain holding it, so a chain
// about to block can walk the waits-for graph.
type ownedMutex struct {
	mu    sync.Mutex
	owner atomic.Pointer[chain]
}

// acquire locks m for ch and records ch as its owner. It reports false
// without locking when waiting would close a waits-for cycle.
func (ch *chain) acquire(m *ownedMutex) bool {
	if !m.mu.TryLock() {
		ch.waitingOn.Store(m)
		if ch.waitsOnSelf(m) {
			ch.waitingOn.Store(nil)
			return false
		}
		m.mu.Lock()
		ch.waitingOn.Store(nil)
	}
	m.owner.Store(ch)
	return true
}

func (ch *chain) release(m *ownedMutex) {
	m.owner.Store(nil)
	m.mu.Unlock()
}

func (ch *chain) push(k keyRef) { ch.stack = append(ch.stack, k) }

func (ch *chain) pop() { ch.stack = ch.stack[:len(ch.stack)-1] }

func (ch *chain) path() []string {
	out := make([]string, len(ch.stack))
	for i, k := range ch.stack {
		out[i] = k.name
	}
	return out
}

// cycleTo returns the cycle ending in k if k is already on the stack.
func (ch *chain) cycleTo(k keyRef) ([]string, bool) {
	for i, s := range ch.stack {
		if s.id == k.id {
			p := make([]string, 0, len(ch.stack)-i+1)
			for _, e := range ch.stack[i:] {
				p = append(p, e.name)
			}
			return append(p, k.name), true
		}
	}
	return nil, false
}

// waitsOnSelf follows the waits-for graph from m and reports whether it
// leads back to ch.
func (ch *chain) waitsOnSelf(m *ownedMutex) bool {
	for hops := 0; m != nil && hops < 1024; hops++ {
		o := m.owner.Load()
		if o == nil {
			return false
		}
		if o == ch {
			return true
		}
		m = o.waitingOn.Load()
	}
	return false
}

type resolution struct {
	c  *Container
	ch *chain
}

func (r *resolution) resolution() *resolution { return r }

func (r *resolution) get(k keyRef) (v any, err error) {
	c := r.c
	defer func() {
		c.env.metrics.RecordResolution(c.level, err)
	}()

	b, owner, err := c.lookup(k, r.ch)
	if err != nil {
		return nil, err
	}

	return owner.instantiate(r.ch, b)
}

// Get resolves key from r. Singletons are constructed on first request and
// cached in the container that binds them; later calls return the cached
// instance without locking.
//
// Example:
//
//	clock, err := kernel.Get(scope, ClockKey)
func Get[T any](r Resolver, key Key[T]) (T, error) {
	var zero T
	if key.IsZero() {
		return zero, ErrKeyZero
	}

	v, err := r.resolution().get(key.ref())
	if err != nil {
		return zero, err
	}

	return cast[T](v, key.ref(), "binding")
}

// MustGet is like Get but panics if resolution fails.
func MustGet[T any](r Resolver, key Key[T]) T {
	v, err := Get(r, key)
	if err != nil {
		panic(err)
	}
	return v
}

// GetIfCreated returns the singleton bound to key only if it has already
// been constructed. It never constructs and keeps working while the owning
// scope is disposing.
func GetIfCreated[T any](r Resolver, key Key[T]) (T, bool) {
	var zero T
	if key.IsZero() {
		return zero, false
	}

	v, ok := r.resolution().c.peek(key.ref())
	if !ok {
		return zero, false
	}

	t, err := cast[T](v, key.ref(), "binding")
	if err != nil {
		return zero, false
	}
	return t, true
}

func cast[T any](v any, k keyRef, context string) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}

	t, ok := v.(T)
	if !ok {
		return zero, TypeMismatchError{
			Key:      k.name,
			Expected: typeName[T](),
			Actual:   fmt.Sprintf("%T", v),
			Context:  context,
		}
	}
	return t, nil
}
