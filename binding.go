package kernel

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync/atomic"
)

// Producer constructs an instance. The Resolver it receives resolves the
// producer's own dependencies and must not be retained after it returns.
type Producer[T any] func(r Resolver) (T, error)

// A BindOption modifies the default behavior of Bind.
type BindOption interface {
	applyBindOption(*bindOptions)
}

type bindOptions struct {
	teardown   func(any) error
	noTeardown bool
}

type bindOptionFunc func(*bindOptions)

func (f bindOptionFunc) applyBindOption(o *bindOptions) { f(o) }

// WithTeardown sets an explicit teardown for instances of the binding. It
// replaces the Close method of Disposable instances.
//
//	kernel.Bind(c, ServerKey, NewServer, kernel.Singleton,
//	    kernel.WithTeardown(func(s *http.Server) error {
//	        return s.Shutdown(context.Background())
//	    }),
//	)
func WithTeardown[T any](fn func(T) error) BindOption {
	return bindOptionFunc(func(o *bindOptions) {
		if fn == nil {
			return
		}
		o.teardown = func(v any) error {
			t, ok := v.(T)
			if !ok {
				return TypeMismatchError{
					Expected: typeName[T](),
					Actual:   fmt.Sprintf("%T", v),
					Context:  "teardown",
				}
			}
			return fn(t)
		}
	})
}

// WithoutTeardown keeps the container from closing instances even when
// they are Disposable. Use it for instances owned elsewhere.
func WithoutTeardown() BindOption {
	return bindOptionFunc(func(o *bindOptions) {
		o.noTeardown = true
	})
}

// binding is the untyped record stored in a container table.
type binding struct {
	key         keyRef
	cardinality Cardinality
	produce     func(r Resolver) (any, error)
	opts        bindOptions
	seq         int

	slot slot
}

// slot caches the singleton instance of a binding.
type slot struct {
	// lock is held by the chain constructing this slot.
	lock ownedMutex

	done  atomic.Bool
	value any
	node  *Node
}

func (s *slot) load() (any, bool) {
	if s.done.Load() {
		return s.value, true
	}
	return nil, false
}

func newBinding[T any](key Key[T], p Producer[T], card Cardinality, opts []BindOption) *binding {
	b := &binding{
		key:         key.ref(),
		cardinality: card,
		produce: func(r Resolver) (any, error) {
			return p(r)
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyBindOption(&b.opts)
		}
	}
	return b
}

// call invokes the producer, converting panics and errors into typed errors.
func (b *binding) call(r Resolver) (any, error) {
	return callProducer(b.key.name, b.produce, r)
}

func callProducer(name string, produce func(Resolver) (any, error), r Resolver) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v = nil
			err = ProducerPanicError{Key: name, Panic: p, Stack: debug.Stack()}
		}
	}()

	v, err = produce(r)
	if err != nil {
		return nil, ProducerError{Key: name, Cause: err}
	}
	return v, nil
}

func (b *binding) teardownFor(v any) func() error {
	if b.opts.noTeardown {
		return nil
	}
	return teardownFor(v, b.opts.teardown)
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}
