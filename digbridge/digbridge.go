// Package digbridge connects kernel containers with go.uber.org/dig.
//
// Applications that already wire part of their object graph with dig can
// expose dig-built values as kernel bindings, and let dig constructors
// depend on values bound in a kernel scope:
//
//	c := dig.New()
//	_ = c.Provide(NewRepository)
//	_ = digbridge.Provide(c, scope, ConfigKey) // dig sees the kernel's config
//
//	_ = kernel.Bind(scope, RepositoryKey, digbridge.Producer[*Repository](c), kernel.Singleton)
package digbridge

import (
	"fmt"

	"github.com/plugkit/kernel"
	"go.uber.org/dig"
)

// Producer returns a kernel producer that obtains T from c. dig caches
// every value it constructs, so the kernel cardinality only decides how
// often dig is asked.
func Producer[T any](c *dig.Container) kernel.Producer[T] {
	return func(kernel.Resolver) (T, error) {
		var out T
		if err := c.Invoke(func(v T) { out = v }); err != nil {
			var zero T
			return zero, fmt.Errorf("dig: %w", dig.RootCause(err))
		}
		return out, nil
	}
}

// Bind binds key in b to the value of type T that c provides.
func Bind[T any](b kernel.Binder, key kernel.Key[T], c *dig.Container, cardinality kernel.Cardinality, opts ...kernel.BindOption) error {
	return kernel.Bind(b, key, Producer[T](c), cardinality, opts...)
}

// Provide makes the value bound to key in r available to dig constructors
// as a T. The kernel resolves it the first time dig needs it.
func Provide[T any](c *dig.Container, r kernel.Resolver, key kernel.Key[T], opts ...dig.ProvideOption) error {
	return c.Provide(func() (T, error) {
		return kernel.Get(r, key)
	}, opts...)
}
