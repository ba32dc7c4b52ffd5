package testutil

import (
	"errors"
	"testing"

	"github.com/plugkit/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertResolvable checks that key resolves from r.
func AssertResolvable[T any](t *testing.T, r kernel.Resolver, key kernel.Key[T]) T {
	t.Helper()
	v, err := kernel.Get(r, key)
	require.NoError(t, err, "failed to resolve %s", key)
	return v
}

// AssertUnresolved checks that key has no binding reachable from r.
func AssertUnresolved[T any](t *testing.T, r kernel.Resolver, key kernel.Key[T]) {
	t.Helper()
	_, err := kernel.Get(r, key)
	require.Error(t, err)
	assert.True(t, kernel.IsUnresolved(err), "expected unresolved error, got %v", err)
}

// AssertDisposed checks that err is caused by a disposed owner.
func AssertDisposed(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, kernel.IsDisposed(err), "expected disposed error, got %v", err)
}

// AssertCircularDependency checks that err is a circular dependency error.
func AssertCircularDependency(t *testing.T, err error) kernel.CircularDependencyError {
	t.Helper()
	require.Error(t, err)
	var circ kernel.CircularDependencyError
	require.True(t, errors.As(err, &circ), "expected circular dependency error, got %v", err)
	return circ
}

// AssertErrorType checks that err matches type T.
func AssertErrorType[T error](t *testing.T, err error, msgAndArgs ...interface{}) T {
	t.Helper()
	var target T
	require.ErrorAs(t, err, &target, msgAndArgs...)
	return target
}

// AssertScopeDisposed checks that every operation on s reports disposal.
func AssertScopeDisposed(t *testing.T, s *kernel.Scope) {
	t.Helper()
	assert.True(t, s.IsDisposed(), "scope should be disposed")
	assert.Equal(t, kernel.Disposed, s.State())

	_, err := s.CreateChild("after-dispose")
	if s.Level() != kernel.ModuleLevel {
		AssertDisposed(t, err)
	}
}

// AssertOrder checks the resolved order of a Named extension point.
func AssertOrder(t *testing.T, h kernel.ExtensionHost, point kernel.Key[Named], want ...string) {
	t.Helper()
	if len(want) == 0 {
		assert.Empty(t, kernel.Extensions(h, point))
		assert.Empty(t, kernel.ExtensionIDs(h, point))
		return
	}
	assert.Equal(t, want, IDs(kernel.Extensions(h, point)))
	assert.Equal(t, want, kernel.ExtensionIDs(h, point))
}
