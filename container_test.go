package kernel_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/plugkit/kernel"
	"github.com/plugkit/kernel/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBind_Get(t *testing.T) {
	t.Parallel()

	t.Run("singleton is cached", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		key := kernel.NewKey[*testutil.TestService]("service")
		var counter testutil.Counter
		require.NoError(t, kernel.Bind(c, key, testutil.CountingProducer(&counter, 0, testutil.NewTestService), kernel.Singleton))

		first := testutil.AssertResolvable(t, c, key)
		second := testutil.AssertResolvable(t, c, key)
		assert.Same(t, first, second)
		assert.Equal(t, 1, counter.Count())
	})

	t.Run("transient is fresh", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		key := kernel.NewKey[*testutil.TestService]("service")
		require.NoError(t, kernel.Bind(c, key, func(kernel.Resolver) (*testutil.TestService, error) {
			return testutil.NewTestService(), nil
		}, kernel.Transient))

		first := testutil.AssertResolvable(t, c, key)
		second := testutil.AssertResolvable(t, c, key)
		assert.NotSame(t, first, second)
	})

	t.Run("producer resolves dependencies", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		nameKey := kernel.NewKey[string]("name")
		greetingKey := kernel.NewKey[string]("greeting")
		require.NoError(t, kernel.BindInstance(c, nameKey, "kernel"))
		require.NoError(t, kernel.Bind(c, greetingKey, func(r kernel.Resolver) (string, error) {
			name, err := kernel.Get(r, nameKey)
			if err != nil {
				return "", err
			}
			return "hello " + name, nil
		}, kernel.Singleton))

		assert.Equal(t, "hello kernel", kernel.MustGet(c, greetingKey))
	})

	t.Run("duplicate binding", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		key := kernel.NewKey[int]("n")
		require.NoError(t, kernel.BindInstance(c, key, 1))

		dup := testutil.AssertErrorType[kernel.DuplicateBindingError](t, kernel.BindInstance(c, key, 2))
		assert.Equal(t, "n", dup.Key)
		assert.Equal(t, 1, kernel.MustGet(c, key))
	})

	t.Run("invalid arguments", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		var zero kernel.Key[int]
		assert.ErrorIs(t, kernel.BindInstance(c, zero, 1), kernel.ErrKeyZero)
		assert.ErrorIs(t, kernel.Bind(c, kernel.NewKey[int]("n"), nil, kernel.Singleton), kernel.ErrProducerNil)
		testutil.AssertErrorType[kernel.CardinalityError](t,
			kernel.Bind(c, kernel.NewKey[int]("n"), func(kernel.Resolver) (int, error) { return 0, nil }, kernel.Cardinality(42)))

		_, err = kernel.Get(c, zero)
		assert.ErrorIs(t, err, kernel.ErrKeyZero)
	})
}

func TestGet_ParentFallbackAndShadowing(t *testing.T) {
	t.Parallel()

	parent, err := kernel.NewContainer(nil, "parent")
	require.NoError(t, err)
	defer parent.Close()

	child, err := kernel.NewContainer(parent, "child")
	require.NoError(t, err)

	key := kernel.NewKey[string]("value")
	onlyParent := kernel.NewKey[string]("only-parent")
	require.NoError(t, kernel.BindInstance(parent, key, "parent"))
	require.NoError(t, kernel.BindInstance(parent, onlyParent, "fallback"))
	require.NoError(t, kernel.BindInstance(child, key, "child"))

	assert.Equal(t, "child", kernel.MustGet(child, key))
	assert.Equal(t, "parent", kernel.MustGet(parent, key))
	assert.Equal(t, "fallback", kernel.MustGet(child, onlyParent))
	assert.True(t, kernel.IsBound(child, onlyParent))

	missing := kernel.NewKey[string]("missing")
	testutil.AssertUnresolved(t, child, missing)
	assert.False(t, kernel.IsBound(child, missing))

	// Disposing the parent cascades to the child.
	require.NoError(t, parent.Close())
	assert.True(t, child.IsDisposed())
}

func TestGet_ParentSingletonResolvesInParent(t *testing.T) {
	t.Parallel()

	parent, err := kernel.NewContainer(nil, "parent")
	require.NoError(t, err)
	defer parent.Close()
	child, err := kernel.NewContainer(parent, "child")
	require.NoError(t, err)

	depKey := kernel.NewKey[string]("dep")
	svcKey := kernel.NewKey[string]("svc")
	require.NoError(t, kernel.BindInstance(parent, depKey, "parent-dep"))
	require.NoError(t, kernel.BindInstance(child, depKey, "child-dep"))
	require.NoError(t, kernel.Bind(parent, svcKey, func(r kernel.Resolver) (string, error) {
		return kernel.Get(r, depKey)
	}, kernel.Singleton))

	// A parent singleton sees the parent's bindings even when first
	// requested through a child.
	assert.Equal(t, "parent-dep", kernel.MustGet(child, svcKey))
	assert.Equal(t, "parent-dep", kernel.MustGet(parent, svcKey))
}

func TestGet_Errors(t *testing.T) {
	t.Parallel()

	t.Run("producer error is wrapped and not cached", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		key := kernel.NewKey[string]("flaky")
		calls := 0
		require.NoError(t, kernel.Bind(c, key, func(kernel.Resolver) (string, error) {
			calls++
			if calls == 1 {
				return "", testutil.ErrProducer
			}
			return "ok", nil
		}, kernel.Singleton))

		_, err = kernel.Get(c, key)
		pErr := testutil.AssertErrorType[kernel.ProducerError](t, err)
		assert.Equal(t, "flaky", pErr.Key)
		assert.ErrorIs(t, err, testutil.ErrProducer)

		_, created := kernel.GetIfCreated(c, key)
		assert.False(t, created)

		assert.Equal(t, "ok", kernel.MustGet(c, key))
		assert.Equal(t, 2, calls)
	})

	t.Run("producer panic is recovered", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		key := kernel.NewKey[int]("panics")
		require.NoError(t, kernel.Bind(c, key, testutil.PanickingProducer[int]("boom"), kernel.Singleton))

		_, err = kernel.Get(c, key)
		pErr := testutil.AssertErrorType[kernel.ProducerPanicError](t, err)
		assert.Equal(t, "boom", pErr.Panic)
		assert.NotEmpty(t, pErr.Stack)
		assert.Contains(t, err.Error(), "To resolve this:")
	})

	t.Run("must get panics", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		assert.Panics(t, func() { kernel.MustGet(c, kernel.NewKey[int]("missing")) })
	})

	t.Run("unresolved dependency names the chain", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		missing := kernel.NewKey[int]("missing")
		outer := kernel.NewKey[int]("outer")
		require.NoError(t, kernel.Bind(c, outer, func(r kernel.Resolver) (int, error) {
			return kernel.Get(r, missing)
		}, kernel.Singleton))

		_, err = kernel.Get(c, outer)
		assert.True(t, kernel.IsUnresolved(err))
		uErr := testutil.AssertErrorType[kernel.UnresolvedKeyError](t, err)
		assert.Equal(t, "missing", uErr.Key)
		assert.Equal(t, []string{"outer"}, uErr.Path)
	})

	t.Run("max depth", func(t *testing.T) {
		t.Parallel()

		f := testutil.NewKernel(t, kernel.WithMaxResolutionDepth(5))

		keys := make([]kernel.Key[int], 10)
		for i := range keys {
			keys[i] = kernel.NewKey[int]("level")
		}
		for i := range keys {
			i := i
			require.NoError(t, kernel.Bind(f.Kernel, keys[i], func(r kernel.Resolver) (int, error) {
				if i == len(keys)-1 {
					return i, nil
				}
				return kernel.Get(r, keys[i+1])
			}, kernel.Singleton))
		}

		_, err := kernel.Get(f.Kernel, keys[0])
		dErr := testutil.AssertErrorType[kernel.MaxDepthError](t, err)
		assert.Equal(t, 5, dErr.Limit)
		assert.ErrorIs(t, err, kernel.ErrMaxDepth)

		// Deep enough from the middle of the chain.
		v, err := kernel.Get(f.Kernel, keys[6])
		require.NoError(t, err)
		assert.Equal(t, 9, v)
	})
}

func TestGet_CircularDependency(t *testing.T) {
	t.Parallel()

	t.Run("same chain", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		a := kernel.NewKey[int]("A")
		b := kernel.NewKey[int]("B")
		require.NoError(t, kernel.Bind(c, a, func(r kernel.Resolver) (int, error) { return kernel.Get(r, b) }, kernel.Singleton))
		require.NoError(t, kernel.Bind(c, b, func(r kernel.Resolver) (int, error) { return kernel.Get(r, a) }, kernel.Singleton))

		_, err = kernel.Get(c, a)
		assert.True(t, kernel.IsCircular(err))
		circ := testutil.AssertCircularDependency(t, err)
		assert.Equal(t, []string{"A", "B", "A"}, circ.Path)
		assert.Contains(t, err.Error(), "(cycle)")
	})

	t.Run("transient self reference", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		self := kernel.NewKey[int]("self")
		require.NoError(t, kernel.Bind(c, self, func(r kernel.Resolver) (int, error) { return kernel.Get(r, self) }, kernel.Transient))

		_, err = kernel.Get(c, self)
		assert.True(t, kernel.IsCircular(err))
	})

	t.Run("across goroutines", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)
		defer c.Close()

		a := kernel.NewKey[int]("A")
		b := kernel.NewKey[int]("B")
		aStarted, bStarted := make(chan struct{}), make(chan struct{})
		var aOnce, bOnce sync.Once

		require.NoError(t, kernel.Bind(c, a, func(r kernel.Resolver) (int, error) {
			aOnce.Do(func() { close(aStarted) })
			<-bStarted
			return kernel.Get(r, b)
		}, kernel.Singleton))
		require.NoError(t, kernel.Bind(c, b, func(r kernel.Resolver) (int, error) {
			bOnce.Do(func() { close(bStarted) })
			<-aStarted
			return kernel.Get(r, a)
		}, kernel.Singleton))

		errs := make(chan error, 2)
		go func() { _, err := kernel.Get(c, a); errs <- err }()
		go func() { _, err := kernel.Get(c, b); errs <- err }()

		for i := 0; i < 2; i++ {
			select {
			case err := <-errs:
				assert.True(t, kernel.IsCircular(err), "expected circular error, got %v", err)
			case <-time.After(5 * time.Second):
				t.Fatal("deadlock: cross-goroutine cycle was not detected")
			}
		}
	})
}

func TestGet_ConcurrentFirstAccess(t *testing.T) {
	t.Parallel()

	c, err := kernel.NewContainer(nil, "root")
	require.NoError(t, err)
	defer c.Close()

	key := kernel.NewKey[*testutil.TestService]("service")
	var counter testutil.Counter
	require.NoError(t, kernel.Bind(c, key, testutil.CountingProducer(&counter, 10*time.Millisecond, testutil.NewTestService), kernel.Singleton))

	const goroutines = 100
	var wg sync.WaitGroup
	results := make(chan *testutil.TestService, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := kernel.Get(c, key)
			if assert.NoError(t, err) {
				results <- v
			}
		}()
	}
	wg.Wait()
	close(results)

	var first *testutil.TestService
	for v := range results {
		if first == nil {
			first = v
		}
		assert.Same(t, first, v)
	}
	assert.Equal(t, 1, counter.Count())
}

func TestGetIfCreated(t *testing.T) {
	t.Parallel()

	parent, err := kernel.NewContainer(nil, "parent")
	require.NoError(t, err)
	defer parent.Close()
	child, err := kernel.NewContainer(parent, "child")
	require.NoError(t, err)

	key := kernel.NewKey[*testutil.TestService]("service")
	var counter testutil.Counter
	require.NoError(t, kernel.Bind(parent, key, testutil.CountingProducer(&counter, 0, testutil.NewTestService), kernel.Singleton))

	_, ok := kernel.GetIfCreated(child, key)
	assert.False(t, ok)
	assert.Equal(t, 0, counter.Count())

	created := kernel.MustGet(parent, key)
	v, ok := kernel.GetIfCreated(child, key)
	assert.True(t, ok)
	assert.Same(t, created, v)

	_, ok = kernel.GetIfCreated(child, kernel.NewKey[int]("missing"))
	assert.False(t, ok)
}

func TestGet_Disposed(t *testing.T) {
	t.Parallel()

	t.Run("resolution after close", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)

		key := kernel.NewKey[int]("n")
		require.NoError(t, kernel.BindInstance(c, key, 1))
		require.NoError(t, c.Close())

		_, err = kernel.Get(c, key)
		testutil.AssertDisposed(t, err)
		testutil.AssertDisposed(t, kernel.BindInstance(c, kernel.NewKey[int]("m"), 2))
		testutil.AssertDisposed(t, kernel.Preload(c))
	})

	t.Run("construction finishing after dispose", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)

		key := kernel.NewKey[*testutil.TestDisposable]("late")
		entered, release := make(chan struct{}), make(chan struct{})
		instance := testutil.NewTestDisposable("late", nil)
		require.NoError(t, kernel.Bind(c, key, func(kernel.Resolver) (*testutil.TestDisposable, error) {
			close(entered)
			<-release
			return instance, nil
		}, kernel.Singleton))

		errs := make(chan error, 1)
		go func() {
			_, err := kernel.Get(c, key)
			errs <- err
		}()

		<-entered
		require.NoError(t, c.Close())
		close(release)

		testutil.AssertDisposed(t, <-errs)
		assert.Equal(t, 1, instance.Closes())
	})
}

func TestDisposableInstances(t *testing.T) {
	t.Parallel()

	t.Run("closed in reverse construction order", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)

		var log testutil.TeardownLog
		keys := []kernel.Key[*testutil.TestDisposable]{
			kernel.NewKey[*testutil.TestDisposable]("a"),
			kernel.NewKey[*testutil.TestDisposable]("b"),
			kernel.NewKey[*testutil.TestDisposable]("c"),
		}
		for _, k := range keys {
			name := k.Name()
			require.NoError(t, kernel.Bind(c, k, func(kernel.Resolver) (*testutil.TestDisposable, error) {
				return testutil.NewTestDisposable(name, &log), nil
			}, kernel.Singleton))
		}

		kernel.MustGet(c, keys[1])
		kernel.MustGet(c, keys[0])
		kernel.MustGet(c, keys[2])

		require.NoError(t, c.Close())
		assert.Equal(t, []string{"c", "a", "b"}, log.Entries())
	})

	t.Run("explicit teardown replaces Close", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)

		var log testutil.TeardownLog
		key := kernel.NewKey[*testutil.TestDisposable]("d")
		d := testutil.NewTestDisposable("d", &log)
		require.NoError(t, kernel.BindInstance(c, key, d, kernel.WithTeardown(func(v *testutil.TestDisposable) error {
			log.Record("explicit " + v.ID)
			return nil
		})))

		kernel.MustGet(c, key)
		require.NoError(t, c.Close())
		assert.Equal(t, []string{"explicit d"}, log.Entries())
		assert.False(t, d.IsDisposed())
	})

	t.Run("without teardown", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)

		key := kernel.NewKey[*testutil.TestDisposable]("d")
		d := testutil.NewTestDisposable("d", nil)
		require.NoError(t, kernel.BindInstance(c, key, d, kernel.WithoutTeardown()))

		kernel.MustGet(c, key)
		require.NoError(t, c.Close())
		assert.False(t, d.IsDisposed())
	})

	t.Run("transients are owned too", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)

		key := kernel.NewKey[*testutil.TestDisposable]("t")
		var made []*testutil.TestDisposable
		require.NoError(t, kernel.Bind(c, key, func(kernel.Resolver) (*testutil.TestDisposable, error) {
			d := testutil.NewTestDisposable("t", nil)
			made = append(made, d)
			return d, nil
		}, kernel.Transient))

		kernel.MustGet(c, key)
		kernel.MustGet(c, key)
		require.NoError(t, c.Close())

		require.Len(t, made, 2)
		for _, d := range made {
			assert.Equal(t, 1, d.Closes())
		}
	})

	t.Run("teardown errors are aggregated", func(t *testing.T) {
		t.Parallel()

		c, err := kernel.NewContainer(nil, "root")
		require.NoError(t, err)

		bad := kernel.NewKey[*testutil.TestDisposable]("bad")
		good := kernel.NewKey[*testutil.TestDisposable]("good")
		goodInstance := testutil.NewTestDisposable("good", nil)
		require.NoError(t, kernel.BindInstance(c, bad, testutil.NewTestDisposableWithError("bad", testutil.ErrDisposal)))
		require.NoError(t, kernel.BindInstance(c, good, goodInstance))
		kernel.MustGet(c, good)
		kernel.MustGet(c, bad)

		err = c.Close()
		dErr := testutil.AssertErrorType[kernel.DisposalError](t, err)
		assert.Len(t, dErr.Errors, 1)
		assert.ErrorIs(t, err, testutil.ErrDisposal)
		assert.True(t, goodInstance.IsDisposed())

		// Second close is a no-op.
		assert.NoError(t, c.Close())
	})
}

func TestPreload(t *testing.T) {
	t.Parallel()

	c, err := kernel.NewContainer(nil, "root")
	require.NoError(t, err)
	defer c.Close()

	var order []string
	bind := func(name string, card kernel.Cardinality) {
		require.NoError(t, kernel.Bind(c, kernel.NewKey[string](name), func(kernel.Resolver) (string, error) {
			order = append(order, name)
			return name, nil
		}, card))
	}
	bind("eager-1", kernel.NotLazySingleton)
	bind("lazy", kernel.Singleton)
	bind("eager-2", kernel.NotLazySingleton)
	bind("transient", kernel.Transient)

	require.NoError(t, kernel.Preload(c))
	assert.Equal(t, []string{"eager-1", "eager-2"}, order)

	require.NoError(t, kernel.Preload(c))
	assert.Len(t, order, 2)

	failing := kernel.NewKey[string]("failing")
	require.NoError(t, kernel.Bind(c, failing, testutil.FailingProducer[string](testutil.ErrIntentional), kernel.NotLazySingleton))
	assert.ErrorIs(t, kernel.Preload(c), testutil.ErrIntentional)
}

func TestUnbind(t *testing.T) {
	t.Parallel()

	c, err := kernel.NewContainer(nil, "root")
	require.NoError(t, err)
	defer c.Close()

	key := kernel.NewKey[*testutil.TestDisposable]("d")
	d := testutil.NewTestDisposable("d", nil)
	require.NoError(t, kernel.BindInstance(c, key, d))
	kernel.MustGet(c, key)

	require.NoError(t, kernel.Unbind(c, key))
	assert.True(t, d.IsDisposed())
	testutil.AssertUnresolved(t, c, key)

	err = kernel.Unbind(c, key)
	assert.True(t, kernel.IsUnresolved(err))

	// The key can be bound again.
	require.NoError(t, kernel.BindInstance(c, key, testutil.NewTestDisposable("d2", nil)))
	assert.Equal(t, "d2", kernel.MustGet(c, key).ID)
}

func TestContainer_Bindings(t *testing.T) {
	t.Parallel()

	c, err := kernel.NewContainer(nil, "root")
	require.NoError(t, err)
	defer c.Close()

	a := kernel.NewKey[int]("a")
	b := kernel.NewKey[int]("b")
	require.NoError(t, kernel.BindInstance(c, a, 1))
	require.NoError(t, kernel.Bind(c, b, func(kernel.Resolver) (int, error) { return 2, nil }, kernel.Transient))
	kernel.MustGet(c, a)

	assert.Equal(t, []kernel.BindingInfo{
		{Key: "a", Cardinality: kernel.Singleton, Created: true},
		{Key: "b", Cardinality: kernel.Transient, Created: false},
	}, c.Bindings())
	assert.NotEmpty(t, c.ID())
	assert.Equal(t, "root", c.Name())
	assert.Nil(t, c.Parent())
}

func TestTypeMismatch(t *testing.T) {
	t.Parallel()

	err := kernel.TypeMismatchError{Key: "k", Expected: "int", Actual: "string", Context: "binding"}
	assert.Equal(t, "binding k: expected int, got string", err.Error())
	assert.False(t, errors.Is(err, kernel.ErrUnresolved))
}
