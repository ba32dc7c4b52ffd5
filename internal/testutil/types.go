package testutil

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/plugkit/kernel"
)

// Common test errors
var (
	ErrTest          = errors.New("test error")
	ErrIntentional   = errors.New("intentional error")
	ErrProducer      = errors.New("producer error")
	ErrDisposal      = errors.New("disposal error")
	ErrAlreadyClosed = errors.New("already closed")
)

// TeardownLog records the order in which things are torn down.
type TeardownLog struct {
	mu      sync.Mutex
	entries []string
}

// Record appends name to the log.
func (l *TeardownLog) Record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, name)
}

// Teardown returns a teardown func that records name.
func (l *TeardownLog) Teardown(name string) func() error {
	return func() error {
		l.Record(name)
		return nil
	}
}

// Entries returns a copy of the log.
func (l *TeardownLog) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]string, len(l.entries))
	copy(result, l.entries)
	return result
}

// TestService is a basic test service
type TestService struct {
	ID        string
	CreatedAt time.Time
	Data      string
}

// NewTestService creates a new test service
func NewTestService() *TestService {
	return &TestService{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Data:      "test",
	}
}

// Clock is a small interface used by scope tests.
type Clock interface {
	Name() string
}

// TestClock implements Clock.
type TestClock struct {
	ID string
}

func (c *TestClock) Name() string { return c.ID }

// TestDisposable is a test type that implements Disposable. If Log is set,
// Close records the ID.
type TestDisposable struct {
	ID           string
	Log          *TeardownLog
	disposeError error
	closed       atomic.Int32
}

func NewTestDisposable(id string, log *TeardownLog) *TestDisposable {
	return &TestDisposable{ID: id, Log: log}
}

func NewTestDisposableWithError(id string, err error) *TestDisposable {
	return &TestDisposable{ID: id, disposeError: err}
}

func (d *TestDisposable) Close() error {
	if d.closed.Add(1) > 1 {
		return ErrAlreadyClosed
	}
	if d.Log != nil {
		d.Log.Record(d.ID)
	}
	return d.disposeError
}

// Closes returns how many times Close was called.
func (d *TestDisposable) Closes() int {
	return int(d.closed.Load())
}

// IsDisposed reports whether Close was called.
func (d *TestDisposable) IsDisposed() bool {
	return d.closed.Load() > 0
}

// Counter counts producer invocations.
type Counter struct {
	n atomic.Int64
}

// Count returns the number of invocations.
func (c *Counter) Count() int {
	return int(c.n.Load())
}

// CountingProducer returns a producer that increments c and then calls
// produce. An optional delay widens race windows in concurrency tests.
func CountingProducer[T any](c *Counter, delay time.Duration, produce func() T) kernel.Producer[T] {
	return func(kernel.Resolver) (T, error) {
		c.n.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return produce(), nil
	}
}

// FailingProducer returns a producer that always fails with err.
func FailingProducer[T any](err error) kernel.Producer[T] {
	return func(kernel.Resolver) (T, error) {
		var zero T
		return zero, err
	}
}

// PanickingProducer returns a producer that panics with v.
func PanickingProducer[T any](v any) kernel.Producer[T] {
	return func(kernel.Resolver) (T, error) {
		panic(v)
	}
}

// Named is an extension type carrying its ID.
type Named struct {
	ID string
}

func (n Named) String() string { return fmt.Sprintf("Named(%s)", n.ID) }

// NamedExtension returns an extension whose instance is Named{ID: id}.
func NamedExtension(id string, order kernel.Order) kernel.Extension[Named] {
	return kernel.Extension[Named]{
		ID:    id,
		Order: order,
		Producer: func(kernel.Resolver) (Named, error) {
			return Named{ID: id}, nil
		},
	}
}

// IDs maps extensions to their IDs.
func IDs(ns []Named) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}
