package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/plugkit/kernel/internal/disposer"
)

// ========================================
// Core Error Values (Sentinel Errors)
// ========================================
// These are matched with errors.Is. The typed errors below wrap or match
// them and carry the context.

var (
	// Resolution errors.
	ErrUnresolved          = errors.New("key not bound")
	ErrCircularDependency  = errors.New("circular dependency")
	ErrMaxDepth            = errors.New("maximum resolution depth exceeded")
	ErrKeyZero             = errors.New("key was not created with NewKey")
	ErrProducerNil         = errors.New("producer cannot be nil")
	ErrScopeNotInContext   = errors.New("no scope in context")
	ErrScopeLevelExhausted = errors.New("module scopes cannot have child scopes")

	// Lifecycle errors, shared with the disposal tree.
	ErrAlreadyDisposed = disposer.ErrAlreadyDisposed
	ErrDisposalCycle   = disposer.ErrDisposalCycle
	ErrAlreadyParented = disposer.ErrAlreadyParented
	ErrNodeNil         = disposer.ErrNilNode

	// Registration errors.
	ErrExtensionIDEmpty = errors.New("extension id cannot be empty")
	ErrListenerNil      = errors.New("listener cannot be nil")
	ErrNoRegistry       = errors.New("no extension registry attached")
	ErrPluginIDEmpty    = errors.New("plugin id cannot be empty")
	ErrPluginLoaded     = errors.New("plugin already loaded")
	ErrPluginNotLoaded  = errors.New("plugin not loaded")
)

var (
	_ error = CardinalityError{}
	_ error = DuplicateBindingError{}
	_ error = UnresolvedKeyError{}
	_ error = CircularDependencyError{}
	_ error = ProducerError{}
	_ error = ProducerPanicError{}
	_ error = MaxDepthError{}
	_ error = TypeMismatchError{}
	_ error = DuplicateExtensionError{}
	_ error = ExtensionConstraintError{}
	_ error = ScopeLevelError{}
	_ error = ModuleError{}
	_ error = PluginError{}
)

// AlreadyDisposedError is returned by any operation on a node, container or
// scope that is disposing or disposed.
type AlreadyDisposedError = disposer.AlreadyDisposedError

// DisposalError aggregates every teardown failure of one cascade.
type DisposalError = disposer.DisposalError

// TeardownError wraps one failing or panicking teardown callback.
type TeardownError = disposer.TeardownError

// IsUnresolved reports whether err means a key has no binding.
func IsUnresolved(err error) bool {
	return errors.Is(err, ErrUnresolved)
}

// IsCircular reports whether err is a circular dependency.
func IsCircular(err error) bool {
	return errors.Is(err, ErrCircularDependency)
}

// IsDisposed reports whether err was caused by a disposed owner.
func IsDisposed(err error) bool {
	return errors.Is(err, ErrAlreadyDisposed)
}

// ========================================
// Typed Errors for Rich Context
// ========================================

// CardinalityError indicates an invalid cardinality value.
type CardinalityError struct {
	Value any
}

func (e CardinalityError) Error() string {
	return fmt.Sprintf("invalid cardinality: %v", e.Value)
}

// DuplicateBindingError indicates a key is already bound in a container.
type DuplicateBindingError struct {
	Key       string
	Container string
}

func (e DuplicateBindingError) Error() string {
	return fmt.Sprintf("key %s already bound in %s (unbind it first, or bind in a child scope to shadow)", e.Key, e.Container)
}

// UnresolvedKeyError indicates no container in the chain binds a key.
type UnresolvedKeyError struct {
	Key       string
	Container string
	// Path is the resolution chain that led to the request, outermost first.
	Path []string
}

func (e UnresolvedKeyError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("key not bound: %s (searched from %s)", e.Key, e.Container))
	if len(e.Path) > 0 {
		b.WriteString(fmt.Sprintf("\n  required by: %s", strings.Join(e.Path, " -> ")))
	}
	return b.String()
}

func (e UnresolvedKeyError) Is(target error) bool {
	return target == ErrUnresolved
}

// CircularDependencyError indicates a key was requested while its own
// construction was in progress.
type CircularDependencyError struct {
	// Path lists the keys of the cycle; the first and last entries are the
	// same key.
	Path []string
}

func (e CircularDependencyError) Error() string {
	var b strings.Builder
	b.WriteString("circular dependency detected:\n\n")

	for i, k := range e.Path {
		b.WriteString("    ")
		b.WriteString(k)
		if i == len(e.Path)-1 {
			b.WriteString(" (cycle)\n")
		} else {
			b.WriteString("\n      ↓\n")
		}
	}

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Resolve one of the dependencies lazily, outside its producer\n")
	b.WriteString("  • Introduce a third binding that both sides depend on\n")
	b.WriteString("  • Use GetIfCreated where an existing instance is enough\n")

	return b.String()
}

func (e CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

// ProducerError wraps an error returned by a producer.
type ProducerError struct {
	Key   string
	Cause error
}

func (e ProducerError) Error() string {
	return fmt.Sprintf("producer for %s failed: %v", e.Key, e.Cause)
}

func (e ProducerError) Unwrap() error {
	return e.Cause
}

// ProducerPanicError indicates a producer panicked. It captures the panic
// value and stack trace for debugging.
type ProducerPanicError struct {
	Key   string
	Panic any
	Stack []byte
}

func (e ProducerPanicError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("producer for %s panicked: %v\n", e.Key, e.Panic))

	b.WriteString("\nTo resolve this:\n")
	b.WriteString("  • Check for nil pointer dereferences in the producer\n")
	b.WriteString("  • Return an error instead of panicking\n")

	if len(e.Stack) > 0 {
		b.WriteString("\nStack trace:\n")
		b.Write(e.Stack)
	}

	return b.String()
}

// MaxDepthError indicates nested producer calls exceeded the configured
// resolution depth.
type MaxDepthError struct {
	Key   string
	Limit int
	Path  []string
}

func (e MaxDepthError) Error() string {
	return fmt.Sprintf("resolving %s exceeded maximum depth %d (chain starts %s)", e.Key, e.Limit, strings.Join(head(e.Path, 5), " -> "))
}

func (e MaxDepthError) Unwrap() error {
	return ErrMaxDepth
}

// TypeMismatchError indicates a stored value does not have the type its key
// promises.
type TypeMismatchError struct {
	Key      string
	Expected string
	Actual   string
	Context  string // "binding", "user data", ...
}

func (e TypeMismatchError) Error() string {
	return fmt.Sprintf("%s %s: expected %s, got %s", e.Context, e.Key, e.Expected, e.Actual)
}

// DuplicateExtensionError indicates an extension ID is already registered
// on a point.
type DuplicateExtensionError struct {
	Point string
	ID    string
}

func (e DuplicateExtensionError) Error() string {
	return fmt.Sprintf("extension %q already registered on %s", e.ID, e.Point)
}

// ExtensionConstraintError describes an order constraint that was dropped
// because it contradicts others. It is logged, never returned to callers of
// Extensions.
type ExtensionConstraintError struct {
	Point string
	From  string
	To    string
	// Path is the existing ordering that the constraint would contradict.
	Path []string
}

func (e ExtensionConstraintError) Error() string {
	msg := fmt.Sprintf("extension point %s: dropped constraint %s before %s", e.Point, e.From, e.To)
	if len(e.Path) > 0 {
		msg += fmt.Sprintf(" (already ordered %s)", strings.Join(e.Path, " -> "))
	}
	return msg
}

// ScopeLevelError indicates a child scope was requested below the last level.
type ScopeLevelError struct {
	Parent string
	Level  Level
}

func (e ScopeLevelError) Error() string {
	return fmt.Sprintf("cannot create a child of %s scope %s", e.Level, e.Parent)
}

func (e ScopeLevelError) Unwrap() error {
	return ErrScopeLevelExhausted
}

// ModuleError wraps errors from module registration.
type ModuleError struct {
	Module string
	Cause  error
}

func (e ModuleError) Error() string {
	return fmt.Sprintf("module %q: %v", e.Module, e.Cause)
}

func (e ModuleError) Unwrap() error {
	return e.Cause
}

// PluginError wraps a failed plugin load or unload.
type PluginError struct {
	Plugin    string
	Operation string // "load", "unload"
	Cause     error
}

func (e PluginError) Error() string {
	return fmt.Sprintf("failed to %s plugin %q: %v", e.Operation, e.Plugin, e.Cause)
}

func (e PluginError) Unwrap() error {
	return e.Cause
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	out := append([]string(nil), s[:n]...)
	return append(out, "...")
}
