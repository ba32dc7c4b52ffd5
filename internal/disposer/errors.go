package disposer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyDisposed is matched by every AlreadyDisposedError.
	ErrAlreadyDisposed = errors.New("already disposed")

	// ErrDisposalCycle is returned when a node would become its own ancestor.
	ErrDisposalCycle = errors.New("registration would create an ownership cycle")

	// ErrAlreadyParented is returned when a node already has an owner.
	ErrAlreadyParented = errors.New("node already has a parent")

	// ErrNilNode is returned when a nil node is registered.
	ErrNilNode = errors.New("node cannot be nil")
)

var (
	_ error = AlreadyDisposedError{}
	_ error = TeardownError{}
	_ error = DisposalError{}
)

// AlreadyDisposedError indicates a structural mutation or resolution was
// attempted on something that is disposing or disposed.
type AlreadyDisposedError struct {
	Name  string
	State State
}

func (e AlreadyDisposedError) Error() string {
	return fmt.Sprintf("%s is %s", e.Name, strings.ToLower(e.State.String()))
}

func (e AlreadyDisposedError) Is(target error) bool {
	return target == ErrAlreadyDisposed
}

// TeardownError wraps a failing or panicking teardown callback.
type TeardownError struct {
	Name  string
	Cause error
	Panic any
	Stack []byte
}

func (e TeardownError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("teardown of %s panicked: %v", e.Name, e.Panic)
	}
	return fmt.Sprintf("teardown of %s failed: %v", e.Name, e.Cause)
}

func (e TeardownError) Unwrap() error {
	return e.Cause
}

// DisposalError aggregates every teardown failure of one cascade.
type DisposalError struct {
	Name   string
	Errors []error
}

func (e DisposalError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("%s disposal failed: %v", e.Name, e.Errors[0])
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s disposal failed with %d errors:", e.Name, len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("\n  %d. %v", i+1, err))
	}
	return sb.String()
}

func (e DisposalError) Unwrap() []error {
	return e.Errors
}
