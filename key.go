package kernel

import (
	"github.com/google/uuid"
)

// Key is a typed, globally unique token. It addresses bindings, extension
// points and user data. Two keys are equal only if one was copied from the
// other; the name is diagnostic and need not be unique.
type Key[T any] struct {
	id   uuid.UUID
	name string
}

// NewKey creates a new key with a fresh identity.
//
// Example:
//
//	var ClockKey = kernel.NewKey[Clock]("clock")
func NewKey[T any](name string) Key[T] {
	return Key[T]{id: uuid.New(), name: name}
}

// ID returns the key identity.
func (k Key[T]) ID() uuid.UUID { return k.id }

// Name returns the diagnostic name.
func (k Key[T]) Name() string { return k.name }

// IsZero reports whether the key was never created with NewKey.
func (k Key[T]) IsZero() bool { return k.id == uuid.Nil }

// String returns the key name, or its identity if unnamed.
func (k Key[T]) String() string {
	if k.name != "" {
		return k.name
	}
	return k.id.String()
}

// keyRef is the untyped view of a key used by internal tables.
type keyRef struct {
	id   uuid.UUID
	name string
}

func (k Key[T]) ref() keyRef { return keyRef{id: k.id, name: k.String()} }
