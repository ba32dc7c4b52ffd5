package kernel

import (
	"sync"
)

// UserDataHolder carries key-addressed data. *Scope and *Kernel are holders.
type UserDataHolder interface {
	userData() *userData
}

var (
	_ UserDataHolder = (*Scope)(nil)
	_ UserDataHolder = (*Kernel)(nil)
)

type userData struct {
	m sync.Map // uuid.UUID -> any
}

// PutUserData stores v under key, replacing any previous value.
func PutUserData[T any](h UserDataHolder, key Key[T], v T) {
	h.userData().m.Store(key.id, v)
}

// PutUserDataIfAbsent stores v unless key already holds a value, and
// returns the value now stored.
func PutUserDataIfAbsent[T any](h UserDataHolder, key Key[T], v T) T {
	actual, _ := h.userData().m.LoadOrStore(key.id, v)
	t, _ := actual.(T)
	return t
}

// GetUserData returns the value stored under key.
func GetUserData[T any](h UserDataHolder, key Key[T]) (T, bool) {
	var zero T
	v, ok := h.userData().m.Load(key.id)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// RemoveUserData deletes the value stored under key.
func RemoveUserData[T any](h UserDataHolder, key Key[T]) {
	h.userData().m.Delete(key.id)
}
