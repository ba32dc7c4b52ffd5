package kernel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Cardinality specifies how many instances a binding produces and when.
type Cardinality int

const (
	// Singleton is constructed on first request and cached in the container
	// that declares the binding.
	Singleton Cardinality = iota

	// NotLazySingleton is a Singleton that Preload constructs eagerly.
	NotLazySingleton

	// Transient is constructed on every request. Disposable transients are
	// still owned by the declaring container.
	Transient
)

// String returns the string representation of the Cardinality.
func (c Cardinality) String() string {
	switch c {
	case Singleton:
		return "Singleton"
	case NotLazySingleton:
		return "NotLazySingleton"
	case Transient:
		return "Transient"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// IsValid checks if the cardinality is valid.
func (c Cardinality) IsValid() bool {
	return c >= Singleton && c <= Transient
}

// MarshalText implements encoding.TextMarshaler.
func (c Cardinality) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cardinality) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "singleton":
		*c = Singleton
	case "notlazysingleton", "not-lazy-singleton", "eager":
		*c = NotLazySingleton
	case "transient":
		*c = Transient
	default:
		return CardinalityError{Value: string(text)}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (c Cardinality) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Cardinality) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	return c.UnmarshalText([]byte(s))
}

// Level is the tier of a scope in the hierarchy.
type Level int

const (
	// ProcessLevel is the root scope created by Initialize.
	ProcessLevel Level = iota

	// WorkspaceLevel scopes are children of the process scope.
	WorkspaceLevel

	// ModuleLevel scopes are children of a workspace scope and cannot have
	// children of their own.
	ModuleLevel
)

// String returns the string representation of the Level.
func (l Level) String() string {
	switch l {
	case ProcessLevel:
		return "process"
	case WorkspaceLevel:
		return "workspace"
	case ModuleLevel:
		return "module"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// IsValid checks if the level is valid.
func (l Level) IsValid() bool {
	return l >= ProcessLevel && l <= ModuleLevel
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "process", "application", "app":
		*l = ProcessLevel
	case "workspace", "project":
		*l = WorkspaceLevel
	case "module":
		*l = ModuleLevel
	default:
		return fmt.Errorf("invalid scope level: %q", string(text))
	}
	return nil
}
