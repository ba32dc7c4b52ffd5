// Package config holds the kernel configuration and its loader.
//
// Configuration is assembled in priority order: built-in defaults, an
// optional YAML file, optional .env files, and finally KERNEL_* environment
// variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Config is the complete kernel configuration.
type Config struct {
	// Name is used as the process scope name and in log fields.
	Name string `yaml:"name" json:"name"`

	Logging    Logging    `yaml:"logging" json:"logging"`
	Container  Container  `yaml:"container" json:"container"`
	Extensions Extensions `yaml:"extensions" json:"extensions"`
	Metrics    Metrics    `yaml:"metrics" json:"metrics"`
}

// Logging configures the structured logger.
type Logging struct {
	// Level is the log level (debug, info, warn, error). Empty disables logging.
	Level string `yaml:"level" json:"level"`

	// Format is the log format (json, console)
	Format string `yaml:"format" json:"format"`

	// Development enables zap development mode (stack traces on warn).
	Development bool `yaml:"development" json:"development"`
}

// Container configures resolution.
type Container struct {
	// MaxResolutionDepth bounds nested producer calls. Zero disables the check.
	MaxResolutionDepth int `yaml:"maxResolutionDepth" json:"maxResolutionDepth"`
}

// Extensions configures extension ordering.
type Extensions struct {
	ConflictPolicy ConflictPolicy `yaml:"conflictPolicy" json:"conflictPolicy"`
}

// Metrics configures the prometheus collector.
type Metrics struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name: "process",
		Logging: Logging{
			Level:  "",
			Format: "json",
		},
		Container: Container{
			MaxResolutionDepth: 100,
		},
		Extensions: Extensions{
			ConflictPolicy: DropConflicting,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: "kernel",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or console", c.Logging.Format))
	}

	if c.Container.MaxResolutionDepth < 0 {
		errs = append(errs, "container.maxResolutionDepth cannot be negative")
	}

	if !c.Extensions.ConflictPolicy.IsValid() {
		errs = append(errs, fmt.Sprintf("extensions.conflictPolicy %v is invalid", c.Extensions.ConflictPolicy))
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, "metrics.namespace is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// ConflictPolicy decides what happens when extension order constraints
// contradict each other.
type ConflictPolicy int

const (
	// DropConflicting drops each constraint that would close a cycle and
	// keeps the rest.
	DropConflicting ConflictPolicy = iota

	// DeclarationOrder discards every explicit before/after constraint of a
	// point as soon as one conflict is found. first/last pins are kept.
	DeclarationOrder
)

// String returns the string representation of the ConflictPolicy.
func (p ConflictPolicy) String() string {
	switch p {
	case DropConflicting:
		return "drop-conflicting"
	case DeclarationOrder:
		return "declaration-order"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// IsValid checks if the policy is valid.
func (p ConflictPolicy) IsValid() bool {
	return p >= DropConflicting && p <= DeclarationOrder
}

// MarshalText implements encoding.TextMarshaler.
func (p ConflictPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ConflictPolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "drop-conflicting", "dropconflicting", "drop":
		*p = DropConflicting
	case "declaration-order", "declarationorder", "declaration":
		*p = DeclarationOrder
	default:
		return fmt.Errorf("invalid conflict policy: %q", string(text))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p ConflictPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *ConflictPolicy) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	return p.UnmarshalText([]byte(s))
}
