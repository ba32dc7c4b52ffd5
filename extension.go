package kernel

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

// Extension is one contribution to an extension point.
type Extension[T any] struct {
	// ID identifies the extension within its point and is the name other
	// extensions use in order constraints.
	ID string

	// Producer constructs the extension instance on first use.
	Producer Producer[T]

	// Order places the extension relative to its peers.
	Order Order

	// Source is the ID of the contributing plugin, if any.
	Source string
}

// Order holds the placement constraints of an extension. Constraints that
// name unknown peers are ignored until such a peer is added.
type Order struct {
	First  bool     `yaml:"first,omitempty" json:"first,omitempty"`
	Last   bool     `yaml:"last,omitempty" json:"last,omitempty"`
	Before []string `yaml:"before,omitempty" json:"before,omitempty"`
	After  []string `yaml:"after,omitempty" json:"after,omitempty"`
}

// First places an extension ahead of every extension not also pinned first.
func First() Order { return Order{First: true} }

// Last places an extension behind every extension not also pinned last.
func Last() Order { return Order{Last: true} }

// Before orders an extension ahead of the named peers.
func Before(ids ...string) Order { return Order{Before: ids} }

// After orders an extension behind the named peers.
func After(ids ...string) Order { return Order{After: ids} }

// IsZero reports whether the order has no constraints.
func (o Order) IsZero() bool {
	return !o.First && !o.Last && len(o.Before) == 0 && len(o.After) == 0
}

// String renders the order in the form accepted by ParseOrder.
func (o Order) String() string {
	var parts []string
	if o.First {
		parts = append(parts, "first")
	}
	if o.Last {
		parts = append(parts, "last")
	}
	for _, id := range o.Before {
		parts = append(parts, "before "+id)
	}
	for _, id := range o.After {
		parts = append(parts, "after "+id)
	}
	return strings.Join(parts, ", ")
}

// ParseOrder parses a comma separated list of "first", "last",
// "before <id>" and "after <id>" tokens.
//
//	kernel.ParseOrder("after git, before svn")
func ParseOrder(s string) (Order, error) {
	var o Order
	for _, tok := range strings.Split(s, ",") {
		fields := strings.Fields(tok)
		switch {
		case len(fields) == 0:
			continue
		case len(fields) == 1 && strings.EqualFold(fields[0], "first"):
			o.First = true
		case len(fields) == 1 && strings.EqualFold(fields[0], "last"):
			o.Last = true
		case len(fields) == 2 && strings.EqualFold(fields[0], "before"):
			o.Before = append(o.Before, fields[1])
		case len(fields) == 2 && strings.EqualFold(fields[0], "after"):
			o.After = append(o.After, fields[1])
		default:
			return Order{}, fmt.Errorf("invalid order token %q", strings.TrimSpace(tok))
		}
	}
	return o, nil
}

// UnmarshalText implements encoding.TextUnmarshaler using ParseOrder.
func (o *Order) UnmarshalText(text []byte) error {
	parsed, err := ParseOrder(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ExtensionHost gives access to an extension registry: *Registry, *Kernel,
// *Scope, *Container and the Resolver passed to producers all qualify.
type ExtensionHost interface {
	extensionRegistry() *Registry
}

var (
	_ ExtensionHost = (*Registry)(nil)
	_ ExtensionHost = (*Container)(nil)
	_ ExtensionHost = (*Scope)(nil)
	_ ExtensionHost = (*Kernel)(nil)
	_ ExtensionHost = (*resolution)(nil)
)

func (c *Container) extensionRegistry() *Registry { return c.env.registry }

func (r *resolution) extensionRegistry() *Registry { return r.c.env.registry }

// AddExtension contributes ext to point. The resolved order of the point is
// recomputed on the next read; lists returned earlier are unaffected.
func AddExtension[T any](h ExtensionHost, point Key[T], ext Extension[T]) error {
	r := h.extensionRegistry()
	if r == nil {
		return ErrNoRegistry
	}
	if point.IsZero() {
		return ErrKeyZero
	}
	if ext.ID == "" {
		return ErrExtensionIDEmpty
	}
	if ext.Producer == nil {
		return ErrProducerNil
	}

	p := ext.Producer
	return r.add(point.ref(), &descriptor{
		id:     ext.ID,
		source: ext.Source,
		order:  ext.Order,
		produce: func(res Resolver) (any, error) {
			return p(res)
		},
	})
}

// RemoveExtension removes the extension with the given ID from point and
// disposes its instance if it was constructed. It reports whether the
// extension existed.
func RemoveExtension[T any](h ExtensionHost, point Key[T], id string) bool {
	r := h.extensionRegistry()
	if r == nil {
		return false
	}
	return r.removeWhere(point.ref(), func(d *descriptor) bool { return d.id == id }) > 0
}

// RemoveExtensionsBySource removes every extension contributed by source
// from every point and returns how many were removed.
func RemoveExtensionsBySource(h ExtensionHost, source string) int {
	r := h.extensionRegistry()
	if r == nil {
		return 0
	}
	return r.removeBySource(source)
}

// Extensions returns the constructed extensions of point in resolved order.
// The slice is fresh on every call. Extensions whose producer fails are
// logged and left out until the point changes again.
func Extensions[T any](h ExtensionHost, point Key[T]) []T {
	r := h.extensionRegistry()
	if r == nil || point.IsZero() {
		return []T{}
	}

	var caller *chain
	if res, ok := h.(*resolution); ok {
		caller = res.ch
	}

	values := r.resolve(point.ref(), caller)
	out := make([]T, 0, len(values))
	for _, v := range values {
		t, err := cast[T](v, point.ref(), "extension")
		if err != nil {
			r.env.logger.Error("extension has unexpected type", zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out
}

// ExtensionIDs returns the IDs of point in resolved order without
// constructing any extension.
func ExtensionIDs[T any](h ExtensionHost, point Key[T]) []string {
	r := h.extensionRegistry()
	if r == nil {
		return []string{}
	}
	return r.orderIDs(point.ref())
}

// FindExtension returns the first extension of point whose dynamic type is I.
func FindExtension[T, I any](h ExtensionHost, point Key[T]) (I, bool) {
	for _, e := range Extensions(h, point) {
		if i, ok := any(e).(I); ok {
			return i, true
		}
	}
	var zero I
	return zero, false
}

// WriteOrderDOT writes the ordering graph of point in Graphviz DOT format.
func WriteOrderDOT[T any](h ExtensionHost, point Key[T], w io.Writer) error {
	r := h.extensionRegistry()
	if r == nil {
		return ErrNoRegistry
	}
	return r.writeDOT(point.ref(), w)
}

// ExtensionEventKind tells listeners what happened to an extension.
type ExtensionEventKind int

const (
	ExtensionAdded ExtensionEventKind = iota
	ExtensionRemoved
)

// String returns the string representation of the ExtensionEventKind.
func (k ExtensionEventKind) String() string {
	switch k {
	case ExtensionAdded:
		return "added"
	case ExtensionRemoved:
		return "removed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// ExtensionEvent describes one mutation of an extension point.
type ExtensionEvent struct {
	Kind   ExtensionEventKind
	Point  string
	ID     string
	Source string
}

// ExtensionListener observes mutations of an extension point. Listeners run
// after the mutation is visible, outside registry locks.
type ExtensionListener func(ExtensionEvent)

// AddExtensionListener subscribes l to mutations of point. Disposing the
// returned node unsubscribes it; the node is owned by the registry.
func AddExtensionListener[T any](h ExtensionHost, point Key[T], l ExtensionListener) (*Node, error) {
	r := h.extensionRegistry()
	if r == nil {
		return nil, ErrNoRegistry
	}
	if point.IsZero() {
		return nil, ErrKeyZero
	}
	if l == nil {
		return nil, ErrListenerNil
	}
	return r.addListener(point.ref(), l)
}
